// Package device defines the platform-neutral Bluetooth Low Energy central-role
// boundary used by the session manager.
//
// It provides:
//   - Radio and Link interfaces implemented by platform back ends (go-ble)
//   - Advertisement and DiscoveredPeripheral data types
//   - Adapter power/authorization states
//   - The error taxonomy shared by every layer above the radio
//   - UUID validation and normalization helpers
package device
