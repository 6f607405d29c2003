// Package bledb normalizes BLE UUIDs and resolves well-known Bluetooth SIG
// assigned numbers to human-readable names.
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb) once dashes are removed.
const sigBaseSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	"1800":                             "Generic Access",
	"1801":                             "Generic Attribute",
	"180a":                             "Device Information",
	"180d":                             "Heart Rate",
	"180f":                             "Battery Service",
	"1809":                             "Health Thermometer",
	"181a":                             "Environmental Sensing",
	"1816":                             "Cycling Speed and Cadence",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00":                             "Device Name",
	"2a01":                             "Appearance",
	"2a19":                             "Battery Level",
	"2a1c":                             "Temperature Measurement",
	"2a24":                             "Model Number String",
	"2a29":                             "Manufacturer Name String",
	"2a37":                             "Heart Rate Measurement",
	"2a38":                             "Body Sensor Location",
	"2a39":                             "Heart Rate Control Point",
	"2a6e":                             "Temperature",
	"2a6f":                             "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Descriptor",
	"2902": "Client Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
}

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips braces and a 0x prefix. UUIDs built on the Bluetooth SIG base are
// reduced to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.Trim(u, "{}")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, uuid := range uuids {
		normalized[i] = NormalizeUUID(uuid)
	}
	return normalized
}

// LookupService returns the assigned name of a service, or "" if unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the assigned name of a characteristic, or "" if unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the assigned name of a descriptor, or "" if unknown.
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}
