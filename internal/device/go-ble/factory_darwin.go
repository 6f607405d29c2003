//go:build darwin

package goble

import "github.com/go-ble/ble/darwin"

func newPlatformDevice() (Central, error) {
	return darwin.NewDevice()
}
