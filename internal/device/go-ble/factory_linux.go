//go:build linux

package goble

import "github.com/go-ble/ble/linux"

func newPlatformDevice() (Central, error) {
	return linux.NewDevice()
}
