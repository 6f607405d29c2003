//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/srg/blecentral/internal/device"
)

func newPlatformDevice() (Central, error) {
	return nil, fmt.Errorf("%w: no BLE central support on %s", &device.RadioError{State: device.AdapterUnsupported}, runtime.GOOS)
}
