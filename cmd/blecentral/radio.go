package main

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	goble "github.com/srg/blecentral/internal/device/go-ble"
)

// newRadio creates the platform radio. Tests replace it with a fake.
var newRadio = func(logger *logrus.Logger) device.Radio {
	return goble.NewRadio(logger)
}
