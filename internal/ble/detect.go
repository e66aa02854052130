package ble

import "sync"

var radioHardwarePresent = sync.OnceValue(detectRadioHardware)

// RadioHardwarePresent reports whether the host has a usable BLE
// controller. The check runs once per process.
func RadioHardwarePresent() bool {
	return radioHardwarePresent()
}
