//go:build linux

package ble

import "os"

// detectRadioHardware looks for registered HCI controllers. Containers and
// VMs without a passed-through adapter have an empty (or missing) class dir.
func detectRadioHardware() bool {
	entries, err := os.ReadDir("/sys/class/bluetooth")
	if err != nil {
		return false
	}
	return len(entries) > 0
}
