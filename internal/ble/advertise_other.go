//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// The tinygo CoreBluetooth and WinRT backends are central-only, so two
// non-Linux hardware peers can only find each other when one side runs on
// Linux (or the simulator).
func (r *HardwareRadio) startAdvertising(_ bluetooth.UUID, _ []byte) error {
	return ErrAdvertisingUnsupported
}

func (r *HardwareRadio) stopAdvertising() error {
	return nil
}
