//go:build linux

package ble

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// startAdvertising registers a BlueZ advertisement carrying the payload as
// manufacturer data.
func (r *HardwareRadio) startAdvertising(uuid bluetooth.UUID, payload []byte) error {
	adv := r.adapter.DefaultAdvertisement()
	err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    LocalName,
		ServiceUUIDs: []bluetooth.UUID{uuid},
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: r.companyID, Data: payload},
		},
	})
	if err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertisement: %w", err)
	}
	return nil
}

func (r *HardwareRadio) stopAdvertising() error {
	if err := r.adapter.DefaultAdvertisement().Stop(); err != nil {
		return fmt.Errorf("ble: stop advertisement: %w", err)
	}
	return nil
}
