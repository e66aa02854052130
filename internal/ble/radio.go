// Package ble implements Viciniti's proximity connection: a radio
// abstraction over the platform BLE stack (or a simulator when no hardware
// is present) and the state machine that advertises the local
// (event, role) pair, scans for peers and resolves a confirmed match.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ServiceUUID scopes all scanning and advertising so only Viciniti
// instances discover each other.
const ServiceUUID = "9b15c979-5ae3-4e4c-8dc5-91034580b5a9"

// LocalName is the advertised device name.
const LocalName = "Viciniti"

// DefaultCompanyID is the manufacturer data company identifier the payload
// is carried under (0xFFFF is reserved for testing and internal use).
const DefaultCompanyID uint16 = 0xFFFF

var (
	// ErrRadioUnavailable means no BLE adapter could be used.
	ErrRadioUnavailable = errors.New("ble: radio unavailable")

	// ErrAdvertisingUnsupported means the platform driver cannot broadcast.
	ErrAdvertisingUnsupported = errors.New("ble: advertising not supported on this platform")
)

// Advertisement is a single report from a scan.
type Advertisement struct {
	ID     string // radio identifier (MAC on Linux, CoreBluetooth UUID on macOS)
	Name   string
	RSSI   int
	Data   []byte // manufacturer data carrying the encoded payload, nil if absent
	Handle any    // platform scan result, opaque to the core
}

// ScanEvent carries either an advertisement or a scan error.
type ScanEvent struct {
	Advertisement Advertisement
	Err           error
}

// ScanHandler receives scan events. It may be called from any goroutine.
type ScanHandler func(ScanEvent)

// Radio abstracts the platform BLE stack.
type Radio interface {
	// RequestPermissions obtains whatever grants the platform needs. A
	// denial is reported as false with a nil error.
	RequestPermissions(ctx context.Context) (bool, error)
	// StartScan begins discovering peripherals advertising serviceUUID.
	// Errors after the scan is running are delivered through handler.
	StartScan(serviceUUID string, handler ScanHandler) error
	// StopScan ends the active scan. Safe to call when not scanning.
	StopScan() error
	// StartAdvertising broadcasts serviceUUID with payload as manufacturer data.
	StartAdvertising(serviceUUID string, payload []byte) error
	// StopAdvertising ends the broadcast. Safe to call when not advertising.
	StopAdvertising() error
}

// Radio modes accepted by NewRadio.
const (
	ModeAuto      = "auto"
	ModeHardware  = "hardware"
	ModeSimulator = "simulator"
)

// RadioOptions configures NewRadio.
type RadioOptions struct {
	CompanyID      uint16
	SimulatorDelay time.Duration
}

// NewRadio selects the radio implementation once. In auto mode the
// simulator is used only when no BLE hardware is present.
func NewRadio(mode string, opts RadioOptions) (Radio, error) {
	switch mode {
	case ModeHardware:
		return NewHardwareRadio(opts.CompanyID), nil
	case ModeSimulator:
		return NewSimulatedRadio(opts.SimulatorDelay), nil
	case ModeAuto, "":
		if RadioHardwarePresent() {
			return NewHardwareRadio(opts.CompanyID), nil
		}
		slog.Info("[BLE] no radio hardware detected, using simulator")
		return NewSimulatedRadio(opts.SimulatorDelay), nil
	default:
		return nil, fmt.Errorf("ble: unknown radio mode %q", mode)
	}
}
