package ble

import (
	"fmt"

	"github.com/chaz8081/viciniti/internal/ble/protocol"
)

// Status is the connection state owned by Machine.
type Status int

const (
	StatusIdle Status = iota
	StatusScanning
	StatusAdvertising
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusScanning:
		return "scanning"
	case StatusAdvertising:
		return "advertising"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Active reports whether a connection attempt is in progress.
func (s Status) Active() bool {
	return s == StatusScanning || s == StatusAdvertising
}

// Peer is a discovered Viciniti instance advertising the local event.
type Peer struct {
	ID      string
	Name    string
	RSSI    int
	EventID string
	Role    protocol.Role
	Handle  any
}
