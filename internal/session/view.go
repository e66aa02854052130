package session

import (
	"fmt"

	"github.com/chaz8081/viciniti/internal/ble"
)

// User-facing messages.
const (
	MsgConnectionError       = "Something went wrong with the Bluetooth connection. Please try again."
	MsgPermissionsNotGranted = "Bluetooth permissions were not granted"
	MsgPermissionsRequired   = "Bluetooth permissions are required for proximity detection."
	MsgStartFailed           = "Failed to start connection. Please try again."
)

// Status returns the status as last observed by the controller.
func (c *Controller) Status() ble.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Peers returns the peers discovered this session, in discovery order.
func (c *Controller) Peers() []ble.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ble.Peer(nil), c.peers...)
}

// Error returns the current error message, or "" when there is none.
func (c *Controller) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// IsConnecting reports whether the radio is scanning or advertising.
func (c *Controller) IsConnecting() bool {
	return c.Status().Active()
}

// StatusText describes s for display.
func StatusText(s ble.Status) string {
	switch s {
	case ble.StatusIdle:
		return "Ready to connect"
	case ble.StatusScanning:
		return "Searching for nearby users..."
	case ble.StatusAdvertising:
		return "Making your device discoverable..."
	case ble.StatusConnected:
		return "Connected successfully!"
	case ble.StatusError:
		return "Connection error. Please try again."
	default:
		return ""
	}
}

// DeviceCountText describes how many peers were found, or "" for none.
func DeviceCountText(n int) string {
	switch {
	case n <= 0:
		return ""
	case n == 1:
		return "Found 1 device nearby"
	default:
		return fmt.Sprintf("Found %d devices nearby", n)
	}
}
