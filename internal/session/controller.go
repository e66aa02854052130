// Package session turns a press-and-hold gesture into a proximity
// connection attempt and exposes the attempt's state to a presentation layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/viciniti/internal/ble"
	"github.com/chaz8081/viciniti/internal/ble/protocol"
)

// DefaultHoldThreshold is how long a press must be held before the radio
// is started.
const DefaultHoldThreshold = 800 * time.Millisecond

// ErrPermissionDenied is returned by StartConnection when the platform
// refuses the Bluetooth grants.
var ErrPermissionDenied = errors.New("session: bluetooth permissions not granted")

// ErrRadioFailed is returned by StartConnection when the state machine
// reached Error while starting. The failure has already been reported
// through the status callback.
var ErrRadioFailed = errors.New("session: radio failed to start")

// Connector is the state machine surface the controller drives. *ble.Machine
// implements it.
type Connector interface {
	SetEventDetails(eventID string, role protocol.Role)
	RequestPermissions(ctx context.Context) (bool, error)
	StartAdvertising(ctx context.Context)
	StartScanning(ctx context.Context)
	Cleanup()
	Status() ble.Status
	Match() (ble.Peer, bool)
	SetOnDeviceFoundCallback(cb func(ble.Peer))
	SetOnStatusChangeCallback(cb func(ble.Status))
}

var _ Connector = (*ble.Machine)(nil)

// Failure is a user-facing problem report.
type Failure struct {
	Title   string
	Message string
	Err     error
}

// Options configures a Controller.
type Options struct {
	EventID       string
	Role          protocol.Role
	HoldThreshold time.Duration

	// OnConnected runs once per session when a match is confirmed.
	OnConnected func(ble.Peer)
	// OnFailure is called for setup failures and Error statuses.
	OnFailure func(Failure)
	// OnStatusChange mirrors every status notification, after the
	// controller has applied it.
	OnStatusChange func(ble.Status)
}

// phase tracks the gesture: idle, armed (pressed, waiting for the hold
// threshold), committed (radio started) and complete (match confirmed).
type phase int

const (
	phaseIdle phase = iota
	phaseArmed
	phaseCommitted
	phaseComplete
)

// Controller owns one connection session at a time.
type Controller struct {
	conn Connector
	opts Options

	mu     sync.Mutex
	phase  phase
	gen    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	fired  bool

	status ble.Status
	peers  []ble.Peer
	errMsg string
}

// New creates a Controller and registers it as conn's observer.
func New(conn Connector, opts Options) *Controller {
	if opts.HoldThreshold <= 0 {
		opts.HoldThreshold = DefaultHoldThreshold
	}
	c := &Controller{conn: conn, opts: opts}
	conn.SetOnDeviceFoundCallback(c.handleDeviceFound)
	conn.SetOnStatusChangeCallback(c.handleStatusChange)
	return c
}

// Press arms the hold timer. The radio is only started if the press lasts
// HoldThreshold. Pressing while armed or connecting does nothing; pressing
// after a completed or failed session first resets to Idle.
func (c *Controller) Press() {
	c.mu.Lock()
	if c.phase == phaseArmed || c.phase == phaseCommitted {
		c.mu.Unlock()
		return
	}
	needReset := c.phase == phaseComplete || c.status != ble.StatusIdle
	c.mu.Unlock()

	if needReset {
		c.stopConnection()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseArmed || c.phase == phaseCommitted {
		return
	}
	c.phase = phaseArmed
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.opts.HoldThreshold, func() { c.commit(gen) })
	slog.Debug("[SESSION] armed", "threshold", c.opts.HoldThreshold)
}

// Release ends the gesture. Before the threshold it cancels without any
// radio activity; after it, an unmatched attempt is stopped. A completed
// session is left as is.
func (c *Controller) Release() {
	c.mu.Lock()
	switch c.phase {
	case phaseArmed:
		c.timer.Stop()
		c.phase = phaseIdle
		c.gen++
		c.mu.Unlock()
		slog.Debug("[SESSION] released before threshold")
		return
	case phaseCommitted:
		c.phase = phaseIdle
		c.gen++
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		slog.Info("[SESSION] released before match, stopping")
		c.stopConnection()
		return
	default:
		c.mu.Unlock()
	}
}

// commit starts the connection once the hold threshold has passed.
func (c *Controller) commit(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.phase != phaseArmed {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.phase = phaseCommitted
	c.cancel = cancel
	c.fired = false
	c.mu.Unlock()

	err := c.StartConnection(ctx, c.opts.EventID, c.opts.Role)
	if err == nil {
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		// Released while starting, or the machine already reported Error
		// (ErrRadioFailed); both were handled.
		c.mu.Unlock()
		return
	}
	c.phase = phaseIdle
	c.status = ble.StatusError
	f := Failure{Title: "Error", Message: MsgStartFailed, Err: err}
	if errors.Is(err, ErrPermissionDenied) {
		c.errMsg = MsgPermissionsNotGranted
		f = Failure{Title: "Permission Required", Message: MsgPermissionsRequired, Err: err}
	} else {
		c.errMsg = MsgStartFailed
	}
	c.mu.Unlock()

	slog.Error("[SESSION] failed to start connection", "error", err)
	c.fail(f)
}

// StartConnection configures the session and starts advertising and
// scanning. Radio failures after this point arrive as status changes; the
// returned error only covers setup.
func (c *Controller) StartConnection(ctx context.Context, eventID string, role protocol.Role) error {
	if eventID == "" {
		return fmt.Errorf("session: start connection: empty event id")
	}
	c.conn.SetEventDetails(eventID, role)

	granted, err := c.conn.RequestPermissions(ctx)
	if err != nil {
		return fmt.Errorf("session: request permissions: %w", err)
	}
	if !granted {
		return ErrPermissionDenied
	}

	slog.Info("[SESSION] starting connection", "event", eventID, "role", role)
	c.conn.StartAdvertising(ctx)
	if c.conn.Status() == ble.StatusError {
		return ErrRadioFailed
	}
	c.conn.StartScanning(ctx)
	return nil
}

// stopConnection returns the state machine and the view to Idle.
func (c *Controller) stopConnection() {
	c.conn.Cleanup()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = ble.StatusIdle
	c.peers = nil
	c.errMsg = ""
}

func (c *Controller) handleDeviceFound(p ble.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.peers {
		if existing.ID == p.ID {
			return
		}
	}
	c.peers = append(c.peers, p)
}

func (c *Controller) handleStatusChange(s ble.Status) {
	c.mu.Lock()
	c.status = s

	switch s {
	case ble.StatusError:
		c.errMsg = MsgConnectionError
		if c.phase == phaseCommitted {
			c.phase = phaseIdle
			c.gen++
		}
		c.mu.Unlock()
		c.notify(s)
		c.fail(Failure{Title: "Connection Error", Message: MsgConnectionError})

	case ble.StatusConnected:
		c.errMsg = ""
		fire := !c.fired && c.phase == phaseCommitted
		if fire {
			c.fired = true
			c.phase = phaseComplete
		}
		c.mu.Unlock()
		c.notify(s)
		if !fire {
			return
		}

		peer, _ := c.conn.Match()
		slog.Info("[SESSION] connection confirmed", "peer", peer.ID, "event", peer.EventID)
		if c.opts.OnConnected != nil {
			c.opts.OnConnected(peer)
		}

	default:
		c.errMsg = ""
		c.mu.Unlock()
		c.notify(s)
	}
}

func (c *Controller) notify(s ble.Status) {
	if c.opts.OnStatusChange != nil {
		c.opts.OnStatusChange(s)
	}
}

func (c *Controller) fail(f Failure) {
	if c.opts.OnFailure != nil {
		c.opts.OnFailure(f)
	}
}

// Close cancels any pending press and releases the radio.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.phase = phaseIdle
	c.gen++
	c.mu.Unlock()

	c.stopConnection()
}
