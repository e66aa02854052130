package ble

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/chaz8081/viciniti/internal/ble/protocol"
)

// Machine is the single owner of connection status and the session's
// (event, role) context. Its methods are safe for concurrent use and never
// return errors: failures are reported as StatusError through the status
// callback.
//
// Error ends the session's radio activity: entering it stops scanning and
// advertising, and later starts are ignored until Cleanup.
//
// Callbacks are delivered in event order by whichever goroutine holds the
// delivery turn, never while the internal lock is held, so they may call
// back into the Machine.
type Machine struct {
	radio Radio

	mu      sync.Mutex
	status  Status
	session protocol.Payload
	hasCtx  bool

	scanning     bool
	scanStarting bool
	scanGen      uint64

	advertising bool
	advStarting bool
	advGen      uint64

	seen  map[string]struct{}
	match *Peer

	onDeviceFound  func(Peer)
	onStatusChange func(Status)

	pending  []notification
	draining bool
}

type notification struct {
	peer   *Peer
	status Status
}

// NewMachine creates an idle Machine driving radio.
func NewMachine(radio Radio) *Machine {
	return &Machine{
		radio: radio,
		seen:  make(map[string]struct{}),
	}
}

// SetEventDetails sets the session context used for advertising and
// matching. It has no effect on the radio; callers should stop any running
// session first, since a change applies to every later comparison.
func (m *Machine) SetEventDetails(eventID string, role protocol.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = protocol.Payload{EventID: eventID, Role: role}
	m.hasCtx = eventID != ""
}

// EventDetails returns the current session context.
func (m *Machine) EventDetails() (protocol.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.hasCtx
}

// SetOnDeviceFoundCallback registers the single device-found observer.
func (m *Machine) SetOnDeviceFoundCallback(cb func(Peer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDeviceFound = cb
}

// SetOnStatusChangeCallback registers the single status observer.
func (m *Machine) SetOnStatusChangeCallback(cb func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatusChange = cb
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Match returns the peer that moved the session to Connected.
func (m *Machine) Match() (Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.match == nil {
		return Peer{}, false
	}
	return *m.match, true
}

// RequestPermissions delegates to the radio.
func (m *Machine) RequestPermissions(ctx context.Context) (bool, error) {
	return m.radio.RequestPermissions(ctx)
}

// StartScanning requests permissions and starts scanning for peers. It is a
// no-op while a scan is running or starting, and in Error. A StopScanning or Cleanup
// issued while permissions are pending wins: the scan is never started.
// Cancelling ctx before the scan is running abandons the start silently.
func (m *Machine) StartScanning(ctx context.Context) {
	m.mu.Lock()
	if m.scanning || m.scanStarting || m.status == StatusError || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.scanStarting = true
	m.scanGen++
	gen := m.scanGen
	m.mu.Unlock()

	granted, err := m.radio.RequestPermissions(ctx)

	m.mu.Lock()
	if gen != m.scanGen {
		m.mu.Unlock()
		return
	}
	m.scanStarting = false
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	if err != nil || !granted {
		slog.Error("[BLE] scan permissions not granted", "error", err)
		stopScan, stopAdv := m.fail()
		m.mu.Unlock()
		m.stopRadio(stopScan, stopAdv)
		m.flush()
		return
	}
	m.scanning = true
	m.setStatus(StatusScanning)
	m.mu.Unlock()
	m.flush()

	err = m.radio.StartScan(ServiceUUID, func(ev ScanEvent) {
		m.handleScanEvent(gen, ev)
	})

	m.mu.Lock()
	stale := gen != m.scanGen
	var stopScan, stopAdv bool
	if err != nil && !stale {
		slog.Error("[BLE] start scan failed", "error", err)
		m.scanning = false
		stopScan, stopAdv = m.fail()
	}
	m.mu.Unlock()

	if err == nil && stale {
		// Stopped while the radio was starting; the stop may have reached
		// the radio before the scan did.
		_ = m.radio.StopScan()
	}
	m.stopRadio(stopScan, stopAdv)
	m.flush()
}

// StopScanning stops an active or pending scan. Status returns to Idle
// unless advertising is still running.
func (m *Machine) StopScanning() {
	m.mu.Lock()
	if !m.scanning && !m.scanStarting {
		m.mu.Unlock()
		return
	}
	wasScanning := m.scanning
	m.scanning = false
	m.scanStarting = false
	m.scanGen++
	if !m.advertising && !m.advStarting {
		m.setStatus(StatusIdle)
	}
	m.mu.Unlock()

	if wasScanning {
		if err := m.radio.StopScan(); err != nil {
			slog.Warn("[BLE] stop scan failed", "error", err)
		}
	}
	m.flush()
}

// StartAdvertising broadcasts the session context. It requires
// SetEventDetails and is a no-op while advertising is running or starting,
// and in Error.
func (m *Machine) StartAdvertising(ctx context.Context) {
	m.mu.Lock()
	if m.advertising || m.advStarting || m.status == StatusError || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	if !m.hasCtx {
		m.mu.Unlock()
		slog.Warn("[BLE] advertising requested without event details")
		return
	}
	payload, err := m.session.Encode()
	if err != nil {
		slog.Error("[BLE] encode advertisement", "error", err)
		m.setStatus(StatusError)
		m.mu.Unlock()
		m.flush()
		return
	}
	m.advStarting = true
	m.advGen++
	gen := m.advGen
	m.mu.Unlock()

	granted, err := m.radio.RequestPermissions(ctx)

	m.mu.Lock()
	if gen != m.advGen {
		m.mu.Unlock()
		return
	}
	m.advStarting = false
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	if err != nil || !granted {
		slog.Error("[BLE] advertise permissions not granted", "error", err)
		stopScan, stopAdv := m.fail()
		m.mu.Unlock()
		m.stopRadio(stopScan, stopAdv)
		m.flush()
		return
	}
	m.advertising = true
	m.setStatus(StatusAdvertising)
	m.mu.Unlock()
	m.flush()

	err = m.radio.StartAdvertising(ServiceUUID, payload)

	m.mu.Lock()
	stale := gen != m.advGen
	var stopScan, stopAdv bool
	switch {
	case errors.Is(err, ErrAdvertisingUnsupported):
		slog.Warn("[BLE] advertising unavailable, peers must discover us by other means", "error", err)
	case err != nil && !stale:
		slog.Error("[BLE] start advertising failed", "error", err)
		m.advertising = false
		stopScan, stopAdv = m.fail()
	case err == nil:
		slog.Info("[BLE] advertising", "event", m.session.EventID, "role", m.session.Role)
	}
	m.mu.Unlock()

	if err == nil && stale {
		_ = m.radio.StopAdvertising()
	}
	m.stopRadio(stopScan, stopAdv)
	m.flush()
}

// StopAdvertising stops an active or pending broadcast. Status returns to
// Idle unless scanning is still running.
func (m *Machine) StopAdvertising() {
	m.mu.Lock()
	if !m.advertising && !m.advStarting {
		m.mu.Unlock()
		return
	}
	wasAdvertising := m.advertising
	m.advertising = false
	m.advStarting = false
	m.advGen++
	if !m.scanning && !m.scanStarting {
		m.setStatus(StatusIdle)
	}
	m.mu.Unlock()

	if wasAdvertising {
		if err := m.radio.StopAdvertising(); err != nil {
			slog.Warn("[BLE] stop advertising failed", "error", err)
		}
	}
	m.flush()
}

// Cleanup stops scanning and advertising, forgets discovered peers and the
// session context, and returns to Idle from any state. Safe to call
// repeatedly.
func (m *Machine) Cleanup() {
	m.mu.Lock()
	wasScanning := m.scanning
	wasAdvertising := m.advertising
	m.scanning, m.scanStarting = false, false
	m.advertising, m.advStarting = false, false
	m.scanGen++
	m.advGen++
	m.seen = make(map[string]struct{})
	m.match = nil
	m.session = protocol.Payload{}
	m.hasCtx = false
	m.setStatus(StatusIdle)
	m.mu.Unlock()

	m.stopRadio(wasScanning, wasAdvertising)
	m.flush()
}

// DiscoveredCount returns the number of distinct peers reported this session.
func (m *Machine) DiscoveredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// IsScanning reports whether a scan is running.
func (m *Machine) IsScanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanning
}

// IsAdvertising reports whether the session context is being broadcast.
func (m *Machine) IsAdvertising() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advertising
}

// handleScanEvent processes one radio report for the scan started as gen.
func (m *Machine) handleScanEvent(gen uint64, ev ScanEvent) {
	m.mu.Lock()
	if gen != m.scanGen || !m.scanning {
		m.mu.Unlock()
		return
	}

	if ev.Err != nil {
		if m.match != nil {
			// Already connected; losing the scan does not undo the match.
			m.scanning = false
			m.scanGen++
			m.mu.Unlock()
			slog.Warn("[BLE] scan ended after match", "error", ev.Err)
			_ = m.radio.StopScan()
			return
		}
		slog.Error("[BLE] scan error", "error", ev.Err)
		stopScan, stopAdv := m.fail()
		m.mu.Unlock()
		m.stopRadio(stopScan, stopAdv)
		m.flush()
		return
	}

	adv := ev.Advertisement
	remote, err := protocol.Decode(adv.Data)
	if err != nil {
		m.mu.Unlock()
		slog.Debug("[BLE] ignoring peer with malformed payload", "peer", adv.ID)
		return
	}
	if remote.EventID != m.session.EventID {
		m.mu.Unlock()
		return
	}
	if _, ok := m.seen[adv.ID]; ok {
		m.mu.Unlock()
		return
	}
	m.seen[adv.ID] = struct{}{}

	peer := Peer{
		ID:      adv.ID,
		Name:    adv.Name,
		RSSI:    adv.RSSI,
		EventID: remote.EventID,
		Role:    remote.Role,
		Handle:  adv.Handle,
	}
	m.pending = append(m.pending, notification{peer: &peer})
	slog.Info("[BLE] found peer for event", "peer", peer.ID, "role", peer.Role)

	// The first valid match is terminal; later matches are only reported.
	// Only a running attempt can connect: Error has already stopped the
	// scan, so no report reaches here after it.
	if m.match == nil && m.status.Active() && protocol.Matches(m.session, remote) {
		m.match = &peer
		m.setStatus(StatusConnected)
		slog.Info("[BLE] connected", "peer", peer.ID, "event", peer.EventID)
	}
	m.mu.Unlock()
	m.flush()
}

// fail moves to Error and ends all radio activity (caller must hold mu). It
// reports which radio operations the caller must stop once unlocked.
func (m *Machine) fail() (stopScan, stopAdv bool) {
	stopScan, stopAdv = m.scanning, m.advertising
	m.scanning, m.scanStarting = false, false
	m.advertising, m.advStarting = false, false
	m.scanGen++
	m.advGen++
	m.setStatus(StatusError)
	return stopScan, stopAdv
}

// stopRadio issues the stops reported by fail (caller must not hold mu).
func (m *Machine) stopRadio(stopScan, stopAdv bool) {
	if stopScan {
		if err := m.radio.StopScan(); err != nil {
			slog.Warn("[BLE] stop scan failed", "error", err)
		}
	}
	if stopAdv {
		if err := m.radio.StopAdvertising(); err != nil {
			slog.Warn("[BLE] stop advertising failed", "error", err)
		}
	}
}

// setStatus records a transition and queues its notification (caller must
// hold mu). Repeating the current status is not a transition.
func (m *Machine) setStatus(s Status) {
	if s == m.status {
		return
	}
	m.status = s
	m.pending = append(m.pending, notification{status: s})
}

// flush delivers queued notifications in order. Only one goroutine drains
// at a time; re-entrant calls from callbacks return immediately and their
// notifications are delivered by the outer drain.
func (m *Machine) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.pending) > 0 {
		n := m.pending[0]
		m.pending = m.pending[1:]
		onDevice, onStatus := m.onDeviceFound, m.onStatusChange
		m.mu.Unlock()

		if n.peer != nil {
			if onDevice != nil {
				onDevice(*n.peer)
			}
		} else if onStatus != nil {
			onStatus(n.status)
		}

		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}
