package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/viciniti/internal/ble"
	"github.com/chaz8081/viciniti/internal/ble/protocol"
)

// fakeRadio is a ble.Radio that reports preset payloads as soon as a scan
// starts and lets tests push more later.
type fakeRadio struct {
	mu        sync.Mutex
	granted     bool
	permErr     error
	advErr      error
	onScan      []string
	handler     ble.ScanHandler
	permCalls   int
	scans       int
	adverts     int
	stopScans   int
	stopAdverts int
}

func newFakeRadio(onScan ...string) *fakeRadio {
	return &fakeRadio{granted: true, onScan: onScan}
}

func (r *fakeRadio) RequestPermissions(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permCalls++
	return r.granted, r.permErr
}

func (r *fakeRadio) StartScan(_ string, handler ble.ScanHandler) error {
	r.mu.Lock()
	r.scans++
	r.handler = handler
	preset := append([]string(nil), r.onScan...)
	r.mu.Unlock()

	for i, payload := range preset {
		handler(ble.ScanEvent{Advertisement: ble.Advertisement{
			ID:   "preset-" + string(rune('a'+i)),
			Data: []byte(payload),
		}})
	}
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopScans++
	return nil
}

func (r *fakeRadio) StartAdvertising(string, []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adverts++
	return r.advErr
}

func (r *fakeRadio) StopAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopAdverts++
	return nil
}

func (r *fakeRadio) discover(id, payload string) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ble.ScanEvent{Advertisement: ble.Advertisement{ID: id, Data: []byte(payload)}})
	}
}

func (r *fakeRadio) fail(err error) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ble.ScanEvent{Err: err})
	}
}

func (r *fakeRadio) counts() (perm, scans, adverts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permCalls, r.scans, r.adverts
}

func (r *fakeRadio) stops() (scans, adverts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopScans, r.stopAdverts
}

// recorder counts controller callbacks.
type recorder struct {
	mu        sync.Mutex
	connected []ble.Peer
	failures  []Failure
}

func (r *recorder) onConnected(p ble.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, p)
}

func (r *recorder) onFailure(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func (r *recorder) snapshot() ([]ble.Peer, []Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ble.Peer(nil), r.connected...), append([]Failure(nil), r.failures...)
}

const testThreshold = 60 * time.Millisecond

func newTestController(radio ble.Radio, role protocol.Role) (*Controller, *recorder) {
	rec := &recorder{}
	c := New(ble.NewMachine(radio), Options{
		EventID:       "E1",
		Role:          role,
		HoldThreshold: testThreshold,
		OnConnected:   rec.onConnected,
		OnFailure:     rec.onFailure,
	})
	return c, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReleaseBeforeThresholdStartsNothing(t *testing.T) {
	radio := newFakeRadio()
	c, rec := newTestController(radio, protocol.RoleParticipant)

	c.Press()
	time.Sleep(testThreshold / 2)
	c.Release()
	time.Sleep(2 * testThreshold)

	perm, scans, adverts := radio.counts()
	if perm != 0 || scans != 0 || adverts != 0 {
		t.Errorf("radio calls perm=%d scans=%d adverts=%d, want none", perm, scans, adverts)
	}
	if got := c.Status(); got != ble.StatusIdle {
		t.Errorf("Status() = %v, want idle", got)
	}
	if connected, failures := rec.snapshot(); len(connected) != 0 || len(failures) != 0 {
		t.Errorf("callbacks connected=%d failures=%d, want none", len(connected), len(failures))
	}
}

func TestHoldPastThresholdConnectsOnce(t *testing.T) {
	radio := newFakeRadio("E1:1")
	c, rec := newTestController(radio, protocol.RoleParticipant)

	c.Press()
	waitFor(t, "connected", func() bool {
		connected, _ := rec.snapshot()
		return len(connected) > 0
	})

	// More matching organizers arrive after the match.
	radio.discover("late-1", "E1:1")
	radio.discover("late-2", "E1:1")
	time.Sleep(20 * time.Millisecond)

	connected, failures := rec.snapshot()
	if len(connected) != 1 {
		t.Fatalf("OnConnected calls = %d, want 1", len(connected))
	}
	if connected[0].ID != "preset-a" || connected[0].Role != protocol.RoleOrganizer {
		t.Errorf("connected peer = %+v, want preset-a organizer", connected[0])
	}
	if len(failures) != 0 {
		t.Errorf("failures = %v, want none", failures)
	}
	if got := c.Status(); got != ble.StatusConnected {
		t.Errorf("Status() = %v, want connected", got)
	}
	if got := len(c.Peers()); got != 3 {
		t.Errorf("Peers() = %d, want 3", got)
	}

	// Releasing after completion leaves the session alone.
	c.Release()
	if got := c.Status(); got != ble.StatusConnected {
		t.Errorf("Status() after release = %v, want connected", got)
	}
}

func TestReleaseAfterCommitStops(t *testing.T) {
	radio := newFakeRadio()
	c, rec := newTestController(radio, protocol.RoleParticipant)

	c.Press()
	waitFor(t, "scanning", func() bool { return c.IsConnecting() })

	c.Release()

	waitFor(t, "idle", func() bool { return c.Status() == ble.StatusIdle })
	time.Sleep(20 * time.Millisecond)
	if c.IsConnecting() {
		t.Error("IsConnecting() should be false after release")
	}
	if connected, _ := rec.snapshot(); len(connected) != 0 {
		t.Errorf("OnConnected calls = %d, want 0", len(connected))
	}
}

func TestRearmAfterCompletion(t *testing.T) {
	radio := newFakeRadio("E1:1")
	c, rec := newTestController(radio, protocol.RoleParticipant)

	for i := 1; i <= 2; i++ {
		c.Press()
		waitFor(t, "connected", func() bool {
			connected, _ := rec.snapshot()
			return len(connected) == i
		})
		c.Release()
	}

	_, scans, _ := radio.counts()
	if scans != 2 {
		t.Errorf("radio scans = %d, want 2", scans)
	}
}

func TestPermissionDeniedSurfacesFailure(t *testing.T) {
	radio := newFakeRadio()
	radio.granted = false
	c, rec := newTestController(radio, protocol.RoleParticipant)

	c.Press()
	waitFor(t, "failure", func() bool {
		_, failures := rec.snapshot()
		return len(failures) > 0
	})

	_, failures := rec.snapshot()
	if !errors.Is(failures[0].Err, ErrPermissionDenied) {
		t.Errorf("failure err = %v, want ErrPermissionDenied", failures[0].Err)
	}
	if failures[0].Message != MsgPermissionsRequired {
		t.Errorf("failure message = %q, want %q", failures[0].Message, MsgPermissionsRequired)
	}
	if got := c.Error(); got != MsgPermissionsNotGranted {
		t.Errorf("Error() = %q, want %q", got, MsgPermissionsNotGranted)
	}
	if got := c.Status(); got != ble.StatusError {
		t.Errorf("Status() = %v, want error", got)
	}
	_, scans, _ := radio.counts()
	if scans != 0 {
		t.Errorf("radio scans = %d, want 0", scans)
	}
}

func TestSetupErrorSurfacesFailure(t *testing.T) {
	radio := newFakeRadio()
	radio.permErr = errors.New("permission dialog crashed")
	c, rec := newTestController(radio, protocol.RoleParticipant)

	c.Press()
	waitFor(t, "failure", func() bool {
		_, failures := rec.snapshot()
		return len(failures) > 0
	})

	_, failures := rec.snapshot()
	if failures[0].Message != MsgStartFailed {
		t.Errorf("failure message = %q, want %q", failures[0].Message, MsgStartFailed)
	}

	// The controller can be armed again; it resets to Idle first.
	radio.mu.Lock()
	radio.permErr = nil
	radio.mu.Unlock()
	c.Press()
	if got := c.Status(); got != ble.StatusIdle {
		t.Errorf("Status() after re-press = %v, want idle", got)
	}
	waitFor(t, "scanning", func() bool { return c.IsConnecting() })
	c.Close()
}

func TestScanErrorSurfacesFailure(t *testing.T) {
	radio := newFakeRadio()
	c, rec := newTestController(radio, protocol.RoleParticipant)

	c.Press()
	waitFor(t, "scan started", func() bool {
		_, scans, _ := radio.counts()
		return scans == 1
	})
	radio.fail(errors.New("adapter powered off"))

	_, failures := rec.snapshot()
	if len(failures) != 1 || failures[0].Message != MsgConnectionError {
		t.Fatalf("failures = %v, want one connection error", failures)
	}
	if got := c.Error(); got != MsgConnectionError {
		t.Errorf("Error() = %q, want %q", got, MsgConnectionError)
	}
	if got := c.Status(); got != ble.StatusError {
		t.Errorf("Status() = %v, want error", got)
	}
	// Advertising went down with the scan.
	if stopScans, stopAdverts := radio.stops(); stopScans < 1 || stopAdverts != 1 {
		t.Errorf("radio stops scans=%d adverts=%d, want >=1/1", stopScans, stopAdverts)
	}
}

func TestAdvertisingFailureStopsSession(t *testing.T) {
	radio := newFakeRadio()
	radio.advErr = errors.New("advertisement rejected")
	c, rec := newTestController(radio, protocol.RoleParticipant)

	c.Press()
	waitFor(t, "failure", func() bool {
		_, failures := rec.snapshot()
		return len(failures) > 0
	})
	time.Sleep(20 * time.Millisecond)

	if _, scans, _ := radio.counts(); scans != 0 {
		t.Errorf("radio scans = %d, want 0 after advertising failed", scans)
	}
	if got := c.Status(); got != ble.StatusError {
		t.Errorf("Status() = %v, want error", got)
	}
	_, failures := rec.snapshot()
	if len(failures) != 1 || failures[0].Message != MsgConnectionError {
		t.Errorf("failures = %v, want one connection error", failures)
	}

	// A matching peer cannot connect a failed session.
	radio.discover("peer-1", "E1:1")
	c.Release()
	if got := c.Status(); got != ble.StatusError {
		t.Errorf("Status() after release = %v, want error", got)
	}
	if connected, _ := rec.snapshot(); len(connected) != 0 {
		t.Errorf("OnConnected calls = %d, want 0", len(connected))
	}

	// Pressing again starts over from Idle.
	radio.mu.Lock()
	radio.advErr = nil
	radio.onScan = []string{"E1:1"}
	radio.mu.Unlock()
	c.Press()
	waitFor(t, "connected", func() bool {
		connected, _ := rec.snapshot()
		return len(connected) == 1
	})
	c.Close()
}

func TestSimulatorSessionConnects(t *testing.T) {
	c, rec := newTestController(ble.NewSimulatedRadio(20*time.Millisecond), protocol.RoleParticipant)
	defer c.Close()

	c.Press()
	waitFor(t, "connected", func() bool {
		connected, _ := rec.snapshot()
		return len(connected) == 1
	})
	if got := len(c.Peers()); got != 1 {
		t.Errorf("Peers() = %d, want 1", got)
	}
}

func TestStartConnectionRejectsEmptyEvent(t *testing.T) {
	c, _ := newTestController(newFakeRadio(), protocol.RoleParticipant)
	if err := c.StartConnection(context.Background(), "", protocol.RoleParticipant); err == nil {
		t.Error("StartConnection() with empty event id should fail")
	}
}

func TestStatusText(t *testing.T) {
	if got := StatusText(ble.StatusScanning); got != "Searching for nearby users..." {
		t.Errorf("StatusText(scanning) = %q", got)
	}
	tests := map[int]string{
		0: "",
		1: "Found 1 device nearby",
		3: "Found 3 devices nearby",
	}
	for n, want := range tests {
		if got := DeviceCountText(n); got != want {
			t.Errorf("DeviceCountText(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestOnStatusChangeSeesAppliedStatus(t *testing.T) {
	radio := newFakeRadio("E1:1")

	var mu sync.Mutex
	var seen []ble.Status
	var c *Controller
	c = New(ble.NewMachine(radio), Options{
		EventID:       "E1",
		Role:          protocol.RoleParticipant,
		HoldThreshold: testThreshold,
		OnStatusChange: func(s ble.Status) {
			if got := c.Status(); got != s {
				t.Errorf("Status() = %v during callback for %v", got, s)
			}
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		},
	})
	defer c.Close()

	c.Press()
	waitFor(t, "connected", func() bool { return c.Status() == ble.StatusConnected })

	mu.Lock()
	defer mu.Unlock()
	want := []ble.Status{ble.StatusAdvertising, ble.StatusScanning, ble.StatusConnected}
	if len(seen) != len(want) {
		t.Fatalf("statuses = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("statuses[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
}
