package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/viciniti/internal/ble/protocol"
)

// DefaultSimulatorDelay is how long a simulated scan runs before its
// synthetic peer is reported.
const DefaultSimulatorDelay = 2 * time.Second

// SimulatedHandle stands in for the platform scan result so code that
// inspects peers sees the same shape on every host.
type SimulatedHandle struct {
	LocalName        string
	ServiceUUIDs     []string
	TxPowerLevel     int
	MTU              int
	Connectable      bool
	ServiceData      map[string][]byte
	ManufacturerData []byte
}

// SimulatedRadio satisfies Radio without hardware. A scan reports one
// synthetic peer after Delay, advertising the mirror of whatever this radio
// is itself advertising, so a normal start sequence reaches Connected.
type SimulatedRadio struct {
	delay time.Duration

	mu         sync.Mutex
	advertised []byte
	timer      *time.Timer
}

// NewSimulatedRadio creates a simulator; delay <= 0 selects the default.
func NewSimulatedRadio(delay time.Duration) *SimulatedRadio {
	if delay <= 0 {
		delay = DefaultSimulatorDelay
	}
	return &SimulatedRadio{delay: delay}
}

func (s *SimulatedRadio) RequestPermissions(_ context.Context) (bool, error) {
	return true, nil
}

func (s *SimulatedRadio) StartScan(serviceUUID string, handler ScanHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return nil
	}

	var t *time.Timer
	t = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.timer != t {
			s.mu.Unlock()
			return
		}
		adv := s.syntheticPeer(serviceUUID)
		s.mu.Unlock()

		slog.Info("[SIM] synthetic peer discovered", "peer", adv.ID)
		handler(ScanEvent{Advertisement: adv})
	})
	s.timer = t
	slog.Debug("[SIM] scan started", "delay", s.delay)
	return nil
}

// syntheticPeer builds a peer with a fresh identifier (caller must hold mu).
func (s *SimulatedRadio) syntheticPeer(serviceUUID string) Advertisement {
	var data []byte
	if s.advertised != nil {
		mirrored, err := protocol.Mirror(s.advertised)
		if err == nil {
			data = mirrored
		}
	}
	return Advertisement{
		ID:   "simulated-device-" + uuid.NewString(),
		Name: "Simulated Device",
		RSSI: -50,
		Data: data,
		Handle: SimulatedHandle{
			LocalName:        "Simulated",
			ServiceUUIDs:     []string{serviceUUID},
			MTU:              23,
			Connectable:      true,
			ServiceData:      map[string][]byte{},
			ManufacturerData: data,
		},
	}
}

func (s *SimulatedRadio) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return nil
}

func (s *SimulatedRadio) StartAdvertising(_ string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertised = append([]byte(nil), payload...)
	slog.Debug("[SIM] advertising", "payload", string(payload))
	return nil
}

func (s *SimulatedRadio) StopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertised = nil
	return nil
}

// Compile-time check that SimulatedRadio implements Radio.
var _ Radio = (*SimulatedRadio)(nil)
