package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// stopRetryInterval paces StopScan retries against a scan that was still
// starting when the stop arrived.
var stopRetryInterval = 50 * time.Millisecond

// scanner is the part of *bluetooth.Adapter the scan path uses. tinygo
// allows one Scan at a time: Scan fails while another is running and
// StopScan fails when none is.
type scanner interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// HardwareRadio wraps tinygo-org/bluetooth. On macOS, device identifiers are
// CoreBluetooth UUIDs rather than MAC addresses.
type HardwareRadio struct {
	adapter   *bluetooth.Adapter
	scanner   scanner
	companyID uint16

	// mu protects the fields below.
	mu       sync.Mutex
	enabled  bool
	scanning bool
	scanGen  uint64
	scanDone chan struct{} // closed once the latest scan has fully ended
}

// NewHardwareRadio creates a radio backed by the default system adapter.
func NewHardwareRadio(companyID uint16) *HardwareRadio {
	if companyID == 0 {
		companyID = DefaultCompanyID
	}
	return &HardwareRadio{
		adapter:   bluetooth.DefaultAdapter,
		scanner:   bluetooth.DefaultAdapter,
		companyID: companyID,
	}
}

// RequestPermissions powers on the adapter. Desktop platforms have no
// separate runtime grant: on macOS the system prompt is raised by Enable
// and a refusal surfaces as an Enable failure, so it is reported as denial.
func (r *HardwareRadio) RequestPermissions(ctx context.Context) (bool, error) {
	r.mu.Lock()
	if r.enabled {
		r.mu.Unlock()
		return true, nil
	}
	r.mu.Unlock()

	// Enable blocks until the stack answers; respect ctx while waiting.
	ch := make(chan error, 1)
	go func() {
		ch <- r.scanner.Enable()
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("ble: enable adapter: %w", ctx.Err())
	case err := <-ch:
		if err != nil {
			slog.Warn("[BLE] adapter enable failed", "error", err)
			return false, nil
		}
	}

	r.mu.Lock()
	r.enabled = true
	r.mu.Unlock()
	return true, nil
}

func (r *HardwareRadio) StartScan(serviceUUID string, handler ScanHandler) error {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}

	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return ErrRadioUnavailable
	}
	if r.scanning {
		r.mu.Unlock()
		return nil
	}
	r.scanning = true
	r.scanGen++
	gen := r.scanGen
	prev := r.scanDone
	done := make(chan struct{})
	r.scanDone = done
	r.mu.Unlock()

	// Scan blocks until StopScan; errors that end it early are reported
	// through the handler.
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if !r.scanCurrent(gen) {
			return
		}

		err := r.scanner.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(uuid) || !r.scanCurrent(gen) {
				return
			}
			handler(ScanEvent{Advertisement: r.advertisement(result)})
		})

		r.mu.Lock()
		stopped := r.scanGen != gen
		if !stopped {
			r.scanning = false
		}
		r.mu.Unlock()

		if err != nil && !stopped {
			handler(ScanEvent{Err: fmt.Errorf("ble: scan: %w", err)})
		}
	}()
	return nil
}

func (r *HardwareRadio) scanCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanGen == gen
}

// advertisement converts a tinygo scan result, extracting our company's
// manufacturer data.
func (r *HardwareRadio) advertisement(result bluetooth.ScanResult) Advertisement {
	var data []byte
	for _, md := range result.ManufacturerData() {
		if md.CompanyID == r.companyID {
			data = md.Data
			break
		}
	}
	return Advertisement{
		ID:     result.Address.String(),
		Name:   result.LocalName(),
		RSSI:   int(result.RSSI),
		Data:   data,
		Handle: result,
	}
}

func (r *HardwareRadio) StopScan() error {
	r.mu.Lock()
	if !r.scanning {
		r.mu.Unlock()
		return nil
	}
	r.scanning = false
	r.scanGen++
	done := r.scanDone
	settled := make(chan struct{})
	r.scanDone = settled
	r.mu.Unlock()

	err := r.scanner.StopScan()
	if err != nil {
		// The scan goroutine may not have reached Scan yet.
		slog.Debug("[BLE] stop scan before scan was running", "error", err)
	}
	go r.settleScan(done, settled, err == nil)
	return nil
}

// settleScan closes settled once the scan behind done has exited. If the
// first StopScan failed, the scan either is skipped or starts late, so
// StopScan is retried until it lands or the goroutine exits. The next scan
// waits for settled, so a retry can only hit the scan being stopped.
func (r *HardwareRadio) settleScan(done <-chan struct{}, settled chan<- struct{}, stopped bool) {
	defer close(settled)
	if !stopped {
		ticker := time.NewTicker(stopRetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			if err := r.scanner.StopScan(); err == nil {
				slog.Debug("[BLE] stopped a scan that was still starting")
				break
			}
		}
	}
	<-done
}

func (r *HardwareRadio) StartAdvertising(serviceUUID string, payload []byte) error {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}
	r.mu.Lock()
	enabled := r.enabled
	r.mu.Unlock()
	if !enabled {
		return ErrRadioUnavailable
	}
	return r.startAdvertising(uuid, payload)
}

func (r *HardwareRadio) StopAdvertising() error {
	return r.stopAdvertising()
}

// Compile-time check that HardwareRadio implements Radio.
var _ Radio = (*HardwareRadio)(nil)
