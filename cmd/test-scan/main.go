// Command test-scan is a manual test for the radio. It scans for Viciniti
// advertisements and prints each decoded payload.
//
// Usage:
//
//	go run ./cmd/test-scan [--duration 10s] [--radio auto|hardware|simulator] [--advertise E1:0]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chaz8081/viciniti/internal/ble"
	"github.com/chaz8081/viciniti/internal/ble/protocol"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "how long to scan")
	mode := flag.String("radio", ble.ModeAuto, "radio mode: auto, hardware, or simulator")
	advertise := flag.String("advertise", "", "payload to advertise while scanning, e.g. E1:0")
	flag.Parse()

	radio, err := ble.NewRadio(*mode, ble.RadioOptions{SimulatorDelay: time.Second})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	granted, err := radio.RequestPermissions(ctx)
	if err != nil || !granted {
		fmt.Printf("Bluetooth unavailable (granted=%v, err=%v)\n", granted, err)
		os.Exit(1)
	}

	if *advertise != "" {
		if _, err := protocol.Decode([]byte(*advertise)); err != nil {
			fmt.Printf("Error: advertise payload %q: %v\n", *advertise, err)
			os.Exit(1)
		}
		if err := radio.StartAdvertising(ble.ServiceUUID, []byte(*advertise)); err != nil {
			fmt.Printf("Advertising failed: %v\n", err)
		} else {
			fmt.Printf("Advertising %q\n", *advertise)
			defer radio.StopAdvertising()
		}
	}

	var mu sync.Mutex
	seen := make(map[string]bool)
	err = radio.StartScan(ble.ServiceUUID, func(ev ble.ScanEvent) {
		if ev.Err != nil {
			fmt.Printf("Scan error: %v\n", ev.Err)
			cancel()
			return
		}
		adv := ev.Advertisement
		mu.Lock()
		defer mu.Unlock()
		if seen[adv.ID] {
			return
		}
		seen[adv.ID] = true

		p, err := protocol.Decode(adv.Data)
		if err != nil {
			fmt.Printf("  %-40s %4d dBm  malformed payload %q\n", adv.ID, adv.RSSI, adv.Data)
			return
		}
		fmt.Printf("  %-40s %4d dBm  event=%s role=%s\n", adv.ID, adv.RSSI, p.EventID, p.Role)
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Scanning for %s...\n", *duration)
	<-ctx.Done()
	radio.StopScan()

	mu.Lock()
	fmt.Printf("\nDone, %d device(s) seen.\n", len(seen))
	mu.Unlock()
}
