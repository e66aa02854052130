// Command test-hotkey is a manual test for the hold gesture.
// Run it, then hold Ctrl+Shift+B to see press/release events and whether
// the hold would have passed the connection threshold.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--threshold 800ms]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/viciniti/internal/hotkey"
	"github.com/chaz8081/viciniti/internal/session"
)

func main() {
	threshold := flag.Duration("threshold", session.DefaultHoldThreshold, "hold threshold to report against")
	flag.Parse()

	keys := []string{"ctrl", "shift", "b"}
	fmt.Printf("Listening for Ctrl+Shift+B (threshold %s)...\n", *threshold)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(keys)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		var pressed time.Time
		for ev := range listener.Events() {
			switch ev.Type {
			case hotkey.EventPress:
				pressed = time.Now()
				fmt.Println(">>> PRESS")
			case hotkey.EventRelease:
				held := time.Since(pressed).Round(time.Millisecond)
				if held >= *threshold {
					fmt.Printf("<<< RELEASE after %s (would connect)\n", held)
				} else {
					fmt.Printf("<<< RELEASE after %s (cancelled)\n", held)
				}
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
