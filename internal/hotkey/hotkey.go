// Package hotkey provides a global press-and-hold gesture using gohook:
// holding the key combo emits EventPress, letting go emits EventRelease.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType indicates whether the gesture began or ended.
type EventType int

const (
	// EventPress signals that the key combo went down.
	EventPress EventType = iota
	// EventRelease signals that the key combo came up.
	EventRelease
)

func (t EventType) String() string {
	if t == EventPress {
		return "press"
	}
	return "release"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Gesture receives the press and release of a hold gesture.
// *session.Controller implements it.
type Gesture interface {
	Press()
	Release()
}

// Listener manages a global hotkey and emits press/release events.
type Listener struct {
	keys []string
	ch   chan Event
	done chan struct{}
	once sync.Once

	// mu guards held; key repeat delivers KeyDown many times per hold.
	mu   sync.Mutex
	held bool
}

// NewListener creates a Listener for the given key combo.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "b"]).
func NewListener(keys []string) *Listener {
	return &Listener{
		keys: keys,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the channel that receives gesture events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(e hook.Event) {
		l.transition(true)
	})

	hook.Register(hook.KeyUp, l.keys, func(e hook.Event) {
		l.transition(false)
	})

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// transition emits an event when the held state changes.
func (l *Listener) transition(down bool) {
	l.mu.Lock()
	if l.held == down {
		l.mu.Unlock()
		return
	}
	l.held = down
	l.mu.Unlock()

	ev := Event{Type: EventRelease}
	if down {
		ev.Type = EventPress
	}
	select {
	case l.ch <- ev:
	default: // don't block if channel is full
	}
}

// Drive forwards events to g until the channel closes.
func Drive(events <-chan Event, g Gesture) {
	for ev := range events {
		switch ev.Type {
		case EventPress:
			g.Press()
		case EventRelease:
			g.Release()
		}
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
