// Package watcher implements the cooperative device-arrival scan loop of
// spec.md §4.1: a single goroutine polls USB device enumeration at 1 Hz
// (debounced on actual VID/PID-set changes), dedupes by (vid, pid, port),
// and delivers arrive/remove events through a bounded, drop-oldest
// mailbox. Grounded on the detect-then-report shape of
// pkg/hashing/hardware.DeviceDetector.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"mft/internal/logevent"
)

// portPath builds a stable per-port identifier from bus/address/port,
// since gousb exposes the physical port path as a []int rather than a
// single comparable value.
func portPath(desc *gousb.DeviceDesc) string {
	return fmt.Sprintf("%d-%d-%v", desc.Bus, desc.Address, desc.Port)
}

// EventKind distinguishes device arrival from removal.
type EventKind int

const (
	EventArrive EventKind = iota
	EventRemove
)

// DeviceKey identifies one physical device across poll cycles.
type DeviceKey struct {
	VID, PID gousb.ID
	Port     string // bus/address path, stable across polls for the same physical port
}

// Event is one watcher mailbox item.
type Event struct {
	Kind EventKind
	Key  DeviceKey
	Device Kind // vendor/protocol classification
}

const mailboxCap = 64

// Watcher runs a single-goroutine scan loop and exposes a bounded,
// drop-oldest-with-warning event channel.
type Watcher struct {
	log      *logevent.Ring
	interval time.Duration

	mu      sync.Mutex
	current map[DeviceKey]Kind
	events  chan Event

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Watcher; call Start to begin scanning.
func New(log *logevent.Ring) *Watcher {
	return &Watcher{
		log:      log,
		interval: time.Second,
		current:  make(map[DeviceKey]Kind),
		events:   make(chan Event, mailboxCap),
		done:     make(chan struct{}),
	}
}

// Events returns the channel Start delivers arrive/remove events on.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start begins the scan loop in its own goroutine; Stop ends it.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(ctx)
}

// Stop ends the scan loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanOnce()
		}
	}
}

// Snapshot performs one immediate scan and returns every currently
// attached device's classification, without touching the event mailbox
// or the Start/Stop poll loop. Used by one-shot CLI verbs ("adb devices",
// "doctor") that don't want a running watcher.
func (w *Watcher) Snapshot() map[DeviceKey]Kind {
	w.scanOnce()
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[DeviceKey]Kind, len(w.current))
	for k, v := range w.current {
		out[k] = v
	}
	return out
}

func (w *Watcher) scanOnce() {
	gctx := gousb.NewContext()
	defer gctx.Close()

	seen := make(map[DeviceKey]Kind)
	_, _ = gctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		port := portPath(desc)
		key := DeviceKey{VID: desc.Vendor, PID: desc.Product, Port: port}
		kind := ClassifyVIDPID(desc.Vendor, desc.Product)
		if kind == KindUnknown {
			for _, cfg := range desc.Configs {
				for _, intf := range cfg.Interfaces {
					for _, alt := range intf.AltSettings {
						if k := ClassifyInterface(uint8(alt.Class), uint8(alt.SubClass), uint8(alt.Protocol)); k != KindUnknown {
							kind = k
						}
					}
				}
			}
		}
		seen[key] = kind
		return false // never actually open; we only need descriptors
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	for key, kind := range seen {
		if _, existed := w.current[key]; !existed {
			w.deliver(Event{Kind: EventArrive, Key: key, Device: kind})
		}
	}
	for key, kind := range w.current {
		if _, stillThere := seen[key]; !stillThere {
			w.deliver(Event{Kind: EventRemove, Key: key, Device: kind})
		}
	}
	w.current = seen
}

// deliver drops the oldest queued event (with a log warning) rather than
// block the scan loop, per spec.md's bounded-mailbox requirement.
func (w *Watcher) deliver(ev Event) {
	select {
	case w.events <- ev:
		return
	default:
	}
	select {
	case <-w.events:
		if w.log != nil {
			w.log.Warnf(logevent.CategoryWatcher, "mailbox full, dropped oldest event")
		}
	default:
	}
	select {
	case w.events <- ev:
	default:
	}
}
