// Package logevent implements the core's bounded log-event ring (spec.md
// §3 "Log event") and the per-level lipgloss color hint each event
// carries. Grounded on the teacher's channel-fed log pane in
// cmd/cli/main.go (logChan) and the lipgloss styling in internal/cli/ui.
package logevent

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Category groups events by the subsystem that produced them.
type Category string

const (
	CategoryTransport    Category = "transport"
	CategoryWatcher      Category = "watcher"
	CategoryEDL          Category = "edl"
	CategoryMTK          Category = "mtk"
	CategorySPRD         Category = "sprd"
	CategoryADB          Category = "adb"
	CategoryFastboot     Category = "fastboot"
	CategoryOrchestrator Category = "orchestrator"
	CategoryImage        Category = "image"
	CategoryLoader       Category = "loader"
)

// Event is one entry of the bounded log ring. Color is a lipgloss color
// hint a consumer may choose to ignore (e.g. a JSON report writer).
type Event struct {
	Timestamp time.Time
	Level     Level
	Category  Category
	Message   string
	Color     lipgloss.Color
}

func colorFor(level Level) lipgloss.Color {
	switch level {
	case Debug:
		return lipgloss.Color("244") // grey
	case Warn:
		return lipgloss.Color("220") // amber
	case Error:
		return lipgloss.Color("196") // red
	default:
		return lipgloss.Color("42") // green
	}
}

// Style returns a lipgloss style pre-configured with the event's color
// hint, ready for direct rendering in a bubbletea view.
func (e Event) Style() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(e.Color)
}

// Ring is a bounded, monotonic-timestamp log buffer (spec.md: "never
// retained inside the core beyond a bounded ring (≤500 entries)").
type Ring struct {
	mu       sync.Mutex
	cap      int
	events   []Event
	last     time.Time
	subs     []chan Event
}

const defaultCapacity = 500

func NewRing() *Ring {
	return &Ring{cap: defaultCapacity}
}

// Emit appends an event, monotonically advancing its timestamp relative to
// the previous one even if the wall clock goes backwards, and fans it out
// to any channels registered through Subscribe.
func (r *Ring) Emit(level Level, category Category, message string) Event {
	r.mu.Lock()
	now := time.Now()
	if !now.After(r.last) {
		now = r.last.Add(time.Nanosecond)
	}
	r.last = now

	ev := Event{Timestamp: now, Level: level, Category: category, Message: message, Color: colorFor(level)}
	r.events = append(r.events, ev)
	if len(r.events) > r.cap {
		r.events = r.events[len(r.events)-r.cap:]
	}
	subs := append([]chan Event(nil), r.subs...)
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// drop-oldest-with-warning is the watcher mailbox's job
			// (internal/watcher); a full subscriber here just misses
			// this tick rather than blocking the emitter.
		}
	}
	return ev
}

func (r *Ring) Debugf(category Category, format string, args ...any) Event {
	return r.emitf(Debug, category, format, args...)
}
func (r *Ring) Infof(category Category, format string, args ...any) Event {
	return r.emitf(Info, category, format, args...)
}
func (r *Ring) Warnf(category Category, format string, args ...any) Event {
	return r.emitf(Warn, category, format, args...)
}
func (r *Ring) Errorf(category Category, format string, args ...any) Event {
	return r.emitf(Error, category, format, args...)
}

func (r *Ring) emitf(level Level, category Category, format string, args ...any) Event {
	return r.Emit(level, category, fmt.Sprintf(format, args...))
}

// Snapshot returns a copy of the current ring contents, oldest first.
func (r *Ring) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Subscribe registers a channel that receives every future event. The
// channel is never closed by the Ring; callers drop it by discarding the
// reference (best-effort delivery only, matching the watcher's mailbox
// semantics).
func (r *Ring) Subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}
