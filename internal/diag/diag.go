// Package diag is procio's structured event stream: the ambient-stack
// substitute for an external logging library, adapted line-for-line from
// the teacher's internal/logmux.Mux. The processor's event loop must
// never block (spec.md §4.4), so Bus never blocks a publisher either —
// when a subscriber falls behind, events are dropped and a synthesized
// "dropped=N" warning event takes their place instead of backing up the
// channel.
package diag

import (
	"fmt"
	"sync"
	"time"
)

// Level mirrors the handful of severities the teacher's logfmt helpers
// infer from messages.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one diagnostic notification: a processor lifecycle change, a
// handler panic recovery, or a pool-level event.
type Event struct {
	Timestamp time.Time
	PID       int
	Processor int
	Level     Level
	Message   string
	Err       error
}

// Bus fans in events from many processors and delivers them via one
// bounded channel.
type Bus struct {
	out chan Event

	mu    sync.Mutex
	drops map[int]int // keyed by PID, 0 for pool-level events

	subscribed sync.WaitGroup
}

// NewBus constructs a bus backed by a channel of the given size. Size <= 0
// results in a minimally buffered channel of 1.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 1
	}
	return &Bus{
		out:   make(chan Event, size),
		drops: make(map[int]int),
	}
}

// Output exposes the fanned-in event channel.
func (b *Bus) Output() <-chan Event { return b.out }

// Publish delivers evt without blocking. If the output channel is full,
// the event is dropped and counted for later synthesis.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Level == "" {
		evt.Level = LevelInfo
	}
	if !b.flushPending(evt.PID) {
		b.recordDrop(evt.PID)
		return
	}
	if b.trySend(evt) {
		return
	}
	b.recordDrop(evt.PID)
}

// Infof and Errorf are convenience wrappers used throughout the
// processor/pool for lifecycle notifications.
func (b *Bus) Infof(pid, processorID int, format string, args ...any) {
	b.Publish(Event{PID: pid, Processor: processorID, Level: LevelInfo, Message: fmt.Sprintf(format, args...)})
}

func (b *Bus) Errorf(pid, processorID int, err error, format string, args ...any) {
	b.Publish(Event{PID: pid, Processor: processorID, Level: LevelError, Message: fmt.Sprintf(format, args...), Err: err})
}

func (b *Bus) flushPending(pid int) bool {
	for {
		n := b.takeDrops(pid)
		if n == 0 {
			return true
		}
		meta := Event{Timestamp: time.Now(), PID: pid, Level: LevelWarn, Message: fmt.Sprintf("dropped=%d", n)}
		if b.trySend(meta) {
			continue
		}
		b.recordDropN(pid, n)
		return false
	}
}

func (b *Bus) takeDrops(pid int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.drops[pid]
	if n != 0 {
		delete(b.drops, pid)
	}
	return n
}

func (b *Bus) recordDrop(pid int) { b.recordDropN(pid, 1) }

func (b *Bus) recordDropN(pid, n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.drops[pid] += n
	b.mu.Unlock()
}

func (b *Bus) trySend(evt Event) bool {
	select {
	case b.out <- evt:
		return true
	default:
		return false
	}
}

// Close flushes any pending drop markers and closes the output channel.
// Callers must ensure no more Publish calls happen afterward.
func (b *Bus) Close() {
	b.mu.Lock()
	pending := b.drops
	b.drops = make(map[int]int)
	b.mu.Unlock()
	for pid, n := range pending {
		b.trySend(Event{Timestamp: time.Now(), PID: pid, Level: LevelWarn, Message: fmt.Sprintf("dropped=%d", n)})
	}
	close(b.out)
}
