// Package sysio is the thin OS-call binding beneath procio's processor
// loop (component C1 in the design notes): opening inheritable pipes,
// launching a child with redirected stdio, creating and driving a kernel
// readiness/completion multiplexer, signalling and reaping children, and
// closing handles. It returns OS errors unchanged — translation into
// procio's sentinel errors happens one layer up.
//
// Everything in this file is platform-independent; sysio_linux.go,
// sysio_darwin.go, and sysio_windows.go each provide a Multiplexer and the
// handful of OS calls that differ.
package sysio

import (
	"sort"
	"strings"
	"time"
)

// EventKind classifies one readiness or completion notification.
type EventKind int

const (
	// EventReadable means the endpoint has bytes waiting (POSIX readiness).
	EventReadable EventKind = iota
	// EventWritable means the endpoint can accept a write (POSIX readiness).
	EventWritable
	// EventReadComplete carries the result of a previously issued
	// overlapped read: N is the byte count, and a count of 0 is treated as
	// end of stream. A read that fails (such as a broken pipe once the
	// child closes its end) arrives as EventClosed instead.
	EventReadComplete
	// EventWriteComplete carries the result of a previously issued
	// overlapped write: N is the byte count actually written.
	EventWriteComplete
	// EventClosed means the endpoint was torn down by the kernel
	// (hang-up, broken pipe, or explicit close from the peer).
	EventClosed
)

// Event is the common shape both multiplexer dialects translate their
// native notifications into. Key identifies which registered endpoint the
// event belongs to; N is only meaningful for the completion kinds. Neither
// dialect sets Closed: end of stream arrives as a zero-byte result or as
// EventClosed.
type Event struct {
	Key    uintptr
	Kind   EventKind
	N      int
	Closed bool
}

// Interest describes what a readiness-based multiplexer should watch an
// endpoint for. Completion-based dialects ignore it — overlapped calls
// are issued explicitly instead of armed ahead of time.
type Interest int

const (
	InterestNone Interest = 0
	InterestRead Interest = 1 << iota
	InterestWrite
)

// Multiplexer is the kernel-facing side of a Processor's event loop. One
// Multiplexer belongs to exactly one Processor for its whole lifetime.
type Multiplexer interface {
	// Register attaches key's endpoint to the multiplexer with the given
	// interest. For completion-based dialects this records the key for
	// BeginRead/BeginWrite bookkeeping but does not arm anything.
	Register(key uintptr, fd uintptr, interest Interest) error

	// Modify changes a previously registered endpoint's interest set.
	Modify(key uintptr, fd uintptr, interest Interest) error

	// Deregister detaches the endpoint. It does not close fd.
	Deregister(key uintptr, fd uintptr) error

	// Wait blocks for at most timeout for one or more events, returning
	// however many fired. A zero timeout polls without blocking.
	Wait(timeout time.Duration) ([]Event, error)

	// Wake interrupts a blocked Wait from another goroutine, used to
	// deliver inbound-queue work (registrations, wantWrite requests)
	// promptly instead of waiting out the poll timeout.
	Wake() error

	// Close releases the multiplexer's own kernel handle. It does not
	// touch endpoints registered with it.
	Close() error
}

// DefaultPollTimeout is the bounded wait used by a Processor's main loop
// when it has no more urgent work, per the design's 100ms default.
const DefaultPollTimeout = 100 * time.Millisecond

// BufferCapacity is the default size of each stream's direct buffer.
const BufferCapacity = 64 * 1024

// SortedEnv orders "KEY=VALUE" pairs by an upper-cased, code-unit
// comparison of the key, per spec.md §6. Only the Windows dialect calls it
// when building its environment block; the POSIX StartProcess passes the
// environment through in the caller's order.
func SortedEnv(env []string) []string {
	out := make([]string, len(env))
	copy(out, env)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToUpper(envKey(out[i])) < strings.ToUpper(envKey(out[j]))
	})
	return out
}

func envKey(kv string) string {
	if idx := strings.IndexByte(kv, '='); idx >= 0 {
		return kv[:idx]
	}
	return kv
}
