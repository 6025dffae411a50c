package procio

import (
	"os"
	"sync"

	"github.com/lattice-run/procio/internal/sysio"
)

// streamKind identifies which of a process's three standard streams a
// pipeBundle belongs to.
type streamKind int

const (
	streamStdin streamKind = iota
	streamStdout
	streamStderr
)

// pipeBundle is component C2: the passive state container for one end of
// one stream. It performs no I/O itself — the owning Processor reads and
// mutates it from its own goroutine, except for enqueueWrite which is
// safe to call from any goroutine.
type pipeBundle struct {
	kind   streamKind
	file   *os.File // parent-side endpoint
	fd     uintptr
	buf    *Buffer
	closed bool
	// registered reports whether the endpoint is currently attached to
	// the owning processor's multiplexer.
	registered bool

	// write pipeline state (stdin only); see spec.md §4.4.
	writeMu        sync.Mutex
	pendingWrites  [][]byte
	pendingChunk   []byte // the chunk currently being drained to the OS
	remainingWrite int
	writeOffset    int
	writeInFlight  bool // windows dialect only: an overlapped WriteFile is outstanding

	// windows-only: outstanding overlapped op bookkeeping lives in
	// internal/sysio's overlappedOp, not here, since the completion dialect
	// keys off the operation rather than the endpoint (see
	// internal/sysio/sysio_windows.go).
}

func newPipeBundle(kind streamKind, f *os.File, capacity int) *pipeBundle {
	return &pipeBundle{
		kind: kind,
		file: f,
		fd:   f.Fd(),
		buf:  newBuffer(capacity),
	}
}

// enqueueWrite appends src to the pending-write FIFO. Safe to call
// concurrently with the owning processor; ordering across concurrent
// callers is serialized by writeMu, satisfying the FIFO invariant in
// spec.md §8.
func (pb *pipeBundle) enqueueWrite(src []byte) {
	pb.writeMu.Lock()
	pb.pendingWrites = append(pb.pendingWrites, src)
	pb.writeMu.Unlock()
}

func (pb *pipeBundle) dequeueWrite() ([]byte, bool) {
	pb.writeMu.Lock()
	defer pb.writeMu.Unlock()
	if len(pb.pendingWrites) == 0 {
		return nil, false
	}
	src := pb.pendingWrites[0]
	pb.pendingWrites = pb.pendingWrites[1:]
	return src, true
}

// hasPendingWrites reports whether any source buffer is still queued or a
// partial direct-buffer write is still in flight.
func (pb *pipeBundle) hasPendingWrites() bool {
	pb.writeMu.Lock()
	n := len(pb.pendingWrites)
	pb.writeMu.Unlock()
	return n > 0 || pb.remainingWrite > 0
}

// markClosed flips the closed flag. Idempotent per spec.md §4.2.
func (pb *pipeBundle) markClosed() {
	pb.closed = true
}

func (pb *pipeBundle) isClosed() bool {
	return pb.closed
}

// interest reports what the endpoint should currently be armed for.
func (pb *pipeBundle) interest() sysio.Interest {
	switch pb.kind {
	case streamStdin:
		return sysio.InterestWrite
	default:
		return sysio.InterestRead
	}
}
