//go:build !windows

package procio

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const catPayload = "This is a test"

// writeCountingHandler feeds catPayload to stdin on every OnStdinReady
// until writes reaches the requested count, and accumulates every byte
// observed on stdout.
type writeCountingHandler struct {
	BaseHandler

	want  int32
	wrote int32

	mu     sync.Mutex
	stdout []byte

	exited chan struct{}
	result ExitResult
}

func newWriteCountingHandler(want int32) *writeCountingHandler {
	return &writeCountingHandler{want: want, exited: make(chan struct{})}
}

func (h *writeCountingHandler) OnStdinReady(p *Process, buf *Buffer) bool {
	if atomic.LoadInt32(&h.wrote) >= h.want {
		return false
	}
	n := copy(buf.Bytes(), catPayload)
	buf.SetPosition(n)
	atomic.AddInt32(&h.wrote, 1)
	return atomic.LoadInt32(&h.wrote) < h.want
}

func (h *writeCountingHandler) OnStdout(p *Process, buf *Buffer, closed bool) {
	h.mu.Lock()
	h.stdout = append(h.stdout, buf.Unread()...)
	h.mu.Unlock()
	buf.SetPosition(buf.Limit())
}

func (h *writeCountingHandler) OnExit(p *Process, result ExitResult) {
	h.result = result
	close(h.exited)
}

func (h *writeCountingHandler) stdoutLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stdout)
}

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	cfg := DefaultConfig()
	pool := NewPool(size, cfg)
	t.Cleanup(func() { pool.Close() })
	return pool
}

// Scenario 1 (spec.md §8): cat round-trips 1000 writes of "This is a
// test", then destroy yields an exited result.
func TestCatRoundTrip(t *testing.T) {
	pool := newTestPool(t, 1)
	h := newWriteCountingHandler(1000)

	p, err := pool.Spawn(ProcessConfig{Argv: []string{"/bin/cat"}}, h)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	p.WantWrite()

	deadline := time.After(5 * time.Second)
	for h.stdoutLen() < len(catPayload)*1000 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for stdout, got %d bytes", h.stdoutLen())
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Destroy(false)
	select {
	case <-h.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnExit")
	}
	if h.result.Cause != ExitCauseForcedTerminate && h.result.Cause != ExitCauseExited {
		t.Fatalf("unexpected exit cause: %v", h.result.Cause)
	}
}

// Scenario 2 (spec.md §8): many concurrent cats, randomly killed, each
// reaches OnExit exactly once.
func TestConcurrentCatsRandomKills(t *testing.T) {
	const n = 12
	pool := newTestPool(t, 2)

	type entry struct {
		p *Process
		h *writeCountingHandler
	}
	entries := make([]entry, n)
	for i := range entries {
		h := newWriteCountingHandler(1 << 30) // keeps wanting writes
		p, err := pool.Spawn(ProcessConfig{Argv: []string{"/bin/cat"}}, h)
		if err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
		p.WantWrite()
		entries[i] = entry{p: p, h: h}
	}

	remaining := make(map[int]bool, n)
	for i := range entries {
		remaining[i] = true
	}
	for len(remaining) > 0 {
		time.Sleep(20 * time.Millisecond)
		idx := -1
		for i := range remaining {
			idx = i
			break
		}
		entries[idx].p.Destroy(true)
		delete(remaining, idx)
	}

	for i, e := range entries {
		select {
		case <-e.h.exited:
		case <-time.After(5 * time.Second):
			t.Fatalf("process %d never exited", i)
		}
	}
}

// Scenario 3 (spec.md §8): a child that writes more than one buffer's
// worth of output delivers it across at least two OnStdout calls, the
// last with closed=true.
func TestLargeOutputMultipleStdoutCalls(t *testing.T) {
	pool := newTestPool(t, 1)

	type call struct {
		n      int
		closed bool
	}
	var mu sync.Mutex
	var calls []call
	var total int

	h := &recordingHandler{
		onStdout: func(p *Process, buf *Buffer, closed bool) {
			mu.Lock()
			calls = append(calls, call{n: buf.Remaining(), closed: closed})
			total += buf.Remaining()
			mu.Unlock()
			buf.SetPosition(buf.Limit())
		},
	}

	script := fmt.Sprintf(`head -c %d /dev/zero | tr '\0' 'x'`, 65537)
	p, err := pool.Spawn(ProcessConfig{Argv: []string{"/bin/sh", "-c", script}}, h)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	res, err := p.WaitFor(10 * time.Second)
	if err != nil {
		t.Fatalf("waitfor: %v", err)
	}
	if res.Code != 0 {
		t.Fatalf("unexpected exit code %d", res.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	if total != 65537 {
		t.Fatalf("expected 65537 bytes total, got %d", total)
	}
	if len(calls) < 2 {
		t.Fatalf("expected at least two OnStdout calls, got %d", len(calls))
	}
	if !calls[len(calls)-1].closed {
		t.Fatalf("expected final OnStdout call to report closed=true")
	}
}

// Scenario 4 (spec.md §8): WriteStdin after CloseStdin returns
// ErrStdinClosed.
func TestWriteStdinAfterCloseStdin(t *testing.T) {
	pool := newTestPool(t, 1)
	p, err := pool.Spawn(ProcessConfig{Argv: []string{"/bin/cat"}}, BaseHandler{})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	p.CloseStdin()
	// Give the processor a moment to process the close request.
	time.Sleep(20 * time.Millisecond)
	if err := p.WriteStdin([]byte("x")); err == nil {
		t.Fatalf("expected an error writing to closed stdin")
	}
	p.Destroy(true)
}

// Scenario 5 (spec.md §8): WaitFor times out on a still-running process,
// then succeeds once it's actually exited.
func TestWaitForTimeoutThenActual(t *testing.T) {
	pool := newTestPool(t, 1)
	p, err := pool.Spawn(ProcessConfig{Argv: []string{"/bin/sh", "-c", "sleep 0.2"}}, BaseHandler{})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if _, err := p.WaitFor(10 * time.Millisecond); err == nil {
		t.Fatalf("expected a timeout error")
	}

	res, err := p.WaitFor(5 * time.Second)
	if err != nil {
		t.Fatalf("waitfor: %v", err)
	}
	if res.Code != 0 {
		t.Fatalf("unexpected exit code %d", res.Code)
	}
}

// Scenario 6 (spec.md §8): many waves of short-lived processes through a
// small pool without leaking processor goroutines.
func TestManyWavesNoLeak(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wave test in short mode")
	}
	pool := newTestPool(t, 2)

	before := runtime.NumGoroutine()
	const waves, perWave = 5, 10
	for w := 0; w < waves; w++ {
		var wg sync.WaitGroup
		for i := 0; i < perWave; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h := newWriteCountingHandler(0)
				p, err := pool.Spawn(ProcessConfig{Argv: []string{"/bin/sh", "-c", "sleep 0.01"}}, h)
				if err != nil {
					return
				}
				if rand.Intn(2) == 0 {
					time.Sleep(5 * time.Millisecond)
					p.Destroy(true)
				}
				p.WaitFor(5 * time.Second)
			}()
		}
		wg.Wait()
	}

	time.Sleep(50 * time.Millisecond)
	after := runtime.NumGoroutine()
	// The pool itself owns exactly len(processors) extra goroutines once
	// started; anything far beyond that plus `before` signals a leak.
	if after > before+pool.Size()+10 {
		t.Fatalf("possible goroutine leak: before=%d after=%d", before, after)
	}
}

// recordingHandler lets a test override individual callbacks without
// implementing the whole ProcessHandler interface by hand each time.
type recordingHandler struct {
	BaseHandler
	onStdout func(p *Process, buf *Buffer, closed bool)
}

func (h *recordingHandler) OnStdout(p *Process, buf *Buffer, closed bool) {
	if h.onStdout != nil {
		h.onStdout(p, buf, closed)
	}
}
