package procio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-run/procio/internal/metrics"
)

type processState int32

const (
	stateNew processState = iota
	stateStarting
	stateRunning
	stateExited
)

// ProcessConfig names the child to spawn. The builder/DSL that assembles
// this from a higher-level command description lives outside this module
// (spec.md §1) — Spawn takes the already-resolved argv/env/dir.
type ProcessConfig struct {
	Argv []string
	Env  []string
	Dir  string
}

// Process is component C3: one spawned child and its three pipe bundles.
// All exported methods are safe to call from any goroutine; the actual
// I/O and handler dispatch happen on the assigned Processor's own
// goroutine.
type Process struct {
	pid int

	handlerMu sync.RWMutex
	handler   ProcessHandler

	stdin, stdout, stderr *pipeBundle

	state atomic.Int32

	exitMu     sync.Mutex
	exitResult ExitResult
	exitGate   chan struct{}
	exitOnce   sync.Once

	userWantsWrite atomic.Bool

	proc *processor
	pool *Pool
	cfg  Config

	outClosedAt      atomic.Value // time.Time, set once both stdout/stderr close
	softExitArmed    atomic.Bool
	softExitWarned   atomic.Bool
	destroyRequested atomic.Bool

	pendingExitMu sync.Mutex
	pendingExit   *ExitResult // set once the OS has reaped the child; held until both output streams report closed

	plat platformState
}

// Pid returns the OS process identifier, valid once Spawn returns
// successfully.
func (p *Process) Pid() int { return p.pid }

// IsRunning reports whether the process has not yet reached a terminal
// state.
func (p *Process) IsRunning() bool {
	return processState(p.state.Load()) != stateExited
}

// SetProcessHandler swaps the handler invoked for future callbacks.
func (p *Process) SetProcessHandler(h ProcessHandler) {
	if h == nil {
		h = BaseHandler{}
	}
	p.handlerMu.Lock()
	p.handler = h
	p.handlerMu.Unlock()
}

func (p *Process) currentHandler() ProcessHandler {
	p.handlerMu.RLock()
	defer p.handlerMu.RUnlock()
	return p.handler
}

// HasPendingWrites reports whether stdin still has queued bytes or an
// in-flight partial write.
func (p *Process) HasPendingWrites() bool {
	if p.stdin == nil {
		return false
	}
	return p.stdin.hasPendingWrites()
}

// WantWrite asserts that the caller wants OnStdinReady invoked the next
// time stdin is writable. Idempotent between deliveries of
// OnStdinReady (spec.md §4.3). Returns ErrProcessNotRunning once the
// process has exited, or ErrStdinClosed once stdin has been closed.
func (p *Process) WantWrite() error {
	if !p.IsRunning() {
		return ErrProcessNotRunning
	}
	if p.stdin == nil || p.stdin.isClosed() {
		return ErrStdinClosed
	}
	p.userWantsWrite.Store(true)
	if p.proc != nil {
		p.proc.submit(inboxMsg{op: opWantWrite, proc: p, pb: p.stdin})
	}
	return nil
}

// WriteStdin enqueues src for writing to the child's stdin. Ordering
// across concurrent callers to the same process is FIFO. Returns
// ErrStdinClosed if stdin has already been closed (even once the process
// has exited), or ErrProcessNotRunning once the process has exited.
func (p *Process) WriteStdin(src []byte) error {
	if p.stdin == nil || p.stdin.isClosed() {
		return ErrStdinClosed
	}
	if !p.IsRunning() {
		return ErrProcessNotRunning
	}
	p.stdin.enqueueWrite(src)
	if p.proc != nil {
		p.proc.submit(inboxMsg{op: opWantWrite, proc: p, pb: p.stdin})
	}
	return nil
}

// CloseStdin marks stdin closed and asks the owning processor to close
// the endpoint. Idempotent. Per spec.md §5, closing the handle itself
// always happens on the processor's own goroutine, even when CloseStdin
// is called externally — the request is serialized through the inbox.
func (p *Process) CloseStdin() {
	if p.stdin == nil {
		return
	}
	p.stdin.markClosed()
	if p.proc != nil {
		p.proc.submit(inboxMsg{op: opCloseStdin, proc: p, pb: p.stdin})
	}
}

// Destroy asynchronously terminates the child. force=true sends a kill
// signal with no grace period (SIGKILL on POSIX); force=false sends a
// polite SIGTERM only. On Windows these collapse into the same call,
// since only forced termination is available. Destroy returns as soon as
// the request is queued for the owning processor, which issues the signal
// — observe actual exit via WaitFor or OnExit.
func (p *Process) Destroy(force bool) {
	if processState(p.state.Load()) == stateExited {
		return
	}
	if p.proc != nil {
		p.proc.submit(inboxMsg{op: opDestroy, proc: p, force: force})
	}
}

// WaitFor blocks until the process exits or timeout elapses. timeout==0
// waits forever. On timeout it returns ErrWaitTimeout.
func (p *Process) WaitFor(timeout time.Duration) (ExitResult, error) {
	if timeout == 0 {
		<-p.exitGate
		return p.result(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	select {
	case <-p.exitGate:
		return p.result(), nil
	case <-ctx.Done():
		return ExitResult{}, ErrWaitTimeout
	}
}

func (p *Process) result() ExitResult {
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	return p.exitResult
}

// transitionExited performs the terminal state transition exactly once,
// releases the exit gate, updates metrics, and invokes OnExit. It is
// called from the owning processor's goroutine, except when startup fails,
// where Spawn calls it on the caller's goroutine before any processor is
// assigned.
func (p *Process) transitionExited(result ExitResult) {
	p.exitOnce.Do(func() {
		p.exitMu.Lock()
		p.exitResult = result
		p.exitMu.Unlock()
		p.state.Store(int32(stateExited))
		metrics.ProcessExited(result.Cause.String())
		close(p.exitGate)
		p.invokeOnExit(result)
	})
}

// deferExit records result as the pending terminal transition and applies
// it as soon as both output streams have delivered their final closed=true
// callback. Called from the owning processor's goroutine once the OS has
// reaped the child — OnExit must follow every OnStdout/OnStderr delivery
// (spec.md §8), and a reaped child's pipes can still hold buffered bytes
// that haven't been drained yet. A pending ExitCauseHandlerFault is never
// replaced: the later reap of the child it killed does not overwrite it.
func (p *Process) deferExit(result ExitResult) {
	p.pendingExitMu.Lock()
	if p.pendingExit == nil || p.pendingExit.Cause != ExitCauseHandlerFault {
		p.pendingExit = &result
	}
	p.pendingExitMu.Unlock()
	p.maybeFinalizeExit()
}

// maybeFinalizeExit applies a deferred exit once both output streams are
// closed. A nil stream (never configured) never blocks it.
func (p *Process) maybeFinalizeExit() {
	p.pendingExitMu.Lock()
	result := p.pendingExit
	p.pendingExitMu.Unlock()
	if result == nil {
		return
	}
	if p.stdout != nil && !p.stdout.isClosed() {
		return
	}
	if p.stderr != nil && !p.stderr.isClosed() {
		return
	}
	p.transitionExited(*result)
}

func (p *Process) invokeOnExit(result ExitResult) {
	defer p.recoverHandlerPanic("OnExit")
	p.currentHandler().OnExit(p, result)
}

func (p *Process) invokeOnPreStart() {
	defer p.recoverHandlerPanic("OnPreStart")
	p.currentHandler().OnPreStart(p)
}

func (p *Process) invokeOnStart() {
	defer p.recoverHandlerPanic("OnStart")
	p.currentHandler().OnStart(p)
}

func (p *Process) invokeOnRead(pb *pipeBundle, closed bool) {
	defer p.recoverHandlerPanic("OnStdout/OnStderr")
	h := p.currentHandler()
	if pb.kind == streamStdout {
		h.OnStdout(p, pb.buf, closed)
	} else {
		h.OnStderr(p, pb.buf, closed)
	}
}

func (p *Process) invokeOnStdinReady(buf *Buffer) (again bool) {
	defer p.recoverHandlerPanic("OnStdinReady")
	return p.currentHandler().OnStdinReady(p, buf)
}

// recoverHandlerPanic implements the handler-threw error kind (spec.md
// §7): the panic is swallowed, logged to the diagnostic bus, and the
// processor loop keeps running.
func (p *Process) recoverHandlerPanic(callback string) {
	if r := recover(); r != nil {
		metrics.IncHandlerPanic()
		if p.pool != nil {
			p.pool.diag.Errorf(p.pid, p.processorID(), fmt.Errorf("%v", r), "handler panic in %s", callback)
		}
	}
}

func (p *Process) processorID() int {
	if p.proc == nil {
		return -1
	}
	return p.proc.id
}
