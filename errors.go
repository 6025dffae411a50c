package procio

import "errors"

// Sentinel errors surfaced by the public API. Wrap with fmt.Errorf("...: %w", err)
// at each layer so callers can still errors.Is against these.
var (
	// ErrStdinClosed is returned by WriteStdin and WantWrite once CloseStdin
	// has been called or the stdin endpoint was torn down by the OS.
	ErrStdinClosed = errors.New("procio: stdin closed")

	// ErrSpawnFailed wraps a failure during process startup (pipe creation,
	// fork/exec, or the Windows CreateProcess equivalent).
	ErrSpawnFailed = errors.New("procio: spawn failed")

	// ErrHandlerDidNotConsume is the fatal condition raised when a handler
	// returns from OnStdout/OnStderr without advancing the buffer's
	// position far enough to make room for the next read.
	ErrHandlerDidNotConsume = errors.New("procio: handler did not consume buffer")

	// ErrWaitTimeout is returned by Process.WaitFor when the timeout
	// elapses before the process reaches a terminal state.
	ErrWaitTimeout = errors.New("procio: wait timed out")

	// ErrPoolClosed is returned by Spawn once the owning Pool has been
	// closed.
	ErrPoolClosed = errors.New("procio: pool closed")

	// ErrProcessNotRunning is returned by operations that require a live
	// child (WriteStdin, WantWrite) once the process has exited.
	ErrProcessNotRunning = errors.New("procio: process not running")
)
