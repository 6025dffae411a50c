package procio

// ProcessHandler receives lifecycle and I/O callbacks for one spawned
// process. All methods are invoked on the process's assigned Processor
// goroutine; none of them may block — a handler that does slow or
// blocking work stalls every other process sharing that processor.
//
// Only the methods a caller cares about need real logic; embed BaseHandler
// to get no-op defaults for the rest.
type ProcessHandler interface {
	// OnPreStart runs before any pipe is opened. A panic here is
	// recovered, logged to the diagnostic bus, and ignored.
	OnPreStart(p *Process)

	// OnStart runs once pipes are wired and the child is running. It
	// strictly precedes every OnStdout/OnStderr/OnStdinReady call for p.
	OnStart(p *Process)

	// OnStdout delivers bytes read from the child's stdout. buf.Position
	// must be advanced past every byte the handler consumes; unread bytes
	// survive into the next call. closed is true exactly once, on the
	// call that reports end-of-stream, and may carry final bytes.
	OnStdout(p *Process, buf *Buffer, closed bool)

	// OnStderr is OnStdout's counterpart for the child's stderr.
	OnStderr(p *Process, buf *Buffer, closed bool)

	// OnStdinReady is invoked after WantWrite when stdin is next
	// writable and the pending-write queue has drained. buf arrives
	// cleared (Position 0, Limit at Capacity); the handler writes bytes
	// starting at Position 0 and calls SetPosition(n) to report n bytes
	// written. The bool return becomes the new want-write state: true to
	// be called again the next time stdin is writable.
	OnStdinReady(p *Process, buf *Buffer) bool

	// OnExit is terminal and called exactly once per successfully
	// started process, strictly after the last I/O callback.
	OnExit(p *Process, result ExitResult)
}

// BaseHandler supplies no-op implementations of every ProcessHandler
// method so embedders only need to override what they use.
type BaseHandler struct{}

func (BaseHandler) OnPreStart(*Process)                         {}
func (BaseHandler) OnStart(*Process)                            {}
func (BaseHandler) OnStdout(*Process, *Buffer, bool)            {}
func (BaseHandler) OnStderr(*Process, *Buffer, bool)            {}
func (BaseHandler) OnStdinReady(*Process, *Buffer) bool         { return false }
func (BaseHandler) OnExit(*Process, ExitResult)                 {}

var _ ProcessHandler = BaseHandler{}
