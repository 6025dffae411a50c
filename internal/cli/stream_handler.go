package cli

import (
	"fmt"
	"os"

	"github.com/lattice-run/procio"
)

// streamHandler relays a child's stdout/stderr straight to this
// process's own, consuming the whole buffer on every callback.
type streamHandler struct {
	procio.BaseHandler
}

func (h *streamHandler) OnStdout(p *procio.Process, buf *procio.Buffer, closed bool) {
	h.relay(os.Stdout, buf)
}

func (h *streamHandler) OnStderr(p *procio.Process, buf *procio.Buffer, closed bool) {
	h.relay(os.Stderr, buf)
}

func (h *streamHandler) relay(w *os.File, buf *procio.Buffer) {
	if buf.Remaining() == 0 {
		return
	}
	w.Write(buf.Unread())
	buf.SetPosition(buf.Limit())
}

func (h *streamHandler) OnExit(p *procio.Process, result procio.ExitResult) {
	fmt.Fprintf(os.Stderr, "procio: pid %d exited: %s (code %d)\n", p.Pid(), result.Cause, result.Code)
}
