//go:build !windows

package procio

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/lattice-run/procio/internal/sysio"
)

// primeEndpoint has nothing to do on POSIX: readiness for a freshly
// registered read endpoint fires on its own once the child writes.
func primeEndpoint(pr *processor, p *Process, pb *pipeBundle) {}

// armForWrite modifies the endpoint's interest so EPOLLOUT/EVFILT_WRITE
// fires, but only when there's actually something to write — keeping a
// level-triggered multiplexer from spinning on an always-writable pipe.
func armForWrite(pr *processor, p *Process, pb *pipeBundle) {
	if !pb.hasPendingWrites() && !p.userWantsWrite.Load() {
		return
	}
	if err := pr.mux.Modify(endpointKey(pb), pb.fd, sysio.InterestWrite); err != nil {
		pr.pool.diag.Errorf(p.pid, pr.id, err, "failed to arm stdin for write")
	}
}

func disarmWrite(pr *processor, p *Process, pb *pipeBundle) {
	if err := pr.mux.Modify(endpointKey(pb), pb.fd, sysio.InterestNone); err != nil {
		pr.pool.diag.Errorf(p.pid, pr.id, err, "failed to disarm stdin")
	}
}

func handleReadEvent(pr *processor, p *Process, pb *pipeBundle, ev sysio.Event) {
	n, eof, err := sysio.Read(pb.fd, pb.buf.fillSlice())
	if err != nil {
		pr.pool.diag.Errorf(p.pid, pr.id, err, "%s read failed", streamName(pb.kind))
		eof = true
	}
	deliverRead(p, pb, n, eof)
	if eof {
		pr.deregisterEndpoint(pb)
		_ = pb.file.Close()
	}
}

func handleWriteEvent(pr *processor, p *Process, pb *pipeBundle, ev sysio.Event) {
	chunk, ok := stepWritePipeline(p, pb)
	if !ok {
		disarmWrite(pr, p, pb)
		return
	}

	n, err := sysio.Write(pb.fd, chunk)
	if err != nil {
		pr.pool.diag.Errorf(p.pid, pr.id, err, "stdin write failed")
		pr.closeEndpoint(p, pb)
		return
	}
	if n > 0 {
		advanceWritePipeline(pb, n)
	}

	if !pb.hasPendingWrites() && !p.userWantsWrite.Load() {
		disarmWrite(pr, p, pb)
	}
}

func installSignalShutdownHook(pool *Pool) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		_ = pool.Close()
	}()
}
