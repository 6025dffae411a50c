//go:build windows

package procio

import (
	"os"
	"os/signal"

	"github.com/lattice-run/procio/internal/sysio"
)

func overlapped(pr *processor) sysio.OverlappedMultiplexer {
	return pr.mux.(sysio.OverlappedMultiplexer)
}

// primeEndpoint kicks off the first overlapped ReadFile for a freshly
// registered output stream. The completion dialect never waits for
// readiness — there's always exactly one outstanding read or none.
func primeEndpoint(pr *processor, p *Process, pb *pipeBundle) {
	if pb.kind == streamStdin {
		return
	}
	if err := overlapped(pr).BeginRead(endpointKey(pb), pb.fd, pb.buf.fillSlice()); err != nil {
		pr.pool.diag.Errorf(p.pid, pr.id, err, "failed to prime %s read", streamName(pb.kind))
	}
}

// armForWrite issues the next overlapped WriteFile if there's a chunk
// ready to send. Unlike the POSIX dialect there's no persistent
// "interest" to toggle — each write is a one-shot call.
func armForWrite(pr *processor, p *Process, pb *pipeBundle) {
	if pb.writeInFlight {
		return
	}
	chunk, ok := stepWritePipeline(p, pb)
	if !ok {
		return
	}
	pb.writeInFlight = true
	if err := overlapped(pr).BeginWrite(endpointKey(pb), pb.fd, chunk); err != nil {
		pb.writeInFlight = false
		pr.pool.diag.Errorf(p.pid, pr.id, err, "failed to issue stdin write")
	}
}

func handleReadEvent(pr *processor, p *Process, pb *pipeBundle, ev sysio.Event) {
	eof := ev.N == 0
	deliverRead(p, pb, ev.N, eof)
	if eof {
		pr.deregisterEndpoint(pb)
		_ = pb.file.Close()
		return
	}
	if err := overlapped(pr).BeginRead(endpointKey(pb), pb.fd, pb.buf.fillSlice()); err != nil {
		pr.pool.diag.Errorf(p.pid, pr.id, err, "failed to continue %s read", streamName(pb.kind))
	}
}

func handleWriteEvent(pr *processor, p *Process, pb *pipeBundle, ev sysio.Event) {
	pb.writeInFlight = false
	if ev.N > 0 {
		advanceWritePipeline(pb, ev.N)
	}
	armForWrite(pr, p, pb)
}

func installSignalShutdownHook(pool *Pool) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		<-ch
		_ = pool.Close()
	}()
}
