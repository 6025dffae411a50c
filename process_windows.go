//go:build windows

package procio

import (
	"fmt"
	"os"

	"github.com/lattice-run/procio/internal/sysio"
	"golang.org/x/sys/windows"
)

// platformState holds the Windows-specific half of a Process: the
// process and (until Resume runs) thread handles CreateProcess returned.
type platformState struct {
	pid      int
	hProcess windows.Handle
	hThread  windows.Handle
}

// startProcess implements the Windows half of spec.md §4.3's startup
// algorithm: open three overlapped named pipes, launch the child
// suspended with their client ends wired to its standard handles, and
// close those client-side handles in the parent. The child stays
// suspended until resumeProcess runs, by which point it has already been
// registered with a processor and can't miss early output.
func startProcess(p *Process, cfg ProcessConfig) error {
	stdinPipe, err := sysio.OpenOverlappedPipe(sysio.PipeName("stdin"), false)
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutPipe, err := sysio.OpenOverlappedPipe(sysio.PipeName("stdout"), true)
	if err != nil {
		sysio.CloseHandle(stdinPipe.Parent)
		sysio.CloseHandle(stdinPipe.Child)
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := sysio.OpenOverlappedPipe(sysio.PipeName("stderr"), true)
	if err != nil {
		sysio.CloseHandle(stdinPipe.Parent)
		sysio.CloseHandle(stdinPipe.Child)
		sysio.CloseHandle(stdoutPipe.Parent)
		sysio.CloseHandle(stdoutPipe.Child)
		return fmt.Errorf("stderr pipe: %w", err)
	}

	pid, hProcess, hThread, err := sysio.CreateSuspended(
		cfg.Argv, cfg.Env, cfg.Dir,
		stdinPipe.Child, stdoutPipe.Child, stderrPipe.Child,
	)

	sysio.CloseHandle(stdinPipe.Child)
	sysio.CloseHandle(stdoutPipe.Child)
	sysio.CloseHandle(stderrPipe.Child)

	if err != nil {
		sysio.CloseHandle(stdinPipe.Parent)
		sysio.CloseHandle(stdoutPipe.Parent)
		sysio.CloseHandle(stderrPipe.Parent)
		return err
	}

	p.pid = pid
	p.plat = platformState{pid: pid, hProcess: hProcess, hThread: hThread}
	p.stdin = newPipeBundle(streamStdin, os.NewFile(uintptr(stdinPipe.Parent), "stdin"), p.cfg.BufferSize)
	p.stdout = newPipeBundle(streamStdout, os.NewFile(uintptr(stdoutPipe.Parent), "stdout"), p.cfg.BufferSize)
	p.stderr = newPipeBundle(streamStderr, os.NewFile(uintptr(stderrPipe.Parent), "stderr"), p.cfg.BufferSize)
	return nil
}

// resumeProcess releases the child from its suspended start. Unlike
// POSIX, where the child runs from the moment fork+exec returns, this is
// the dialect's deliberate point of no early output loss: the pipes are
// already registered with a processor by the time this runs.
func resumeProcess(p *Process) error {
	err := sysio.Resume(p.plat.hThread)
	sysio.CloseHandle(p.plat.hThread)
	return err
}

func platformReap(p *Process) (exitCode int, exited bool, err error) {
	return sysio.Wait4Handle(p.plat.hProcess)
}

func platformTerminate(p *Process, force bool) error {
	return sysio.TerminateHandle(p.plat.hProcess, 1)
}
