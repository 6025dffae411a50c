//go:build !windows

package procio

import (
	"fmt"
	"syscall"

	"github.com/lattice-run/procio/internal/sysio"
)

// platformState holds the POSIX-specific half of a Process. On this
// dialect the pid doubles as the wait4 handle, so there's nothing else
// to carry.
type platformState struct {
	pid int
}

// startProcess implements the POSIX half of spec.md §4.3's startup
// algorithm: open three pipes, set the parent-side ends non-blocking,
// fork+exec with the child-side ends wired to fd 0/1/2, then close the
// child-side ends in the parent.
func startProcess(p *Process, cfg ProcessConfig) error {
	stdinR, stdinW, err := sysio.Pipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := sysio.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := sysio.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	for _, fd := range []uintptr{stdinW.Fd(), stdoutR.Fd(), stderrR.Fd()} {
		if err := sysio.SetNonblock(fd); err != nil {
			return fmt.Errorf("set nonblocking: %w", err)
		}
	}

	pid, err := sysio.StartProcess(sysio.ProcAttrs{
		Argv:            cfg.Argv,
		Env:             cfg.Env,
		Dir:             cfg.Dir,
		Stdin:           stdinR,
		Stdout:          stdoutW,
		Stderr:          stderrW,
		NewProcessGroup: true,
	})

	// The child-side ends are no longer needed in the parent regardless
	// of whether the exec succeeded.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	if err != nil {
		stdinW.Close()
		stdoutR.Close()
		stderrR.Close()
		return err
	}

	p.pid = pid
	p.plat = platformState{pid: pid}
	p.stdin = newPipeBundle(streamStdin, stdinW, p.cfg.BufferSize)
	p.stdout = newPipeBundle(streamStdout, stdoutR, p.cfg.BufferSize)
	p.stderr = newPipeBundle(streamStderr, stderrR, p.cfg.BufferSize)
	return nil
}

// resumeProcess is a no-op on POSIX: the child starts running the moment
// fork+exec returns, unlike the Windows dialect's suspended launch.
func resumeProcess(p *Process) error { return nil }

func platformReap(p *Process) (exitCode int, exited bool, err error) {
	return sysio.ReapNoHang(p.plat.pid)
}

func platformTerminate(p *Process, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	return sysio.SignalGroup(p.plat.pid, sig)
}
