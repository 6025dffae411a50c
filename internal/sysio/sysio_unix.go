//go:build !windows

package sysio

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Pipe opens a unidirectional anonymous pipe with both ends inheritable.
// The caller is responsible for marking the parent-side end non-blocking
// and the child-side end gets closed in the parent after fork/exec.
func Pipe() (r, w *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], 0); err != nil {
		return nil, nil, fmt.Errorf("sysio: pipe2: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "|0"), os.NewFile(uintptr(fds[1]), "|1"), nil
}

// SetNonblock marks fd non-blocking so the processor's readiness-driven
// reads and writes never stall the event loop.
func SetNonblock(fd uintptr) error {
	if err := unix.SetNonblock(int(fd), true); err != nil {
		return fmt.Errorf("sysio: set nonblock: %w", err)
	}
	return nil
}

// ProcAttrs is the minimal description needed to fork-and-exec a child
// with redirected stdio.
type ProcAttrs struct {
	Argv       []string
	Env        []string
	Dir        string
	Stdin      *os.File
	Stdout     *os.File
	Stderr     *os.File
	NewProcessGroup bool
}

// StartProcess forks and execs the child, redirecting its stdio to the
// provided child-side pipe ends. It returns the child's PID; the parent
// must still close its copies of the child-side pipe ends afterward.
func StartProcess(a ProcAttrs) (pid int, err error) {
	attr := &os.ProcAttr{
		Dir:   a.Dir,
		Env:   a.Env,
		Files: []*os.File{a.Stdin, a.Stdout, a.Stderr},
	}
	if a.NewProcessGroup {
		attr.Sys = &syscall.SysProcAttr{Setpgid: true}
	}
	proc, err := os.StartProcess(a.Argv[0], a.Argv, attr)
	if err != nil {
		return 0, fmt.Errorf("sysio: start process: %w", err)
	}
	return proc.Pid, nil
}

// Signal sends sig to pid. Errors, including ESRCH for a pid that is
// already gone, are returned unchanged.
func Signal(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}

// SignalGroup sends sig to the process group led by pid (pid must have
// been started with NewProcessGroup).
func SignalGroup(pid int, sig syscall.Signal) error {
	return unix.Kill(-pid, sig)
}

// ReapNoHang performs a non-blocking wait4 for pid, returning ok=false if
// the child has not yet exited.
func ReapNoHang(pid int) (exitCode int, ok bool, err error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		if err == unix.ECHILD {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("sysio: wait4: %w", err)
	}
	if wpid == 0 {
		return 0, false, nil
	}
	switch {
	case ws.Exited():
		return ws.ExitStatus(), true, nil
	case ws.Signaled():
		return 128 + int(ws.Signal()), true, nil
	default:
		return 0, false, nil
	}
}

// Close closes fd, ignoring the case where it's already closed.
func Close(f *os.File) error {
	if f == nil {
		return nil
	}
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("sysio: close: %w", err)
	}
	return nil
}

// Read performs a single non-blocking read, returning n=0,err=nil on
// EAGAIN so the caller re-arms for readiness instead of busy spinning.
func Read(fd uintptr, buf []byte) (n int, eof bool, err error) {
	n, err = unix.Read(int(fd), buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return 0, false, nil
	case err != nil:
		return 0, false, err
	case n == 0:
		return 0, true, nil
	default:
		return n, false, nil
	}
}

// Write performs a single non-blocking write, returning n=0,err=nil on
// EAGAIN.
func Write(fd uintptr, buf []byte) (n int, err error) {
	n, err = unix.Write(int(fd), buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	return n, err
}
