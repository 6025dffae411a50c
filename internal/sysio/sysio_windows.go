//go:build windows

package sysio

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// pipeNameCounter reproduces the original implementation's named-pipe
// uniqueness counter (it started numbering at 100; kept here purely as a
// texture match, the exact starting value has no behavioral significance).
var pipeNameCounter = func() *atomic.Uint64 {
	c := &atomic.Uint64{}
	c.Store(100)
	return c
}()

// PipeName generates a collision-free overlapped named-pipe path for one
// stream of one spawned process.
func PipeName(stream string) string {
	n := pipeNameCounter.Add(1)
	return fmt.Sprintf(`\\.\pipe\procio-%d-%s-%d`, windows.GetCurrentProcessId(), stream, n)
}

// NamedPipe holds both ends of one overlapped named pipe: the parent-side
// handle (opened with FILE_FLAG_OVERLAPPED) and the child-side handle
// (inheritable, opened as a plain synchronous client) to be passed to
// CreateProcess's STARTUPINFO.
type NamedPipe struct {
	Parent windows.Handle
	Child  windows.Handle
}

// OpenOverlappedPipe creates one named pipe and connects a synchronous
// client end for the child to inherit. inbound controls direction from
// the parent's point of view (true for stdout/stderr, false for stdin).
func OpenOverlappedPipe(name string, inbound bool) (*NamedPipe, error) {
	var access uint32 = windows.PIPE_ACCESS_INBOUND
	if !inbound {
		access = windows.PIPE_ACCESS_OUTBOUND
	}
	sa := &windows.SecurityAttributes{InheritHandle: 1}
	server, err := windows.CreateNamedPipe(
		windows.StringToUTF16Ptr(name),
		access|windows.FILE_FLAG_OVERLAPPED,
		windows.PIPE_TYPE_BYTE|windows.PIPE_READMODE_BYTE|windows.PIPE_WAIT,
		1, uint32(BufferCapacity), uint32(BufferCapacity), 0, sa,
	)
	if err != nil {
		return nil, fmt.Errorf("sysio: create named pipe: %w", err)
	}

	clientAccess := uint32(windows.GENERIC_WRITE)
	if inbound {
		clientAccess = windows.GENERIC_READ
	}
	client, err := windows.CreateFile(
		windows.StringToUTF16Ptr(name), clientAccess, 0, sa,
		windows.OPEN_EXISTING, windows.FILE_ATTRIBUTE_NORMAL, 0,
	)
	if err != nil {
		windows.CloseHandle(server)
		return nil, fmt.Errorf("sysio: open named pipe client: %w", err)
	}
	return &NamedPipe{Parent: server, Child: client}, nil
}

// CreateSuspended launches argv[0] with the given argv/env/dir and the
// three NamedPipe child handles wired to the new process's standard
// handles. The process starts suspended; Resume must be called once it
// has been registered with a processor.
func CreateSuspended(argv []string, env []string, dir string, stdin, stdout, stderr windows.Handle) (pid int, hProcess, hThread windows.Handle, err error) {
	cmdLine, err := windows.UTF16PtrFromString(quoteCommandLine(argv))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("sysio: command line: %w", err)
	}
	var dirPtr *uint16
	if dir != "" {
		dirPtr, err = windows.UTF16PtrFromString(dir)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("sysio: working directory: %w", err)
		}
	}
	envBlock := buildEnvBlock(env)

	si := &windows.StartupInfo{
		Cb:         uint32(unsafe.Sizeof(windows.StartupInfo{})),
		Flags:      windows.STARTF_USESTDHANDLES,
		StdInput:   stdin,
		StdOutput:  stdout,
		StdErr:     stderr,
	}
	pi := &windows.ProcessInformation{}

	const createSuspended = 0x00000004
	const createUnicodeEnv = 0x00000400

	err = windows.CreateProcess(
		nil, cmdLine, nil, nil, true,
		createSuspended|createUnicodeEnv,
		envBlock, dirPtr, si, pi,
	)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("sysio: create process: %w", err)
	}
	return int(pi.ProcessId), pi.Process, pi.Thread, nil
}

// Resume starts a process created suspended by CreateSuspended.
func Resume(hThread windows.Handle) error {
	if _, err := windows.ResumeThread(hThread); err != nil {
		return fmt.Errorf("sysio: resume thread: %w", err)
	}
	return nil
}

// TerminateHandle forcibly kills the process behind hProcess. Windows has
// no polite-signal equivalent to SIGTERM; Process.Destroy's force=false
// path collapses into this same call (see spec.md §4.3).
func TerminateHandle(hProcess windows.Handle, exitCode uint32) error {
	if err := windows.TerminateProcess(hProcess, exitCode); err != nil {
		return fmt.Errorf("sysio: terminate process: %w", err)
	}
	return nil
}

// Wait4Handle performs a non-blocking check for process exit, returning
// ok=false while the process is still alive.
func Wait4Handle(hProcess windows.Handle) (exitCode int, ok bool, err error) {
	var code uint32
	if err := windows.GetExitCodeProcess(hProcess, &code); err != nil {
		return 0, false, fmt.Errorf("sysio: get exit code: %w", err)
	}
	const stillActive = 259
	if code == stillActive {
		return 0, false, nil
	}
	return int(code), true, nil
}

// CloseHandle releases a Win32 handle.
func CloseHandle(h windows.Handle) error {
	if h == 0 || h == windows.InvalidHandle {
		return nil
	}
	if err := windows.CloseHandle(h); err != nil {
		return fmt.Errorf("sysio: close handle: %w", err)
	}
	return nil
}

func quoteCommandLine(argv []string) string {
	out := make([]byte, 0, 64)
	for i, a := range argv {
		if i > 0 {
			out = append(out, ' ')
		}
		needsQuote := i == 0 && containsSpace(a) && !isQuoted(a)
		if !needsQuote {
			needsQuote = i > 0 && containsSpace(a)
		}
		if needsQuote {
			out = append(out, '"')
			out = append(out, a...)
			out = append(out, '"')
		} else {
			out = append(out, a...)
		}
	}
	out = append(out, 0)
	return string(out[:len(out)-1])
}

func containsSpace(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return true
		}
	}
	return false
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

// buildEnvBlock sorts Key=Value pairs by a case-insensitive, upper-cased
// comparison of the key and flattens them into the null-terminated,
// doubly-null-terminated block CreateProcess expects (spec.md §6).
func buildEnvBlock(env []string) *uint16 {
	sorted := SortedEnv(env)
	var block []uint16
	for _, kv := range sorted {
		block = append(block, utf16Encode(kv)...)
		block = append(block, 0)
	}
	block = append(block, 0)
	return &block[0]
}

func utf16Encode(s string) []uint16 {
	p, _ := syscall.UTF16FromString(s)
	// UTF16FromString already null-terminates; drop the trailing zero so
	// buildEnvBlock controls separator placement itself.
	if len(p) > 0 && p[len(p)-1] == 0 {
		p = p[:len(p)-1]
	}
	return p
}

// overlappedOp tags one outstanding ReadFile/WriteFile call so the
// completion port's Wait loop can recover which endpoint and which kind
// of operation finished purely from the *windows.Overlapped pointer
// GetQueuedCompletionStatus hands back.
type overlappedOp struct {
	ov   windows.Overlapped
	key  uintptr
	kind EventKind
}

// iocpMux is the Windows dialect of the completion-based multiplexer. It
// never arms readiness ahead of time: BeginRead/BeginWrite issue the
// overlapped call immediately and Wait collects whichever finishes next.
type iocpMux struct {
	port windows.Handle
}

// OverlappedMultiplexer is implemented by the Windows dialect's
// multiplexer only: it exposes the per-call arming operations a
// completion-based backend needs in place of Register's readiness
// interest.
type OverlappedMultiplexer interface {
	Multiplexer
	BeginRead(key uintptr, fd uintptr, buf []byte) error
	BeginWrite(key uintptr, fd uintptr, buf []byte) error
}

var _ OverlappedMultiplexer = (*iocpMux)(nil)

// NewMultiplexer constructs the platform's kernel multiplexer.
func NewMultiplexer() (Multiplexer, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("sysio: create io completion port: %w", err)
	}
	return &iocpMux{port: port}, nil
}

// Register associates fd's handle with the completion port under key.
// interest is ignored — completion dialects arm I/O per-call, not
// per-endpoint.
func (m *iocpMux) Register(key uintptr, fd uintptr, interest Interest) error {
	_, err := windows.CreateIoCompletionPort(windows.Handle(fd), m.port, key, 0)
	if err != nil {
		return fmt.Errorf("sysio: associate handle with port: %w", err)
	}
	return nil
}

func (m *iocpMux) Modify(key uintptr, fd uintptr, interest Interest) error { return nil }

func (m *iocpMux) Deregister(key uintptr, fd uintptr) error { return nil }

// BeginRead issues an overlapped ReadFile against fd and returns
// immediately; the result surfaces later through Wait as an
// EventReadComplete.
func (m *iocpMux) BeginRead(key uintptr, fd uintptr, buf []byte) error {
	op := &overlappedOp{key: key, kind: EventReadComplete}
	err := windows.ReadFile(windows.Handle(fd), buf, nil, &op.ov)
	if err != nil && err != windows.ERROR_IO_PENDING {
		return fmt.Errorf("sysio: read file: %w", err)
	}
	return nil
}

// BeginWrite issues an overlapped WriteFile against fd.
func (m *iocpMux) BeginWrite(key uintptr, fd uintptr, buf []byte) error {
	op := &overlappedOp{key: key, kind: EventWriteComplete}
	err := windows.WriteFile(windows.Handle(fd), buf, nil, &op.ov)
	if err != nil && err != windows.ERROR_IO_PENDING {
		return fmt.Errorf("sysio: write file: %w", err)
	}
	return nil
}

func (m *iocpMux) Wait(timeout time.Duration) ([]Event, error) {
	var n uint32
	var key uintptr
	var ov *windows.Overlapped
	ms := uint32(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	err := windows.GetQueuedCompletionStatus(m.port, &n, &key, &ov, ms)
	if ov == nil {
		if err != nil && err != windows.WAIT_TIMEOUT {
			return nil, fmt.Errorf("sysio: get queued completion status: %w", err)
		}
		return nil, nil
	}
	op := (*overlappedOp)(unsafe.Pointer(ov))
	if err != nil {
		return []Event{{Key: op.key, Kind: EventClosed}}, nil
	}
	return []Event{{Key: op.key, Kind: op.kind, N: int(n)}}, nil
}

// Wake posts a zero-length user event that Wait's GetQueuedCompletionStatus
// call returns immediately, used to deliver inbound-queue work without
// waiting out the poll timeout.
func (m *iocpMux) Wake() error {
	if err := windows.PostQueuedCompletionStatus(m.port, 0, 0, nil); err != nil {
		return fmt.Errorf("sysio: post queued completion status: %w", err)
	}
	return nil
}

func (m *iocpMux) Close() error {
	if err := windows.CloseHandle(m.port); err != nil {
		return fmt.Errorf("sysio: close io completion port: %w", err)
	}
	return nil
}
