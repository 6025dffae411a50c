// Package procio spawns child processes and multiplexes their stdin,
// stdout, and stderr over a small, fixed pool of I/O threads instead of
// allocating a thread (or goroutine) per process. Callers register a
// ProcessHandler and receive bytes through callbacks dispatched from a
// processor's event loop; writes are queued and drained the same way.
//
// The implementation is split per OS family below the Processor loop: a
// POSIX dialect built on anonymous pipes plus epoll (Linux) or kqueue
// (Darwin/BSD), and a Windows dialect built on named pipes plus an I/O
// completion port. Both dialects speak the same internal event shape, so
// everything above internal/sysio — the write pipeline, exit detection,
// and handler dispatch — is platform-independent.
//
// Handlers run on the owning processor's goroutine and must not block;
// spawn many processes across a pool sized via NewPool (or Config.Threads
// for DefaultPool) rather than doing slow work inside a callback.
package procio
