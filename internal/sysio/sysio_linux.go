//go:build linux

package sysio

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollMux is the Linux dialect of the readiness-based POSIX multiplexer.
type epollMux struct {
	epfd   int
	wakeFd int // eventfd, read side == write side
	keys   map[int]uintptr
}

// NewMultiplexer constructs the platform's kernel multiplexer.
func NewMultiplexer() (Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("sysio: epoll_create1: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("sysio: eventfd: %w", err)
	}
	m := &epollMux{epfd: epfd, wakeFd: wakeFd, keys: make(map[int]uintptr)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}); err != nil {
		unix.Close(epfd)
		unix.Close(wakeFd)
		return nil, fmt.Errorf("sysio: epoll_ctl add wake: %w", err)
	}
	return m, nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32
	if i&InterestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if i&InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (m *epollMux) Register(key uintptr, fd uintptr, interest Interest) error {
	m.keys[int(fd)] = key
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, int(fd), ev); err != nil {
		return fmt.Errorf("sysio: epoll_ctl add: %w", err)
	}
	return nil
}

func (m *epollMux) Modify(key uintptr, fd uintptr, interest Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, int(fd), ev); err != nil {
		return fmt.Errorf("sysio: epoll_ctl mod: %w", err)
	}
	return nil
}

func (m *epollMux) Deregister(key uintptr, fd uintptr) error {
	delete(m.keys, int(fd))
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("sysio: epoll_ctl del: %w", err)
	}
	return nil
}

func (m *epollMux) Wait(timeout time.Duration) ([]Event, error) {
	raw := make([]unix.EpollEvent, 64)
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	n, err := unix.EpollWait(m.epfd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("sysio: epoll_wait: %w", err)
	}
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		re := raw[i]
		if int(re.Fd) == m.wakeFd {
			var buf [8]byte
			unix.Read(m.wakeFd, buf[:])
			continue
		}
		key, ok := m.keys[int(re.Fd)]
		if !ok {
			continue
		}
		// EPOLLHUP/EPOLLERR arrive alongside EPOLLIN the moment a child
		// closes its write end with bytes still sitting in the pipe
		// buffer. Readable/writable bits take priority so the caller
		// drains the remainder; sysio.Read's own 0-byte-read result is
		// what actually signals end of stream (see handleReadEvent).
		// EventClosed is only synthesized here when hangup/error showed
		// up with neither bit set, which happens for a quiescent
		// endpoint (e.g. stdin with nothing armed) the OS side closed.
		readable := re.Events&unix.EPOLLIN != 0
		writable := re.Events&unix.EPOLLOUT != 0
		if readable {
			events = append(events, Event{Key: key, Kind: EventReadable})
		}
		if writable {
			events = append(events, Event{Key: key, Kind: EventWritable})
		}
		if !readable && !writable && re.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			events = append(events, Event{Key: key, Kind: EventClosed})
		}
	}
	return events, nil
}

func (m *epollMux) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(m.wakeFd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("sysio: eventfd write: %w", err)
	}
	return nil
}

func (m *epollMux) Close() error {
	unix.Close(m.wakeFd)
	if err := unix.Close(m.epfd); err != nil {
		return fmt.Errorf("sysio: close epoll: %w", err)
	}
	return nil
}
