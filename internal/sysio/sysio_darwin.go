//go:build darwin

package sysio

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// kqueueMux is the Darwin/BSD dialect of the readiness-based POSIX
// multiplexer.
type kqueueMux struct {
	kq      int
	wakeR   int
	wakeW   int
	keys    map[int]uintptr
	current map[int]Interest
}

// NewMultiplexer constructs the platform's kernel multiplexer.
func NewMultiplexer() (Multiplexer, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("sysio: kqueue: %w", err)
	}
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("sysio: wake pipe: %w", err)
	}
	unix.SetNonblock(fds[0], true)
	unix.SetNonblock(fds[1], true)
	m := &kqueueMux{kq: kq, wakeR: fds[0], wakeW: fds[1], keys: make(map[int]uintptr), current: make(map[int]Interest)}
	ev := unix.Kevent_t{Ident: uint64(fds[0]), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		unix.Close(kq)
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, fmt.Errorf("sysio: kevent add wake: %w", err)
	}
	return m, nil
}

func (m *kqueueMux) applyInterest(fd int, interest Interest) error {
	prev := m.current[fd]
	var changes []unix.Kevent_t
	wantRead := interest&InterestRead != 0
	hadRead := prev&InterestRead != 0
	if wantRead != hadRead {
		flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
		if !wantRead {
			flags = unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	wantWrite := interest&InterestWrite != 0
	hadWrite := prev&InterestWrite != 0
	if wantWrite != hadWrite {
		flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
		if !wantWrite {
			flags = unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	m.current[fd] = interest
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(m.kq, changes, nil, nil)
	return err
}

func (m *kqueueMux) Register(key uintptr, fd uintptr, interest Interest) error {
	m.keys[int(fd)] = key
	if err := m.applyInterest(int(fd), interest); err != nil {
		return fmt.Errorf("sysio: kevent register: %w", err)
	}
	return nil
}

func (m *kqueueMux) Modify(key uintptr, fd uintptr, interest Interest) error {
	if err := m.applyInterest(int(fd), interest); err != nil {
		return fmt.Errorf("sysio: kevent modify: %w", err)
	}
	return nil
}

func (m *kqueueMux) Deregister(key uintptr, fd uintptr) error {
	delete(m.keys, int(fd))
	delete(m.current, int(fd))
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	unix.Kevent(m.kq, changes, nil, nil) // best effort; fd may already be gone
	return nil
}

func (m *kqueueMux) Wait(timeout time.Duration) ([]Event, error) {
	raw := make([]unix.Kevent_t, 64)
	ts := unix.NsecToTimespec(int64(timeout))
	n, err := unix.Kevent(m.kq, nil, raw, &ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("sysio: kevent wait: %w", err)
	}
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		re := raw[i]
		fd := int(re.Ident)
		if fd == m.wakeR {
			var buf [64]byte
			unix.Read(m.wakeR, buf[:])
			continue
		}
		key, ok := m.keys[fd]
		if !ok {
			continue
		}
		// An EVFILT_READ event carries re.Data pending bytes even when
		// EV_EOF is also set — the peer closed its write end, but there
		// may still be a final chunk sitting in the pipe buffer. Report
		// EventReadable whenever there's a read filter at all (Data==0
		// with EV_EOF just means the upcoming read returns 0, which
		// sysio.Read already turns into eof=true). EventClosed is only
		// synthesized for a hangup with no associated read/write filter.
		switch re.Filter {
		case unix.EVFILT_READ:
			events = append(events, Event{Key: key, Kind: EventReadable})
		case unix.EVFILT_WRITE:
			events = append(events, Event{Key: key, Kind: EventWritable})
		default:
			if re.Flags&unix.EV_EOF != 0 {
				events = append(events, Event{Key: key, Kind: EventClosed})
			}
		}
	}
	return events, nil
}

func (m *kqueueMux) Wake() error {
	_, err := unix.Write(m.wakeW, []byte{0})
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("sysio: wake pipe write: %w", err)
	}
	return nil
}

func (m *kqueueMux) Close() error {
	unix.Close(m.wakeR)
	unix.Close(m.wakeW)
	if err := unix.Close(m.kq); err != nil {
		return fmt.Errorf("sysio: close kqueue: %w", err)
	}
	return nil
}
