// Package pollset is a growable collection of file descriptors with
// desired readiness, multiplexed via epoll: operator stdin, the UDP
// publication socket, the TCP listener, and subscriber streams all share
// one epoll instance and one index space.
//
// Add registers the real fd passed by the caller directly -- it does not
// dup the descriptor and then close the duplicate before returning, which
// would deregister the very fd epoll was just told to watch. Ownership
// stays with the caller, who must call Remove to both deregister and close
// it.
package pollset

import (
	"fmt"
	"syscall"
)

// Entry describes one registered endpoint. Requested holds the epoll
// interest bits; Observed is filled in by Wait for endpoints that were
// ready in the most recent call.
type Entry struct {
	Fd        int
	Requested uint32
	Observed  uint32
}

// Indices reserved by the broker's wire contract: operator stdin is always
// index 0, the UDP publication socket is always index 1, the TCP listener
// is always index 2. Subscriber streams occupy indices 3 and up, in
// registration order, but no code may assume a subscriber stream keeps a
// fixed index across removals.
const (
	IndexStdin    = 0
	IndexDatagram = 1
	IndexListener = 2
)

// PollSet is a growable array of poll entries, backed by a single epoll
// instance for the actual readiness wait.
type PollSet struct {
	epfd    int
	entries []Entry
	fdIndex map[int]int
}

// New creates an empty poll set.
func New() (*PollSet, error) {
	epfd, err := syscall.EpollCreate1(syscall.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("pollset: epoll_create1: %w", err)
	}
	return &PollSet{
		epfd:    epfd,
		entries: make([]Entry, 0, 8),
		fdIndex: make(map[int]int),
	}, nil
}

// Add registers fd for the given epoll interest (e.g. syscall.EPOLLIN)
// and appends it to the entry array, doubling capacity on saturation (the
// append builtin already does this; no separate growth step is needed).
// Returns the new entry's index.
func (p *PollSet) Add(fd int, events uint32) (int, error) {
	ev := syscall.EpollEvent{Events: events, Fd: int32(fd)}
	if err := syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return -1, fmt.Errorf("pollset: epoll_ctl add: %w", err)
	}

	idx := len(p.entries)
	p.entries = append(p.entries, Entry{Fd: fd, Requested: events})
	p.fdIndex[fd] = idx
	return idx, nil
}

// Remove deregisters the entry at idx from epoll, closes its descriptor,
// and compacts the array. Index 0 (operator stdin) is never removed by
// the broker loop.
func (p *PollSet) Remove(idx int) error {
	if idx < 0 || idx >= len(p.entries) {
		return fmt.Errorf("pollset: index %d out of range", idx)
	}
	fd := p.entries[idx].Fd

	_ = syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil)
	closeErr := syscall.Close(fd)

	delete(p.fdIndex, fd)
	p.entries = append(p.entries[:idx], p.entries[idx+1:]...)
	for i := idx; i < len(p.entries); i++ {
		p.fdIndex[p.entries[i].Fd] = i
	}

	if closeErr != nil {
		return fmt.Errorf("pollset: close fd %d: %w", fd, closeErr)
	}
	return nil
}

// FdAt returns the file descriptor at idx.
func (p *PollSet) FdAt(idx int) int {
	return p.entries[idx].Fd
}

// Len returns the number of registered entries.
func (p *PollSet) Len() int {
	return len(p.entries)
}

// Wait blocks until at least one endpoint is ready, with no timeout (the
// broker always waits indefinitely). It returns the indices that became
// ready, in no particular order. A wait that returns zero readiness is
// reported as an error; a wait interrupted by a signal (EINTR) returns no
// indices and a nil error.
func (p *PollSet) Wait() ([]int, error) {
	events := make([]syscall.EpollEvent, len(p.entries))
	n, err := syscall.EpollWait(p.epfd, events, -1)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("pollset: epoll_wait: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("pollset: epoll_wait returned zero readiness with infinite timeout")
	}

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		idx, ok := p.fdIndex[fd]
		if !ok {
			continue
		}
		p.entries[idx].Observed = events[i].Events
		ready = append(ready, idx)
	}
	return ready, nil
}

// Close tears down the underlying epoll instance. It does not close any
// registered descriptors; callers still own those until Remove.
func (p *PollSet) Close() error {
	return syscall.Close(p.epfd)
}
