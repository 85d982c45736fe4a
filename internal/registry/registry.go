// Package registry implements the broker's C4 (subscriber registry) and C5
// (subscription & backlog) components. The two are intentionally one
// package: every operation in C5 operates on a record owned by C4, and
// splitting them would just relocate the coupling into import cycles.
package registry

import (
	"errors"
	"fmt"
)

// deadFd is the sentinel endpoint value for a DEAD record.
const deadFd = -1

// Status is a subscriber record's lifecycle state.
type Status int

const (
	Active Status = iota
	Dead
)

// Subscription is one (topic, store-and-forward) pair.
type Subscription struct {
	Topic string
	SF    bool
}

// Record is one subscriber's registry entry. Subscriptions and Backlog
// survive DEAD intervals; only Fd and RemoteAddr are reset on close.
type Record struct {
	ID            string
	Status        Status
	Fd            int
	RemoteAddr    string
	Subscriptions []Subscription
	Backlog       []int // publication store indices, oldest first
}

var (
	ErrAlreadyConnected   = errors.New("registry: identity already connected")
	ErrAlreadyDead        = errors.New("registry: record already dead")
	ErrNotFound           = errors.New("registry: record not found")
	ErrTopicNotFound      = errors.New("registry: topic not subscribed")
	ErrSubscriberNotFound = errors.New("registry: subscriber not found")
)

// Outcome reports which branch Register took, driving the operator-facing
// stdout line the broker loop prints.
type Outcome int

const (
	Registered Outcome = iota
	Reconnected
)

// Registry is the identity -> record map, with a secondary index by
// endpoint fd for O(1) lookup on stream readiness/close.
type Registry struct {
	byID map[string]*Record
	byFd map[int]*Record
}

// New creates an empty registry with the given initial capacity hint.
func New(initialCap int) *Registry {
	return &Registry{
		byID: make(map[string]*Record, initialCap),
		byFd: make(map[int]*Record, initialCap),
	}
}

// Register binds identity id to endpoint fd/remoteAddr. An ACTIVE match
// for id is refused; a DEAD match is rebound (Reconnected, subscriptions
// and backlog preserved); no match creates a fresh record.
func (r *Registry) Register(id string, fd int, remoteAddr string) (Outcome, *Record, error) {
	if rec, ok := r.byID[id]; ok {
		if rec.Status == Active {
			return 0, nil, ErrAlreadyConnected
		}
		rec.Status = Active
		rec.Fd = fd
		rec.RemoteAddr = remoteAddr
		r.byFd[fd] = rec
		return Reconnected, rec, nil
	}

	rec := &Record{
		ID:         id,
		Status:     Active,
		Fd:         fd,
		RemoteAddr: remoteAddr,
	}
	r.byID[id] = rec
	r.byFd[fd] = rec
	return Registered, rec, nil
}

// Close transitions the record bound to fd to DEAD, clears its endpoint to
// the sentinel, and preserves subscriptions and backlog. Returns the record
// so the caller can log its identity.
func (r *Registry) Close(fd int) (*Record, error) {
	rec, ok := r.byFd[fd]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status == Dead {
		return nil, ErrAlreadyDead
	}

	rec.Status = Dead
	rec.Fd = deadFd
	rec.RemoteAddr = ""
	delete(r.byFd, fd)
	return rec, nil
}

// ByFd looks up the record currently bound to an active endpoint.
func (r *Registry) ByFd(fd int) (*Record, bool) {
	rec, ok := r.byFd[fd]
	return rec, ok
}

// Records returns every record in the registry, for fanout scanning.
func (r *Registry) Records() []*Record {
	out := make([]*Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	return out
}

// Subscribe implements C5 subscribe: last-writer-wins on an existing topic,
// append otherwise. The record must be bound to fd and ACTIVE.
func (r *Registry) Subscribe(fd int, topic string, sf bool) error {
	rec, ok := r.byFd[fd]
	if !ok {
		return ErrSubscriberNotFound
	}
	for i := range rec.Subscriptions {
		if rec.Subscriptions[i].Topic == topic {
			rec.Subscriptions[i].SF = sf
			return nil
		}
	}
	rec.Subscriptions = append(rec.Subscriptions, Subscription{Topic: topic, SF: sf})
	return nil
}

// Unsubscribe implements C5 unsubscribe: removes the entry, preserving the
// relative order of the rest.
func (r *Registry) Unsubscribe(fd int, topic string) error {
	rec, ok := r.byFd[fd]
	if !ok {
		return ErrSubscriberNotFound
	}
	for i := range rec.Subscriptions {
		if rec.Subscriptions[i].Topic == topic {
			rec.Subscriptions = append(rec.Subscriptions[:i], rec.Subscriptions[i+1:]...)
			return nil
		}
	}
	return ErrTopicNotFound
}

// EnqueueBacklog appends a publication store index to rec's backlog. No
// deduplication is performed: the same publication may be enqueued for
// several subscribers independently.
func (r *Registry) EnqueueBacklog(rec *Record, pubIdx int) {
	rec.Backlog = append(rec.Backlog, pubIdx)
}

// DrainBacklog delivers rec's backlog in reverse enqueue order (most
// recent publication first), per the documented "as designed" choice in
// DESIGN.md. send is called once per backlog entry with its store index;
// a non-nil return from send stops the drain and the remaining
// (older/not-yet-attempted) entries are left in the backlog for the next
// reconnect.
func (r *Registry) DrainBacklog(rec *Record, send func(pubIdx int) error) {
	n := len(rec.Backlog)
	for n > 0 {
		idx := rec.Backlog[n-1]
		if err := send(idx); err != nil {
			rec.Backlog = rec.Backlog[:n]
			return
		}
		n--
	}
	rec.Backlog = rec.Backlog[:0]
}

func (s Status) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "DEAD"
}

func (o Outcome) String() string {
	if o == Registered {
		return "registered"
	}
	return "reconnected"
}

// ValidateID checks the 1-9 printable-byte identity constraint.
func ValidateID(id string) error {
	if len(id) < 1 || len(id) > 9 {
		return fmt.Errorf("registry: identity must be 1-9 bytes, got %d", len(id))
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] > 0x7e {
			return fmt.Errorf("registry: identity must be printable, got byte 0x%02x", id[i])
		}
	}
	return nil
}
