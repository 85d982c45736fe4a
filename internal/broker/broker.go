// Package broker implements C7 (the broker loop) and C8 (the shutdown
// handler), wiring together the poll set, registry, and publication store
// into a single-threaded, cooperative event loop.
package broker

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/adred/topicbroker/internal/metrics"
	"github.com/adred/topicbroker/internal/pollset"
	"github.com/adred/topicbroker/internal/registry"
	"github.com/adred/topicbroker/internal/resource"
	"github.com/adred/topicbroker/internal/store"
	"github.com/adred/topicbroker/internal/transport"
	"github.com/adred/topicbroker/internal/wire"
)

// ListenBacklog is the TCP listen backlog for the subscriber listener.
const ListenBacklog = 10

// maxDatagramLen is large enough for the widest publication payload: a
// 50-byte topic, a kind byte, and a 1500-byte STRING payload.
const maxDatagramLen = 50 + 1 + 1500

// ErrShutdown is returned by Run when the operator issued the shutdown
// command; it is not a failure.
var ErrShutdown = errors.New("broker: operator shutdown")

// errDrainRateLimited signals that a backlog entry was not attempted this
// round because the drain rate limiter rejected it. registry.DrainBacklog
// treats any non-nil error as "not delivered" and keeps the entry (and
// everything older) queued for the next attempt, exactly like a genuine
// send failure.
var errDrainRateLimited = errors.New("broker: drain rate limited")

// Broker owns every piece of mutable broker state and runs the single
// event loop. No method here may be called from more than one goroutine.
type Broker struct {
	poll  *pollset.PollSet
	reg   *registry.Registry
	store *store.Store
	guard *resource.Guard
	log   zerolog.Logger

	udpFd    int
	listenFd int
	stdin    *bufio.Scanner
}

// New binds the UDP and TCP sockets on port, registers operator stdin, the
// UDP socket, and the TCP listener with the poll set at their reserved
// indices, and returns a ready-to-run Broker.
func New(port int, initialSubscriberCap, initialStoreCap int, guard *resource.Guard, logger zerolog.Logger) (*Broker, error) {
	ps, err := pollset.New()
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}

	if _, err := ps.Add(int(os.Stdin.Fd()), syscall.EPOLLIN); err != nil {
		return nil, fmt.Errorf("broker: register stdin: %w", err)
	}

	udpFd, err := transport.NewUDPSocket(port)
	if err != nil {
		return nil, err
	}
	if _, err := ps.Add(udpFd, syscall.EPOLLIN); err != nil {
		return nil, fmt.Errorf("broker: register udp socket: %w", err)
	}

	listenFd, err := transport.NewTCPListener(port, ListenBacklog)
	if err != nil {
		return nil, err
	}
	if _, err := ps.Add(listenFd, syscall.EPOLLIN); err != nil {
		return nil, fmt.Errorf("broker: register tcp listener: %w", err)
	}

	return &Broker{
		poll:     ps,
		reg:      registry.New(initialSubscriberCap),
		store:    store.New(initialStoreCap),
		guard:    guard,
		log:      logger,
		udpFd:    udpFd,
		listenFd: listenFd,
		stdin:    bufio.NewScanner(os.Stdin),
	}, nil
}

// Run drives the event loop until the operator shuts the broker down or a
// fatal error occurs. A clean shutdown returns ErrShutdown.
func (b *Broker) Run() error {
	for {
		ready, err := b.poll.Wait()
		if err != nil {
			return fmt.Errorf("broker: %w", err)
		}

		stdinReady := false
		for _, idx := range ready {
			switch {
			case idx == pollset.IndexStdin:
				stdinReady = true
			case idx == pollset.IndexDatagram:
				b.handleDatagram()
			case idx == pollset.IndexListener:
				b.handleAccept()
			default:
				b.handleSubscriberReady(idx)
			}
		}

		if stdinReady {
			if b.checkShutdown() {
				return ErrShutdown
			}
		}
	}
}

// handleDatagram parses one publication and fans it out to every
// interested subscriber.
func (b *Broker) handleDatagram() {
	var buf [maxDatagramLen]byte
	n, sourceAddr, err := transport.RecvFrom(b.udpFd, buf[:])
	if err != nil || n == 0 {
		// Per the Open Questions in DESIGN.md: UDP does not deliver
		// zero-byte closes, so this is treated as a defensive no-op
		// rather than removing the datagram endpoint.
		if err != nil {
			b.log.Error().Err(err).Msg("datagram receive failed")
		}
		return
	}

	if b.guard != nil && !b.guard.AllowDatagram() {
		metrics.RateLimitedDatagrams.Inc()
		return
	}

	pub, err := wire.DecodePublication(buf[:n])
	if err != nil {
		b.log.Debug().Err(err).Msg("dropping malformed datagram")
		metrics.PublicationsDropped.WithLabelValues("decode_error").Inc()
		return
	}

	pubIdx := b.store.Append(pub, sourceAddr)
	metrics.PublicationsReceived.Inc()

	for _, rec := range b.reg.Records() {
		for _, sub := range rec.Subscriptions {
			if sub.Topic != pub.Topic {
				continue
			}

			switch {
			case rec.Status == registry.Active:
				b.sendPublication(rec.Fd, sourceAddr, pub)
			case sub.SF:
				b.reg.EnqueueBacklog(rec, pubIdx)
				metrics.BacklogEnqueues.Inc()
			}

			break // topic uniqueness: stop scanning this subscriber
		}
	}

	// Gauge refreshes are optional work: skip them under CPU pressure
	// rather than let them compete with datagram/backlog processing.
	if b.guard == nil || !b.guard.ShouldPauseIngestion() {
		b.refreshRegistryMetrics()
	}
}

func (b *Broker) sendPublication(fd int, sourceAddr string, pub wire.Publication) {
	payload := wire.FormatOutbound(sourceAddr, pub)
	frame, err := wire.EncodePayload([]byte(payload))
	if err != nil {
		b.log.Error().Err(err).Msg("publication payload too large to frame")
		return
	}
	conn := transport.Conn{Fd: fd}
	if err := wire.SendFrame(conn, &frame); err != nil {
		// A send failure is logged but never mutates subscriber state;
		// the subsequent failed read on this stream drives ACTIVE->DEAD.
		b.log.Debug().Err(err).Int("fd", fd).Msg("fanout send failed")
		metrics.FanoutSendFailures.Inc()
		return
	}
	metrics.FanoutSends.Inc()
}

// handleAccept accepts a new subscriber stream and binds its identity.
func (b *Broker) handleAccept() {
	connFd, remoteAddr, err := transport.Accept(b.listenFd)
	if err != nil {
		b.log.Error().Err(err).Msg("accept failed")
		return
	}

	// Read-only interest: the listener's write interest in the original
	// design is vestigial (see DESIGN.md open question); subscriber
	// streams are only ever read by the broker loop until they send.
	idx, err := b.poll.Add(connFd, syscall.EPOLLIN)
	if err != nil {
		b.log.Error().Err(err).Msg("failed to register subscriber stream")
		transport.Close(connFd)
		return
	}

	conn := transport.Conn{Fd: connFd}
	frame, err := wire.RecvFrame(conn)
	if err != nil {
		b.log.Debug().Err(err).Msg("subscriber closed before sending identity")
		b.poll.Remove(idx)
		return
	}

	id := wire.DecodeIdentity(frame.Bytes())
	if err := registry.ValidateID(id); err != nil {
		b.log.Debug().Err(err).Str("id", id).Msg("rejecting invalid identity")
		b.poll.Remove(idx)
		return
	}

	outcome, rec, err := b.reg.Register(id, connFd, remoteAddr)
	if err != nil {
		fmt.Printf("Client %s already connected.\n", id)
		b.poll.Remove(idx)
		return
	}

	fmt.Printf("New client %s connected from %s.\n", id, remoteAddr)

	if outcome == registry.Reconnected {
		b.drainBacklog(rec, conn)
	}

	b.refreshRegistryMetrics()
}

// drainBacklog delivers rec's backlog in reverse enqueue order, per the
// documented drain-order decision in DESIGN.md.
func (b *Broker) drainBacklog(rec *registry.Record, conn transport.Conn) {
	b.reg.DrainBacklog(rec, func(pubIdx int) error {
		if b.guard != nil && !b.guard.AllowDrainSend() {
			return errDrainRateLimited
		}
		entry, ok := b.store.Get(pubIdx)
		if !ok {
			return nil
		}
		payload := wire.FormatOutbound(entry.SourceAddr, entry.Publication)
		frame, err := wire.EncodePayload([]byte(payload))
		if err != nil {
			return nil
		}
		return wire.SendFrame(conn, &frame)
	})
}

// handleSubscriberReady handles a ready subscriber stream: a control
// frame, or a closed connection.
func (b *Broker) handleSubscriberReady(idx int) {
	fd := b.poll.FdAt(idx)
	conn := transport.Conn{Fd: fd}

	frame, err := wire.RecvFrame(conn)
	if err != nil {
		rec, closeErr := b.reg.Close(fd)
		b.poll.Remove(idx)
		if closeErr == nil {
			fmt.Printf("Client %s disconnected.\n", rec.ID)
		}
		b.refreshRegistryMetrics()
		return
	}

	cf, err := wire.DecodeControl(frame.Bytes())
	if err != nil {
		b.log.Debug().Err(err).Int("fd", fd).Msg("unknown-command: malformed control frame")
		return
	}

	switch cf.Command {
	case wire.CmdSubscribe:
		_ = b.reg.Subscribe(fd, cf.Topic, cf.SF)
	case wire.CmdUnsubscribe:
		_ = b.reg.Unsubscribe(fd, cf.Topic)
	default:
		b.log.Debug().Str("command", cf.Command).Msg("unknown-command")
	}
}

// checkShutdown implements C8: reads one line from operator input and
// reports whether it requests termination.
func (b *Broker) checkShutdown() bool {
	if !b.stdin.Scan() {
		return true // EOF on operator input: treat as shutdown
	}
	line := strings.TrimSpace(b.stdin.Text())
	return strings.HasPrefix(line, "exit")
}

// Close tears down every endpoint still owned by the broker. Called once
// Run has returned, whatever its result.
func (b *Broker) Close() {
	for b.poll.Len() > 0 {
		_ = b.poll.Remove(b.poll.Len() - 1)
	}
	_ = b.poll.Close()
}

// refreshRegistryMetrics recomputes the gauges derived from registry state:
// active/dead subscriber counts and total backlog depth.
func (b *Broker) refreshRegistryMetrics() {
	var active, dead, backlog int
	for _, rec := range b.reg.Records() {
		if rec.Status == registry.Active {
			active++
		} else {
			dead++
		}
		backlog += len(rec.Backlog)
	}
	metrics.SubscribersActive.Set(float64(active))
	metrics.SubscribersDead.Set(float64(dead))
	metrics.BacklogDepth.Set(float64(backlog))
}
