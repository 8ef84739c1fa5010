package shipper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
	flushPoll         = 20 * time.Millisecond
)

// Subject suffixes, appended to the configured prefix.
const (
	SubjectHealth        = "health"
	SubjectVulnerability = "vulnerability"
	SubjectSimulation    = "simulation"
	SubjectRecovery      = "recovery"
	SubjectEvent         = "event"
)

// ErrPermanent marks a publish failure that retrying cannot fix.
var ErrPermanent = errors.New("shipper: permanent publish error")

// Publisher delivers one encoded record to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// dialFunc opens a Publisher. Abstracted so tests can inject a fake.
type dialFunc func(ctx context.Context, url string) (Publisher, error)

// message is one encoded record waiting in the buffer.
type message struct {
	subject    string
	scheduleID string
	data       []byte
}

// record pairs a value with the subject suffix it is published under.
type record struct {
	suffix string
	v      any
}

// Shipper buffers analysis records and publishes them to NATS JetStream.
// Ship is non-blocking; when the buffer is full the oldest record is
// evicted. Run must be called in a goroutine to drain the buffer and handle
// reconnection.
type Shipper struct {
	url    string
	prefix string
	buf    chan message
	dialFn dialFunc // injectable for tests

	// undelivered counts records buffered or in flight. A record leaves it
	// once delivered, discarded or evicted.
	undelivered atomic.Int64

	initialBackoff time.Duration
}

// New creates a Shipper publishing to url under the configured prefix.
func New(cfg config.NATSConfig, url string) *Shipper {
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultNATSBufferSize
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = config.DefaultNATSSubjectPrefix
	}
	return &Shipper{
		url:            url,
		prefix:         prefix,
		buf:            make(chan message, size),
		dialFn:         dialNATS,
		initialBackoff: backoffInitial,
	}
}

// Ship encodes every record in rep and enqueues it. Stages that did not run
// are skipped; each transition event is published on its own.
func (s *Shipper) Ship(rep *types.Report) error {
	records := []record{{SubjectHealth, rep.Health}}
	if rep.Vulnerability != nil {
		records = append(records, record{SubjectVulnerability, rep.Vulnerability})
	}
	if rep.Simulation != nil {
		records = append(records, record{SubjectSimulation, rep.Simulation})
	}
	if rep.Recovery != nil {
		records = append(records, record{SubjectRecovery, rep.Recovery})
	}
	for _, ev := range rep.Events {
		records = append(records, record{SubjectEvent, ev})
	}

	for _, r := range records {
		data, err := json.Marshal(r.v)
		if err != nil {
			return fmt.Errorf("shipper: encode %s record for %s: %w", r.suffix, rep.ScheduleID, err)
		}
		s.enqueue(message{subject: s.prefix + "." + r.suffix, scheduleID: rep.ScheduleID, data: data})
	}
	return nil
}

// enqueue adds m, evicting the oldest message when the buffer is full.
func (s *Shipper) enqueue(m message) {
	s.undelivered.Add(1)
	select {
	case s.buf <- m:
	default:
		select {
		case old := <-s.buf:
			s.undelivered.Add(-1)
			slog.Warn("shipper: buffer full, evicted oldest record",
				"subject", old.subject, "schedule", old.scheduleID, "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- m
	}
}

// Pending returns the number of records buffered or being published.
func (s *Shipper) Pending() int { return int(s.undelivered.Load()) }

// Flush waits until every record shipped so far has been delivered or
// dropped. Run must be draining the buffer concurrently. Flush returns
// ctx.Err() if ctx ends first.
func (s *Shipper) Flush(ctx context.Context) error {
	tick := time.NewTicker(flushPoll)
	defer tick.Stop()
	for s.undelivered.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

// Run drains the buffer, reconnecting with exponential backoff when the
// connection is lost. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff(s.initialBackoff)

	for {
		if ctx.Err() != nil {
			return
		}

		pub, err := s.dialFn(ctx, s.url)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: connect failed, will retry",
				"url", s.url, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("shipper: connected", "url", s.url)
		bo.reset()

		err = s.drain(ctx, pub)
		pub.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"url", s.url, "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain publishes buffered records until a transient failure or ctx is
// cancelled.
func (s *Shipper) drain(ctx context.Context, pub Publisher) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case m := <-s.buf:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			err := pub.Publish(sendCtx, m.subject, m.data)
			cancel()

			if err == nil {
				s.undelivered.Add(-1)
				slog.Debug("shipper: record delivered", "subject", m.subject, "schedule", m.scheduleID)
				continue
			}
			if errors.Is(err, ErrPermanent) {
				s.undelivered.Add(-1)
				slog.Error("shipper: permanent publish error, discarding record",
					"subject", m.subject, "schedule", m.scheduleID, "err", err)
				continue
			}

			// Put the record back if there's room; otherwise the next run's
			// records supersede it.
			select {
			case s.buf <- m:
			default:
				s.undelivered.Add(-1)
			}
			return fmt.Errorf("publish %s: %w", m.subject, err)
		}
	}
}

// natsPublisher publishes through a JetStream context.
type natsPublisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

func dialNATS(_ context.Context, url string) (Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("rotaguard-analyzer"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("shipper: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("shipper: nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &natsPublisher{nc: nc, js: js}, nil
}

// Publish sends data asynchronously and waits for the stream's ack.
func (p *natsPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	fut, err := p.js.PublishAsync(subject, data)
	if err != nil {
		return classify(err)
	}
	select {
	case <-fut.Ok():
		return nil
	case err := <-fut.Err():
		return classify(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *natsPublisher) Close() error {
	p.nc.Close()
	return nil
}

// classify wraps errors that no retry can fix with ErrPermanent.
func classify(err error) error {
	switch {
	case errors.Is(err, nats.ErrMaxPayload),
		errors.Is(err, nats.ErrBadSubject),
		errors.Is(err, nats.ErrNoStreamResponse):
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	default:
		return err
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{initial: initial, current: initial}
}

// next returns the current backoff duration (±25% jitter) and advances the
// internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
