// Package subscriber maintains a client-side mirror of an owner's upload
// records by consuming the newline-delimited JSON event stream.
package subscriber

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"document-context-platform/internal/logger"
	"document-context-platform/internal/retry"
	"document-context-platform/models"
)

// Dialer opens one long-lived event stream connection for an owner.
type Dialer interface {
	Dial(ctx context.Context, ownerID string) (io.ReadCloser, error)
}

// errorClearWindow is how long a connection error stays visible before it
// auto-clears, independent of stream state.
const errorClearWindow = 5 * time.Second

// maxLineSize bounds one NDJSON event; record snapshots with embeddings can
// get large.
const maxLineSize = 1 << 20

// Subscriber consumes record events and applies them to a local collection
// keyed by record id. The stream connection is reference-counted over
// observers: the first Attach connects, the last Detach disconnects.
type Subscriber struct {
	dialer  Dialer
	ownerID string
	policy  retry.Policy

	mu            sync.Mutex
	records       map[string]models.UploadRecord
	lastError     string
	errGen        int
	observers     int
	cancel        context.CancelFunc
	lastHeartbeat time.Time

	// test seams
	sleep      func(ctx context.Context, d time.Duration) error
	clearAfter time.Duration
}

type Option func(*Subscriber)

// WithBackoff overrides the reconnect policy (default 1s base, doubling,
// 5 attempts).
func WithBackoff(p retry.Policy) Option {
	return func(s *Subscriber) { s.policy = p }
}

// WithSleep injects the wait function used between reconnect attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Subscriber) { s.sleep = fn }
}

// WithErrorClearWindow overrides the error auto-clear window.
func WithErrorClearWindow(d time.Duration) Option {
	return func(s *Subscriber) { s.clearAfter = d }
}

func New(dialer Dialer, ownerID string, opts ...Option) *Subscriber {
	s := &Subscriber{
		dialer:     dialer,
		ownerID:    ownerID,
		policy:     retry.Policy{MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 2},
		records:    make(map[string]models.UploadRecord),
		clearAfter: errorClearWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sleep == nil {
		s.sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
	return s
}

// Attach registers an observer. The first observer opens the stream.
func (s *Subscriber) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers++
	if s.observers == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.run(ctx)
	}
}

// Detach removes an observer. The last observer closes the stream.
func (s *Subscriber) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.observers == 0 {
		return
	}
	s.observers--
	if s.observers == 0 && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// run connects and reconnects with exponential backoff until cancelled or
// the attempt budget is exhausted. A successful connection resets the
// backoff so the next failure starts over at the base delay.
func (s *Subscriber) run(ctx context.Context) {
	backoff := retry.Backoff{Policy: s.policy}
	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := s.dialer.Dial(ctx, s.ownerID)
		if err != nil {
			s.setError(err)
			if !s.wait(ctx, &backoff) {
				return
			}
			continue
		}
		backoff.Reset()

		err = s.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.setError(err)
		}
		if !s.wait(ctx, &backoff) {
			return
		}
	}
}

func (s *Subscriber) wait(ctx context.Context, b *retry.Backoff) bool {
	d, ok := b.Next()
	if !ok {
		logger.Error("event stream reconnect attempts exhausted", "owner_id", s.ownerID)
		return false
	}
	return s.sleep(ctx, d) == nil
}

// consume applies events until the stream ends. Malformed payloads are
// dropped and logged, never fatal.
func (s *Subscriber) consume(ctx context.Context, stream io.Reader) error {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev models.RecordEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn("dropping malformed stream event", "owner_id", s.ownerID, "error", err)
			continue
		}
		s.apply(ev)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("event stream closed")
}

func (s *Subscriber) apply(ev models.RecordEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case models.EventRecordUpdate:
		if ev.Record == nil {
			logger.Warn("record-update event without record", "owner_id", s.ownerID)
			return
		}
		s.records[ev.Record.ID] = *ev.Record
	case models.EventRecordDeleted:
		delete(s.records, ev.RecordID)
	case models.EventHeartbeat:
		s.lastHeartbeat = ev.Timestamp
	default:
		logger.Warn("dropping unknown event type", "owner_id", s.ownerID, "type", ev.Type)
	}
}

func (s *Subscriber) setError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.errGen++
	gen := s.errGen
	s.mu.Unlock()

	time.AfterFunc(s.clearAfter, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.errGen == gen {
			s.lastError = ""
		}
	})
}

// Records returns a snapshot of the local collection.
func (s *Subscriber) Records() []models.UploadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UploadRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// Record looks up one record by id.
func (s *Subscriber) Record(id string) (models.UploadRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// LastError returns the most recent connection error, or "" once it has
// auto-cleared.
func (s *Subscriber) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// LastHeartbeat returns the timestamp of the most recent liveness signal.
func (s *Subscriber) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}
