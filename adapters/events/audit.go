package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/layer-3/powgate/core"
	"github.com/layer-3/powgate/internal/logutil"
	"github.com/layer-3/powgate/ports"
)

const DefaultAuditBuffer = 256

// AuditSink records rejected login attempts off the request path. Events are
// logged and, when a publisher is set, forwarded to TopicAuthFailure. A full
// buffer drops the event with a warning.
type AuditSink struct {
	events    chan core.AuditEvent
	publisher ports.EventPublisher
	log       zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAuditSink starts the sink worker. publisher may be nil.
func NewAuditSink(log zerolog.Logger, publisher ports.EventPublisher, buffer int) *AuditSink {
	if buffer <= 0 {
		buffer = DefaultAuditBuffer
	}
	s := &AuditSink{
		events:    make(chan core.AuditEvent, buffer),
		publisher: publisher,
		log:       log.With().Str("component", "audit").Logger(),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues event without blocking
func (s *AuditSink) Record(ctx context.Context, event core.AuditEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	select {
	case s.events <- event:
	default:
		log := logutil.GetOrDefault(ctx)
		log.Warn().
			Str("gate", event.Gate).
			Str("reason", event.Reason).
			Msg("Audit buffer full, dropping event")
	}
}

// Close stops accepting events and waits until the queued ones are handled
func (s *AuditSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	<-s.done
	return nil
}

func (s *AuditSink) run() {
	defer close(s.done)

	for event := range s.events {
		s.log.Warn().
			Str("event_id", event.ID).
			Str("kind", event.Kind).
			Str("gate", event.Gate).
			Str("reason", event.Reason).
			Str("username", event.Username).
			Str("client_address", event.ClientAddress).
			Time("at", event.Timestamp).
			Msg("Login attempt rejected")

		if s.publisher == nil {
			continue
		}
		if err := s.publisher.PublishAuthFailure(context.Background(), event); err != nil {
			logutil.Err(s.log.Error(), err).
				Str("event_id", event.ID).
				Msg("Failed to publish audit event")
		}
	}
}
