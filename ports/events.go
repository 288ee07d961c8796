package ports

import (
	"context"

	"github.com/layer-3/powgate/core"
)

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLogout(ctx context.Context, subjectID string, tokenID string) error
	PublishAuthFailure(ctx context.Context, event core.AuditEvent) error
}

// AuditSink receives rejected login attempts. Record must never block and
// never fail the caller.
type AuditSink interface {
	Record(ctx context.Context, event core.AuditEvent)
}
