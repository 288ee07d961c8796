package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/powgate/core"
)

const (
	TopicLogout      = "powgate.logout"
	TopicAuthFailure = "powgate.auth.failure"
)

// LogoutEvent represents a logout event
type LogoutEvent struct {
	SubjectID string `json:"subject_id"`
	TokenID   string `json:"token_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogout publishes a logout event so other instances can drop the session
func (p *WatermillPublisher) PublishLogout(ctx context.Context, subjectID string, tokenID string) error {
	event := LogoutEvent{
		SubjectID: subjectID,
		TokenID:   tokenID,
	}
	return p.publish(ctx, TopicLogout, tokenID, event)
}

// PublishAuthFailure publishes a rejected login attempt
func (p *WatermillPublisher) PublishAuthFailure(ctx context.Context, event core.AuditEvent) error {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	return p.publish(ctx, TopicAuthFailure, id, event)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, id string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
