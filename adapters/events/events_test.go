package events

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/layer-3/powgate/core"
	"github.com/layer-3/powgate/internal/logutil"
)

func TestWatermillPublisher(t *testing.T) {
	defer goleak.VerifyNone(t)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logutil.NewWatermillAdapter(zerolog.Nop()))
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logouts, err := pubSub.Subscribe(ctx, TopicLogout)
	require.NoError(t, err)
	failures, err := pubSub.Subscribe(ctx, TopicAuthFailure)
	require.NoError(t, err)

	p := NewWatermillPublisher(pubSub)

	go func() {
		_ = p.PublishLogout(ctx, "acc-1", "sess-1")
	}()
	select {
	case msg := <-logouts:
		msg.Ack()
		assert.Equal(t, "sess-1", msg.UUID)
		var event LogoutEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.Equal(t, LogoutEvent{SubjectID: "acc-1", TokenID: "sess-1"}, event)
	case <-ctx.Done():
		t.Fatal("logout event not delivered")
	}

	audit := core.AuditEvent{Kind: "SecurityGateFailure", Gate: core.GatePoW, Reason: "replayed", Username: "alice"}
	go func() {
		_ = p.PublishAuthFailure(ctx, audit)
	}()
	select {
	case msg := <-failures:
		msg.Ack()
		assert.NotEmpty(t, msg.UUID)
		var event core.AuditEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.Equal(t, core.GatePoW, event.Gate)
		assert.Equal(t, "replayed", event.Reason)
		assert.Equal(t, "alice", event.Username)
	case <-ctx.Done():
		t.Fatal("auth failure event not delivered")
	}
}

// blockingPublisher holds every publish until release is closed
type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu        sync.Mutex
	published []core.AuditEvent
}

func (b *blockingPublisher) PublishLogout(context.Context, string, string) error { return nil }

func (b *blockingPublisher) PublishAuthFailure(_ context.Context, event core.AuditEvent) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
	return nil
}

func TestAuditSink_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	pub := &blockingPublisher{started: make(chan struct{}), release: make(chan struct{})}
	var logs bytes.Buffer
	sink := NewAuditSink(zerolog.New(&logs), pub, 1)

	ctx := logutil.WithLogger(context.Background(), zerolog.New(&logs))

	sink.Record(ctx, core.AuditEvent{ID: "1", Gate: core.GateCSRF})
	<-pub.started

	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.Record(ctx, core.AuditEvent{ID: "2", Gate: core.GatePoW})
		sink.Record(ctx, core.AuditEvent{ID: "3", Gate: core.GateCredentials})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked")
	}

	close(pub.release)
	require.NoError(t, sink.Close())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.published, 2)
	assert.Equal(t, "1", pub.published[0].ID)
	assert.Equal(t, "2", pub.published[1].ID)
	assert.Contains(t, logs.String(), "Audit buffer full")

	// closed sinks ignore events
	sink.Record(ctx, core.AuditEvent{ID: "4"})
	assert.NoError(t, sink.Close())
}

func TestAuditSink_LogsWithoutPublisher(t *testing.T) {
	defer goleak.VerifyNone(t)

	var logs bytes.Buffer
	sink := NewAuditSink(zerolog.New(&logs), nil, 0)
	sink.Record(context.Background(), core.AuditEvent{ID: "evt-1", Gate: core.GateCredentials, Reason: "invalid_credentials"})
	require.NoError(t, sink.Close())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(logs.Bytes()), &line))
	assert.Equal(t, "Login attempt rejected", line["message"])
	assert.Equal(t, "credentials", line["gate"])
	assert.Equal(t, "invalid_credentials", line["reason"])
	assert.Equal(t, "audit", line["component"])
}
