package csrf_test

import (
	"context"
	"encoding/base64"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/powgate/adapters/csrf"
	"github.com/layer-3/powgate/adapters/store"
	"github.com/layer-3/powgate/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingKV records how often the token store is read
type countingKV struct {
	*store.MemoryStore
	reads atomic.Int32
}

func (c *countingKV) Get(ctx context.Context, key string) ([]byte, error) {
	c.reads.Add(1)
	return c.MemoryStore.Get(ctx, key)
}

func (c *countingKV) Take(ctx context.Context, key string) ([]byte, error) {
	c.reads.Add(1)
	return c.MemoryStore.Take(ctx, key)
}

func newKV(t *testing.T) *countingKV {
	kv := store.NewMemoryStore(0)
	t.Cleanup(func() { _ = kv.Close() })
	return &countingKV{MemoryStore: kv}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := csrf.NewService(newKV(t), csrf.WithTTL(5*time.Minute), csrf.WithClock(func() time.Time { return now }))

	tok, err := svc.Generate(ctx, "login", "visit-1")
	require.NoError(t, err)
	raw, err := base64.RawURLEncoding.DecodeString(tok.Value)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.Equal(t, "login", tok.Scope)
	assert.Equal(t, "visit-1", tok.BoundSession)
	assert.Equal(t, now.Add(5*time.Minute), tok.ExpiresAt)

	other, err := svc.Generate(ctx, "login", "visit-1")
	require.NoError(t, err)
	assert.NotEqual(t, tok.Value, other.Value)

	_, err = svc.Generate(ctx, "", "visit-1")
	assert.ErrorIs(t, err, core.ErrMissingField)
	_, err = svc.Generate(ctx, "login", "")
	assert.ErrorIs(t, err, core.ErrMissingField)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		scope   string
		session string
		want    error
	}{
		{"matching", "login", "visit-1", nil},
		{"wrong scope", "transfer", "visit-1", core.ErrCSRFMismatch},
		{"wrong session", "login", "visit-2", core.ErrCSRFMismatch},
		{"both wrong", "transfer", "visit-2", core.ErrCSRFMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := csrf.NewService(newKV(t))
			tok, err := svc.Generate(ctx, "login", "visit-1")
			require.NoError(t, err)

			err = svc.Validate(ctx, tok.Value, tc.scope, tc.session)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestValidate_SingleUse(t *testing.T) {
	ctx := context.Background()
	svc := csrf.NewService(newKV(t))

	tok, err := svc.Generate(ctx, "login", "visit-1")
	require.NoError(t, err)

	require.NoError(t, svc.Validate(ctx, tok.Value, "login", "visit-1"))
	assert.ErrorIs(t, svc.Validate(ctx, tok.Value, "login", "visit-1"), core.ErrCSRFInvalid)
}

func TestValidate_MultiUse(t *testing.T) {
	ctx := context.Background()
	svc := csrf.NewService(newKV(t), csrf.WithSingleUse(false))

	tok, err := svc.Generate(ctx, "login", "visit-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Validate(ctx, tok.Value, "login", "visit-1"))
	}
}

func TestValidate_Expired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := csrf.NewService(newKV(t), csrf.WithTTL(time.Minute), csrf.WithSingleUse(false),
		csrf.WithClock(func() time.Time { return now }))

	tok, err := svc.Generate(ctx, "login", "visit-1")
	require.NoError(t, err)

	now = now.Add(time.Minute - time.Nanosecond)
	require.NoError(t, svc.Validate(ctx, tok.Value, "login", "visit-1"))

	now = now.Add(time.Nanosecond)
	assert.ErrorIs(t, svc.Validate(ctx, tok.Value, "login", "visit-1"), core.ErrCSRFExpired)
}

func TestValidate_FailsClosedWithoutStoreAccess(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	svc := csrf.NewService(kv)

	assert.ErrorIs(t, svc.Validate(ctx, "", "login", "visit-1"), core.ErrCSRFMissing)
	assert.ErrorIs(t, svc.Validate(ctx, "short", "login", "visit-1"), core.ErrCSRFInvalid)
	assert.ErrorIs(t, svc.Validate(ctx, "!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!", "login", "visit-1"), core.ErrCSRFInvalid)
	assert.Zero(t, kv.reads.Load())

	unknown := base64.RawURLEncoding.EncodeToString(make([]byte, 32))
	assert.ErrorIs(t, svc.Validate(ctx, unknown, "login", "visit-1"), core.ErrCSRFInvalid)
	assert.EqualValues(t, 1, kv.reads.Load())
	assert.Equal(t, core.KindSecurityGate, core.KindOf(core.ErrCSRFInvalid))
}
