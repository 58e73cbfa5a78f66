package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
)

func TestRequestTier_RoundTripWithinRequest(t *testing.T) {
	tier := NewRequestTier()
	store := NewRequestStore()
	ctx := WithRequestStore(context.Background(), store)

	_, err := tier.Get(ctx, "s1")
	assert.ErrorIs(t, err, providers.ErrStateNotFound)

	require.NoError(t, tier.Put(ctx, "s1", []byte(`{"state":"reviewed"}`)))
	got, err := tier.Get(ctx, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"reviewed"}`, string(got))

	changed, ok := store.Changed("s1")
	assert.True(t, ok)
	assert.Equal(t, got, changed)
}

func TestRequestTier_SeedIsNotAChange(t *testing.T) {
	store := NewRequestStore()
	store.Seed("s1", []byte(`{}`))

	_, ok := store.Changed("s1")
	assert.False(t, ok)

	got, err := NewRequestTier().Get(WithRequestStore(context.Background(), store), "s1")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(got))
}

func TestRequestTier_DeleteMarksCleared(t *testing.T) {
	tier := NewRequestTier()
	store := NewRequestStore()
	store.Seed("s1", []byte(`{}`))
	ctx := WithRequestStore(context.Background(), store)

	require.NoError(t, tier.Delete(ctx, "s1"))

	value, ok := store.Changed("s1")
	assert.True(t, ok)
	assert.Empty(t, value)
	_, err := tier.Get(ctx, "s1")
	assert.ErrorIs(t, err, providers.ErrStateNotFound)
}

func TestRequestTier_PutWithoutRequestScope(t *testing.T) {
	err := NewRequestTier().Put(context.Background(), "s1", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNoRequestScope)
}

func TestRequestTier_PutRejectsStateTooLargeForToken(t *testing.T) {
	codec, err := NewTokenCodec("secret", 64, time.Hour)
	require.NoError(t, err)
	tier := NewRequestTier().WithTokenLimit(codec)
	store := NewRequestStore()
	ctx := WithRequestStore(context.Background(), store)

	err = tier.Put(ctx, "s1", []byte(`{"state":"enhanced","payload":{"a":"a long enough value"}}`))
	assert.ErrorIs(t, err, ErrTokenTooLarge)
	_, changed := store.Changed("s1")
	assert.False(t, changed)
}

func TestTokenCodec_EncodeDecode(t *testing.T) {
	codec, err := NewTokenCodec("secret", 0, time.Hour)
	require.NoError(t, err)

	token, err := codec.Encode("s1", []byte(`{"state":"enhanced","payload":{"b":1,"a":2}}`))
	require.NoError(t, err)

	data, err := codec.Decode("s1", token)
	require.NoError(t, err)
	assert.Equal(t, `{"state":"enhanced","payload":{"b":1,"a":2}}`, string(data))
}

func TestTokenCodec_RejectsOtherSession(t *testing.T) {
	codec, err := NewTokenCodec("secret", 0, time.Hour)
	require.NoError(t, err)

	token, err := codec.Encode("s1", []byte(`{}`))
	require.NoError(t, err)

	_, err = codec.Decode("s2", token)
	assert.Error(t, err)
}

func TestTokenCodec_RejectsTamperedAndExpired(t *testing.T) {
	codec, err := NewTokenCodec("secret", 0, time.Minute)
	require.NoError(t, err)
	token, err := codec.Encode("s1", []byte(`{}`))
	require.NoError(t, err)

	other, err := NewTokenCodec("another-secret", 0, time.Minute)
	require.NoError(t, err)
	_, err = other.Decode("s1", token)
	assert.Error(t, err)

	codec.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = codec.Decode("s1", token)
	assert.Error(t, err)
}

func TestTokenCodec_SizeLimit(t *testing.T) {
	codec, err := NewTokenCodec("secret", 256, time.Hour)
	require.NoError(t, err)

	_, err = codec.Encode("s1", make([]byte, 1024))
	assert.ErrorIs(t, err, ErrTokenTooLarge)
}
