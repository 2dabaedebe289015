package uploader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CancelAbsentKeyIsNoop(t *testing.T) {
	r := NewRegistry()

	r.Cancel("nope")
	r.Cancel("nope")
}

func TestRegistry_CancelFiresAndRemoves(t *testing.T) {
	r := NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	r.Register("job", cancel)

	require.Equal(t, []string{"job"}, r.Active())

	r.Cancel("job")

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Empty(t, r.Active())

	// Canceling again after removal is still a no-op.
	r.Cancel("job")
}

func TestRegistry_RegisterReplacesPreviousHolder(t *testing.T) {
	r := NewRegistry()

	ctx1, cancel1 := context.WithCancel(context.Background())
	reg1 := r.Register("job", cancel1)

	ctx2, cancel2 := context.WithCancel(context.Background())
	r.Register("job", cancel2)

	assert.ErrorIs(t, ctx1.Err(), context.Canceled, "previous upload under the key canceled")
	assert.NoError(t, ctx2.Err())

	// The replaced upload's deferred deregister must not evict the new holder.
	r.Deregister("job", reg1)
	assert.Equal(t, []string{"job"}, r.Active())
}

func TestRegistry_DeregisterRemovesOwnEntry(t *testing.T) {
	r := NewRegistry()

	_, cancel := context.WithCancel(context.Background())
	reg := r.Register("job", cancel)

	r.Deregister("job", reg)

	assert.Empty(t, r.Active())
}

func TestRegistry_CancelAll(t *testing.T) {
	r := NewRegistry()

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	r.Register("a", cancel1)
	r.Register("b", cancel2)

	r.CancelAll()

	assert.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)
	assert.Empty(t, r.Active())
}

func TestRegistry_ActiveSorted(t *testing.T) {
	r := NewRegistry()

	for _, key := range []string{"c", "a", "b"} {
		_, cancel := context.WithCancel(context.Background())
		r.Register(key, cancel)
	}

	assert.Equal(t, []string{"a", "b", "c"}, r.Active())
}
