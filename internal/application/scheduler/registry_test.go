package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddRemove(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, 0, reg.Len())

	r := &run{id: "123456789012", cancel: func() {}, startedAt: time.Now()}
	reg.add(r)
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.get("123456789012")
	require.True(t, ok)
	assert.Same(t, r, got)

	removed, ok := reg.remove("123456789012")
	require.True(t, ok)
	assert.Same(t, r, removed)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	reg.add(&run{id: "123456789012", cancel: func() {}})

	_, ok := reg.remove("123456789012")
	require.True(t, ok)

	// Second removal and unknown ids report false instead of erroring.
	_, ok = reg.remove("123456789012")
	assert.False(t, ok)
	_, ok = reg.remove("999999999999")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}
