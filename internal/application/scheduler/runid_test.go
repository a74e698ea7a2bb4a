package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunIDFormat(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := newRunID()
		require.Len(t, id, 12)
		assert.NotEqual(t, byte('0'), id[0], "leading digit must be non-zero")
		for _, c := range id {
			require.True(t, c >= '0' && c <= '9', "run id %q contains non-digit %q", id, c)
		}
	}
}

func TestNewRunIDVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		seen[newRunID()] = true
	}
	assert.Greater(t, len(seen), 90)
}
