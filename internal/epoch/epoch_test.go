package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuard_StartsAtZero(t *testing.T) {
	var g Guard

	_, ok := g.Current()
	assert.False(t, ok)

	assert.Equal(t, uint64(0), g.Next())
	assert.Equal(t, uint64(1), g.Next())

	cur, ok := g.Current()
	assert.True(t, ok)
	assert.Equal(t, uint64(1), cur)
}

func TestGuard_IsStale(t *testing.T) {
	var g Guard

	e0 := g.Next()
	assert.False(t, g.IsStale(e0), "latest epoch is fresh")

	e1 := g.Next()
	assert.True(t, g.IsStale(e0))
	assert.False(t, g.IsStale(e1))

	g.Next()
	assert.True(t, g.IsStale(e1))
}

func TestGuard_Monotonic(t *testing.T) {
	var g Guard
	prev := g.Next()
	for range 100 {
		e := g.Next()
		assert.Greater(t, e, prev)
		prev = e
	}
}
