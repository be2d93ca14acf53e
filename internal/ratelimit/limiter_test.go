package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenDenied(t *testing.T) {
	l := NewLimiter(100, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("client-a"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("client-a"))
}

func TestClientsAreIndependent(t *testing.T) {
	l := NewLimiter(100, 1)

	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
}
