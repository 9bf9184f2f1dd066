package chatclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_OnDisconnect(t *testing.T) {
	b := NewBackoff(DefaultMaxAttempts, DefaultBaseDelay)

	var total time.Duration
	for n := 1; n <= DefaultMaxAttempts; n++ {
		delay, ok := b.OnDisconnect()
		assert.True(t, ok)
		assert.Equal(t, time.Duration(n)*time.Second, delay)
		total += delay
	}
	assert.Equal(t, 15*time.Second, total)

	_, ok := b.OnDisconnect()
	assert.False(t, ok)
	assert.Equal(t, DefaultMaxAttempts, b.Attempt())

	b.Reset()
	delay, ok := b.OnDisconnect()
	assert.True(t, ok)
	assert.Equal(t, time.Second, delay)
}
