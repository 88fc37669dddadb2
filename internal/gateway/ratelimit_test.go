package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterDisabled(t *testing.T) {
	for _, rpm := range []int{0, -1} {
		r := NewRateLimiter(rpm, 1)
		assert.False(t, r.Enabled())
		for i := 0; i < 100; i++ {
			assert.True(t, r.Allow("k"))
		}
	}
	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("k"))
}

func TestRateLimiterPerKeyBurst(t *testing.T) {
	r := NewRateLimiter(60, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow("a"))
	}
	assert.False(t, r.Allow("a"))
	assert.True(t, r.Allow("b"), "keys are limited independently")
}
