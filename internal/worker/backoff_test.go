package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	base := 5 * time.Second
	ceil := 5 * time.Minute

	assert.Equal(t, 5*time.Second, backoff(base, ceil, 1))
	assert.Equal(t, 10*time.Second, backoff(base, ceil, 2))
	assert.Equal(t, 20*time.Second, backoff(base, ceil, 3))
	assert.Equal(t, 40*time.Second, backoff(base, ceil, 4))
}

func TestBackoff_Capped(t *testing.T) {
	base := 5 * time.Second
	ceil := 30 * time.Second

	assert.Equal(t, ceil, backoff(base, ceil, 4))
	assert.Equal(t, ceil, backoff(base, ceil, 10))
	assert.Equal(t, ceil, backoff(base, ceil, 64), "huge attempt counts must not overflow")
}

func TestBackoff_ZeroAttemptsTreatedAsFirst(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, time.Minute, 0))
}
