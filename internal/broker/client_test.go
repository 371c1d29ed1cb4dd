package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, retryBackoff(base, 2, 0))
	assert.Equal(t, 200*time.Millisecond, retryBackoff(base, 2, 1))
	assert.Equal(t, 400*time.Millisecond, retryBackoff(base, 2, 2))

	// The configured multiplier steers the curve.
	assert.Equal(t, 150*time.Millisecond, retryBackoff(base, 1.5, 1))
	assert.Equal(t, 225*time.Millisecond, retryBackoff(base, 1.5, 2))
}
