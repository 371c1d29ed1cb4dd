package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "status:a1b2", StatusKey("a1b2"))
	assert.Equal(t, "results:a1b2", ResultKey("a1b2"))
	assert.NotEqual(t, StatusKey("x"), ResultKey("x"))
}

func TestTTLDefaults(t *testing.T) {
	r := New(&Config{}, nil)
	assert.Equal(t, time.Hour, r.statusTTL())
	assert.Equal(t, 2*time.Hour, r.resultTTL())

	r = New(&Config{StatusTTL: 5 * time.Minute, ResultTTL: 30 * time.Minute}, nil)
	assert.Equal(t, 5*time.Minute, r.statusTTL())
	assert.Equal(t, 30*time.Minute, r.resultTTL())
}
