package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDefaults(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 250 * time.Millisecond},
		{2, 500 * time.Millisecond},
		{3, time.Second},
		{4, 2 * time.Second},
		{5, 4 * time.Second},
		{6, 4 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Delay(tt.attempt, nil), "attempt %d", tt.attempt)
	}
}

func TestDelayCustomPolicy(t *testing.T) {
	p := &Policy{Initial: 50 * time.Millisecond, Cap: 300 * time.Millisecond}

	assert.Equal(t, 50*time.Millisecond, Delay(1, p))
	assert.Equal(t, 100*time.Millisecond, Delay(2, p))
	assert.Equal(t, 200*time.Millisecond, Delay(3, p))
	assert.Equal(t, 300*time.Millisecond, Delay(4, p))
	assert.Equal(t, 300*time.Millisecond, Delay(9, p))
}

func TestDelayPartialPolicy(t *testing.T) {
	p := &Policy{Initial: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, Delay(1, p))
	assert.Equal(t, 4*time.Second, Delay(10, p), "cap falls back to default")

	p = &Policy{Cap: 600 * time.Millisecond}
	assert.Equal(t, 250*time.Millisecond, Delay(1, p), "initial falls back to default")
	assert.Equal(t, 600*time.Millisecond, Delay(3, p))
}

func TestDelayLowAttempts(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, Delay(0, nil))
	assert.Equal(t, 250*time.Millisecond, Delay(-3, nil))
}
