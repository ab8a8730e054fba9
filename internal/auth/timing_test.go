package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitDelaysFailures(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 20})

	start := time.Now()
	td.Wait(false)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitSkipsSuccessByDefault(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 50})

	start := time.Now()
	td.Wait(true)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitDelaysSuccessWhenConfigured(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 20, DelayOnSuccess: true})

	start := time.Now()
	td.Wait(true)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitFromCountsElapsedWork(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 30})

	// Work that already took longer than the target adds no extra delay
	start := time.Now().Add(-100 * time.Millisecond)
	begin := time.Now()
	td.WaitFrom(start, false)
	assert.Less(t, time.Since(begin), 20*time.Millisecond)
}

func TestCryptoRandIntnBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		n, err := cryptoRandIntn(7)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 7)
	}

	n, err := cryptoRandIntn(0)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
