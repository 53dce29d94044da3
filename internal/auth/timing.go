package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig sets the minimum duration of a padded operation
type TimingConfig struct {
	MinDuration time.Duration
	Jitter      time.Duration // random extra up to this amount
}

// TimingDelay pads responses so that branches doing different amounts of
// work (account found or not) finish at indistinguishable times.
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
	}
}

// cryptoRandDuration returns a secure random duration in [0, max)
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0
	}

	randomValue := binary.BigEndian.Uint64(randomBytes)
	return time.Duration(randomValue % uint64(max))
}

// WaitFrom sleeps until at least MinDuration plus jitter has elapsed since
// start. It returns early if ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time) {
	if td == nil {
		return
	}

	target := td.config.MinDuration + cryptoRandDuration(td.config.Jitter)
	remaining := target - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
