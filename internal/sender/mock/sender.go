package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/acme/dm-campaign-engine/internal/config"
	"github.com/acme/dm-campaign-engine/internal/sender"
)

// Sender simulates platform DM delivery.
type Sender struct {
	successRate float64
	timeout     time.Duration
	rng         *rand.Rand
}

// New constructs a mock sender with deterministic randomness.
func New(cfg config.SenderConfig) *Sender {
	rate := cfg.SuccessRate
	if rate <= 0 || rate > 1 {
		rate = 0.9
	}
	seed := time.Now().UnixNano()
	return &Sender{
		successRate: rate,
		timeout:     cfg.RequestTimeout,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Send simulates a delivery attempt.
func (s *Sender) Send(ctx context.Context, dm sender.OutboundDM) (sender.Result, error) {
	duration := time.Duration(50+s.rng.Intn(450)) * time.Millisecond

	select {
	case <-ctx.Done():
		return sender.Result{Duration: duration, Retryable: true, Error: ctx.Err().Error()}, ctx.Err()
	case <-time.After(duration):
	}

	if s.rng.Float64() <= s.successRate {
		return sender.Result{Delivered: true, Duration: duration}, nil
	}

	retryable := s.rng.Float64() < 0.7
	return sender.Result{Duration: duration, Retryable: retryable, Error: "simulated delivery failure"}, nil
}
