// Package poller refetches a dashboard's orders while the push channel is down.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval bounds how stale a disconnected dashboard can get.
const DefaultInterval = 10 * time.Minute

// Poller calls Refresh every Interval while Connected reports false.
type Poller struct {
	Interval  time.Duration
	Connected func() bool
	Refresh   func(ctx context.Context) error
	Logger    *zap.Logger
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick performs one poll decision. It reports whether a refresh ran.
func (p *Poller) Tick(ctx context.Context) bool {
	if p.Connected != nil && p.Connected() {
		return false
	}
	if err := p.Refresh(ctx); err != nil {
		p.logger().Warn("reconciliation refresh failed", zap.Error(err))
	} else {
		p.logger().Info("reconciled orders while disconnected")
	}
	return true
}

func (p *Poller) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
