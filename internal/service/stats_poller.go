package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultPollInterval = 30 * time.Second

// StatsPoller re-issues a stats refresh on a fixed interval for
// dashboards that want near-real-time counts. Stop cancels the ticker
// goroutine and waits for it, so a torn-down view cannot leak polling.
type StatsPoller struct {
	interval time.Duration
	refresh  func(context.Context) error

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStatsPoller(interval time.Duration, refresh func(context.Context) error) (*StatsPoller, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if refresh == nil {
		return nil, errors.New("refresh must not be nil")
	}
	return &StatsPoller{
		interval: interval,
		refresh:  refresh,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the polling goroutine with an immediate first refresh.
// Returns false when already running.
func (p *StatsPoller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running.Store(true)

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		slog.Info("stats poller started", "interval", p.interval.String())

		p.safeRefresh(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("stats poller stopping")
				return
			case <-ticker.C:
				p.safeRefresh(ctx)
			}
		}
	}()

	return true
}

// Stop cancels polling and blocks until the goroutine has exited.
// Returns false when not running.
func (p *StatsPoller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return false
	}

	p.cancel()
	<-p.done
	p.running.Store(false)

	slog.Info("stats poller stopped")
	return true
}

func (p *StatsPoller) IsRunning() bool {
	return p.running.Load()
}

func (p *StatsPoller) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("stats refresh panic recovered", "panic", r)
		}
	}()

	if err := p.refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("stats refresh failed", "error", err)
	}
}
