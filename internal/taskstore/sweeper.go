package taskstore

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically prunes expired tasks so idle relays do not keep
// memory. Reads prune lazily anyway; the sweeper never changes what
// callers observe.
type Sweeper struct {
	ctx      context.Context
	cancel   context.CancelFunc
	store    *Store
	logger   *logrus.Entry
	interval time.Duration
	done     chan struct{}
}

// SweeperConfig holds the configuration for the sweeper
type SweeperConfig struct {
	Store       *Store
	Logger      *logrus.Entry
	IntervalSec int
}

// NewSweeper creates a new sweeper
func NewSweeper(cfg *SweeperConfig) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	interval := time.Duration(cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		ctx:      ctx,
		cancel:   cancel,
		store:    cfg.Store,
		logger:   cfg.Logger.WithField("component", "task-sweeper"),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (w *Sweeper) Start() {
	w.logger.WithField("interval", w.interval).Info("Starting task sweeper")
	ticker := time.NewTicker(w.interval)
	go func() {
		defer close(w.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.sweep()
			case <-w.ctx.Done():
				w.logger.Info("Stopping task sweeper")
				return
			}
		}
	}()
}

// Stop stops the sweeper and waits for the loop to exit
func (w *Sweeper) Stop() {
	w.cancel()
	<-w.done
}

func (w *Sweeper) sweep() {
	if removed := w.store.Prune(); removed > 0 {
		w.logger.WithField("removed", removed).Debug("Pruned expired tasks")
	}
}
