package session

import (
	"log/slog"
	"sync"
	"time"
)

// Sweepable is anything the background sweeper can reclaim expired state
// from. The session stores and the attempt ledger both qualify.
type Sweepable interface {
	Sweep()
}

// Sweeper periodically reclaims expired records. Its lifetime is scoped to
// the server's: Start launches the loop, Stop signals shutdown and the
// loop exits between scans.
type Sweeper struct {
	interval time.Duration
	targets  []Sweepable
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper over the given targets.
func NewSweeper(interval time.Duration, logger *slog.Logger, targets ...Sweepable) *Sweeper {
	return &Sweeper{
		interval: interval,
		targets:  targets,
		logger:   logger.With("component", "sweeper"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the loop to exit and waits for it.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			start := time.Now()
			for _, target := range s.targets {
				target.Sweep()
			}
			s.logger.Debug("sweep complete", "elapsed", time.Since(start).String())
		}
	}
}
