package session

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingTarget struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTarget) Sweep() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingTarget) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestSweeperRunsAndStops(t *testing.T) {
	target := &countingTarget{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper := NewSweeper(10*time.Millisecond, logger, target)

	sweeper.Start()
	assert.Eventually(t, func() bool { return target.count() >= 2 },
		time.Second, 5*time.Millisecond)

	sweeper.Stop()
	after := target.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, target.count(), "no sweeps after Stop")
}

func TestSweeperStopIsIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper := NewSweeper(time.Hour, logger, &countingTarget{})
	sweeper.Start()
	sweeper.Stop()
	sweeper.Stop()
}
