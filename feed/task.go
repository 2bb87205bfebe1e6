package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"prop-ledger/models"
	"prop-ledger/observability"
)

// ErrTaskRunning is returned by Start on a task that is already running
var ErrTaskRunning = errors.New("price feed task already running")

// Task polls a Feed on a fixed interval while the terminal view is open.
// Each tick hands the polled quotes to OnTick.
type Task struct {
	feed     *Feed
	clock    clock.Clock
	interval time.Duration
	symbols  func() []string
	onTick   func(models.Quotes)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTask creates a stopped task. symbols is consulted on every tick.
func NewTask(feed *Feed, interval time.Duration, symbols func() []string, onTick func(models.Quotes)) *Task {
	return &Task{
		feed:     feed,
		clock:    feed.clock,
		interval: interval,
		symbols:  symbols,
		onTick:   onTick,
	}
}

// Start polls once immediately and then on every interval until Stop or
// ctx is cancelled.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return ErrTaskRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	ticker := t.clock.Ticker(t.interval)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	observability.Info("price feed started", "interval", t.interval.String())

	go func() {
		defer close(done)
		defer ticker.Stop()

		t.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.tick(ctx)
			}
		}
	}()

	return nil
}

// Stop cancels the timer and waits for an in-progress poll to finish.
// Stopping a stopped task is a no-op.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	observability.Info("price feed stopped")
}

// Running reports whether the task is started
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Task) tick(ctx context.Context) {
	symbols := t.symbols()
	if len(symbols) == 0 {
		return
	}
	quotes := t.feed.Poll(ctx, symbols)
	if ctx.Err() != nil {
		return
	}
	if t.onTick != nil && len(quotes) > 0 {
		t.onTick(quotes)
	}
}
