package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bindery/internal/services"
)

// Outcome is the final result of a book pipeline.
type Outcome struct {
	ASIN    string
	Success bool
	Path    string
	Message string
	Err     error
}

// Completion resolves once per processor.
type Completion struct {
	done     chan struct{}
	prepared chan struct{}
	prepOnce sync.Once
	outcome  Outcome
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{}), prepared: make(chan struct{})}
}

// Done is closed when the outcome is available.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Prepared is closed when the PREPARE phase has finished, successfully or
// not. It is always closed before or together with Done.
func (c *Completion) Prepared() <-chan struct{} { return c.prepared }

// Outcome returns the result if the pipeline has resolved.
func (c *Completion) Outcome() (Outcome, bool) {
	select {
	case <-c.done:
		return c.outcome, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the pipeline resolves, timeout elapses, or ctx ends. A
// non-positive timeout waits without a deadline.
func (c *Completion) Wait(ctx context.Context, timeout time.Duration) (Outcome, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-c.done:
		return c.outcome, nil
	case <-deadline:
		return Outcome{}, services.Wrap(services.ErrTimeout, "pipeline", "wait", fmt.Sprintf("no result after %s", timeout), nil)
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (c *Completion) markPrepared() {
	c.prepOnce.Do(func() { close(c.prepared) })
}

// resolve must be called at most once; the processor's settle flag guards it.
func (c *Completion) resolve(outcome Outcome) {
	c.markPrepared()
	c.outcome = outcome
	close(c.done)
}
