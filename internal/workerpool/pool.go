package workerpool

import (
	"context"
	"errors"
	"time"

	"github.com/tendant/visual-assistant/internal/apperr"
	"github.com/tendant/visual-assistant/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when no slot frees up within the queue timeout
var ErrBusy = errors.New("inference capacity exhausted")

// Pool bounds the number of concurrent engine calls.
// Callers beyond the limit wait up to queueTimeout, then get ErrBusy.
type Pool struct {
	sem          *semaphore.Weighted
	size         int64
	queueTimeout time.Duration
	metrics      *metrics.Metrics
}

// New creates a pool with size slots. size < 1 is treated as 1.
func New(size int, queueTimeout time.Duration, m *metrics.Metrics) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:          semaphore.NewWeighted(int64(size)),
		size:         int64(size),
		queueTimeout: queueTimeout,
		metrics:      m,
	}
}

// Size returns the number of slots
func (p *Pool) Size() int {
	return int(p.size)
}

// Do runs fn while holding a slot
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.sem.Release(1)

	p.metrics.InferenceStarted()
	defer p.metrics.InferenceFinished()

	return fn(ctx)
}

func (p *Pool) acquire(ctx context.Context) error {
	if p.queueTimeout <= 0 {
		if p.sem.TryAcquire(1) {
			return nil
		}
		p.metrics.InferenceRejected()
		return apperr.Wrap(apperr.KindBusy, "workerpool", "server is busy, retry later", ErrBusy)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.queueTimeout)
	defer cancel()

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		// Caller went away: report their cancellation, not backpressure
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.metrics.InferenceRejected()
		return apperr.Wrap(apperr.KindBusy, "workerpool", "server is busy, retry later", ErrBusy)
	}
	return nil
}
