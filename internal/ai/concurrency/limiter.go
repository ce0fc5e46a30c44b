// Package concurrency caps simultaneous requests per model across every
// process that shares a model credential.
//
// Each process keeps local accounting and a FIFO wait queue; the global
// count lives in Redis and changes are announced over Pub/Sub so waiting
// processes can retry promptly. The shared count is eventually consistent:
// two processes may both pass their checks and briefly exceed the cap by a
// small margin.
package concurrency

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	errx "github.com/mc-plugin-market/assistant/internal/core/error"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// ErrLimiterClosed is returned to waiters when the limiter is cleaned up.
var ErrLimiterClosed = errors.New("concurrency limiter closed")

type publishFunc func(ctx context.Context, msg SyncMessage) error

type waiter struct {
	ready chan struct{}
}

// Limiter guards one model id.
type Limiter struct {
	modelID        string
	instanceID     string
	counter        Counter
	publish        publishFunc
	waitTimeout    time.Duration
	releaseTimeout time.Duration

	mu       sync.Mutex
	max      int
	held     int
	claiming int
	queue    *list.List
	closed   bool
}

type limiterOptions struct {
	instanceID     string
	publish        publishFunc
	waitTimeout    time.Duration
	releaseTimeout time.Duration
}

func newLimiter(modelID string, max int, counter Counter, opts limiterOptions) *Limiter {
	if opts.releaseTimeout <= 0 {
		opts.releaseTimeout = 5 * time.Second
	}
	if opts.publish == nil {
		opts.publish = func(context.Context, SyncMessage) error { return nil }
	}
	return &Limiter{
		modelID:        modelID,
		instanceID:     opts.instanceID,
		counter:        counter,
		publish:        opts.publish,
		waitTimeout:    opts.waitTimeout,
		releaseTimeout: opts.releaseTimeout,
		max:            max,
		queue:          list.New(),
	}
}

// Acquire claims one slot.
//
// A slot is granted when this process holds fewer than the cap and the
// shared counter accepts a compare-and-set increment. With a zero wait
// timeout a refusal is immediate. Otherwise the caller waits in FIFO order
// and the head retries whenever a local release or a remote sync message
// arrives. Refusal returns a ConcurrencyLimitError carrying the cap;
// cancellation returns the context error.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if l.waitTimeout <= 0 {
		ok, err := l.tryClaim(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return l.limitError()
		}
		return nil
	}

	w, elem := l.enqueue()
	if elem == nil {
		return ErrLimiterClosed
	}
	defer l.leave(elem)

	timer := time.NewTimer(l.waitTimeout)
	defer timer.Stop()

	for {
		if l.isHead(elem) {
			ok, err := l.tryClaim(ctx)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}

		select {
		case <-w.ready:
		case <-timer.C:
			return l.limitError()
		case <-ctx.Done():
			return ctx.Err()
		}

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return ErrLimiterClosed
		}
	}
}

// Release returns one slot. It must be called exactly once per successful
// Acquire and does not depend on the caller's context, so it also works
// after cancellation.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.held == 0 {
		closed := l.closed
		l.mu.Unlock()
		if !closed {
			logx.Warn().Str("model", l.modelID).Msg("release without a held slot")
		}
		return
	}
	l.held--
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.releaseTimeout)
	defer cancel()

	count, err := l.counter.Decrement(ctx, l.modelID, 1)
	if err != nil {
		logx.Error().Err(err).Str("model", l.modelID).Msg("Failed to release shared slot")
	} else {
		l.broadcast(ctx, count)
	}
	l.wakeHead()
}

// Cleanup returns every slot this process still holds to the shared counter
// and fails all waiters. Later Release calls become no-ops.
func (l *Limiter) Cleanup(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	held := l.held
	l.held = 0
	for e := l.queue.Front(); e != nil; e = e.Next() {
		signal(e.Value.(*waiter))
	}
	l.mu.Unlock()

	if held == 0 {
		return nil
	}
	count, err := l.counter.Decrement(ctx, l.modelID, held)
	if err != nil {
		logx.Error().Err(err).Str("model", l.modelID).Int("held", held).Msg("Failed to clean up shared slots")
		return err
	}
	logx.Debug().Str("model", l.modelID).Int("released", held).Int("count", count).Msg("concurrency slots cleaned up")
	l.broadcast(ctx, count)
	return nil
}

// SetMax changes the cap; raising it lets the head waiter retry at once.
func (l *Limiter) SetMax(max int) {
	if max <= 0 {
		return
	}
	l.mu.Lock()
	raised := max > l.max
	l.max = max
	l.mu.Unlock()
	if raised {
		l.wakeHead()
	}
}

func (l *Limiter) MaxConcurrency() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max
}

// Held is the number of slots this process currently owns.
func (l *Limiter) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Waiting is the length of the local queue.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.Len()
}

// Count reads the shared in-flight count for the model.
func (l *Limiter) Count(ctx context.Context) (int, error) {
	return l.counter.Count(ctx, l.modelID)
}

// notify is called for sync messages from other processes.
func (l *Limiter) notify() {
	l.wakeHead()
}

// tryClaim reserves a local slot, then asks the shared counter for one.
// The reservation keeps concurrent claims in this process under the cap
// while the Redis round trip is in flight.
func (l *Limiter) tryClaim(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false, ErrLimiterClosed
	}
	if l.held+l.claiming >= l.max {
		l.mu.Unlock()
		return false, nil
	}
	l.claiming++
	max := l.max
	l.mu.Unlock()

	// The increment must not be cut off by the caller's cancellation once
	// it is sent, or the slot could be counted in Redis but never held here.
	casCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.releaseTimeout)
	count, ok, err := l.counter.TryIncrement(casCtx, l.modelID, max)
	cancel()

	l.mu.Lock()
	l.claiming--
	if err != nil || !ok {
		l.mu.Unlock()
		return false, err
	}
	if l.closed {
		l.mu.Unlock()
		l.giveBack()
		return false, ErrLimiterClosed
	}
	l.held++
	l.mu.Unlock()

	l.broadcast(ctx, count)
	return true, nil
}

// giveBack undoes a shared increment that lost a race with Cleanup.
func (l *Limiter) giveBack() {
	ctx, cancel := context.WithTimeout(context.Background(), l.releaseTimeout)
	defer cancel()
	if count, err := l.counter.Decrement(ctx, l.modelID, 1); err == nil {
		l.broadcast(ctx, count)
	}
}

func (l *Limiter) limitError() error {
	max := l.MaxConcurrency()
	logx.Warn().Str("model", l.modelID).Int("max", max).Msg("concurrency limit reached")
	return errx.NewConcurrencyLimit(max)
}

func (l *Limiter) broadcast(ctx context.Context, count int) {
	err := l.publish(ctx, SyncMessage{
		ModelID:    l.modelID,
		Count:      count,
		InstanceID: l.instanceID,
	})
	if err != nil {
		logx.Debug().Err(err).Str("model", l.modelID).Msg("sync broadcast failed")
	}
}

func (l *Limiter) enqueue() (*waiter, *list.Element) {
	w := &waiter{ready: make(chan struct{}, 1)}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return w, nil
	}
	return w, l.queue.PushBack(w)
}

// leave removes a waiter; the next head gets a chance to claim whatever
// the departing waiter left free.
func (l *Limiter) leave(elem *list.Element) {
	l.mu.Lock()
	wasHead := l.queue.Front() == elem
	l.queue.Remove(elem)
	l.mu.Unlock()
	if wasHead {
		l.wakeHead()
	}
}

func (l *Limiter) isHead(elem *list.Element) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.Front() == elem
}

func (l *Limiter) wakeHead() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if front := l.queue.Front(); front != nil {
		signal(front.Value.(*waiter))
	}
}

func signal(w *waiter) {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}
