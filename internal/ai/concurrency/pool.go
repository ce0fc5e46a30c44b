package concurrency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mc-plugin-market/assistant/internal/ai/model"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// Pool owns one Limiter per model id and the shared sync subscription.
type Pool struct {
	counter    Counter
	bus        *Broadcaster
	cfg        model.LimiterConfig
	instanceID string

	mu       sync.Mutex
	limiters map[string]*Limiter
	sub      *redis.PubSub
	stopBeat context.CancelFunc
	closed   bool
}

func NewPool(rdb redis.UniversalClient, cfg model.LimiterConfig) *Pool {
	instanceID := uuid.NewString()
	return &Pool{
		counter:    NewRedisCounter(rdb, instanceID, cfg),
		bus:        NewBroadcaster(rdb, cfg.Channel),
		cfg:        cfg,
		instanceID: instanceID,
		limiters:   make(map[string]*Limiter),
	}
}

// InstanceID identifies this process in sync messages.
func (p *Pool) InstanceID() string {
	return p.instanceID
}

// Start subscribes to sync messages from other processes and keeps this
// process's heartbeat alive. Without it the pool still enforces caps, but
// waiters only notice remote releases when their own process releases a
// slot, and slots held longer than the slot TTL without any counter update
// are treated as abandoned by other processes.
func (p *Pool) Start(ctx context.Context) error {
	if err := p.counter.Heartbeat(ctx); err != nil {
		return err
	}
	sub, err := p.bus.Subscribe(ctx, p.handleSync)
	if err != nil {
		return err
	}
	beatCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.sub = sub
	p.stopBeat = stop
	p.mu.Unlock()
	go p.heartbeat(beatCtx)
	logx.Debug().Str("instance", p.instanceID).Str("channel", p.cfg.Channel).Msg("concurrency sync subscribed")
	return nil
}

func (p *Pool) heartbeat(ctx context.Context) {
	interval := p.cfg.SlotTTL / 3
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.counter.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				logx.Warn().Err(err).Str("instance", p.instanceID).Msg("concurrency heartbeat failed")
			}
		}
	}
}

func (p *Pool) handleSync(msg SyncMessage) {
	if msg.InstanceID == p.instanceID {
		return
	}
	p.mu.Lock()
	l := p.limiters[msg.ModelID]
	p.mu.Unlock()
	if l != nil {
		l.notify()
	}
}

// Limiter returns the limiter for cfg.ID, creating it on first use. A
// changed MaxConcurrency is applied to the existing limiter.
func (p *Pool) Limiter(cfg model.ModelConfig) *Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters[cfg.ID]; ok {
		if l.MaxConcurrency() != cfg.MaxConcurrency {
			l.SetMax(cfg.MaxConcurrency)
		}
		return l
	}
	l := newLimiter(cfg.ID, cfg.MaxConcurrency, p.counter, limiterOptions{
		instanceID:     p.instanceID,
		publish:        p.bus.Publish,
		waitTimeout:    p.cfg.WaitTimeout,
		releaseTimeout: p.cfg.ReleaseTimeout,
	})
	if p.closed {
		l.closed = true
	}
	p.limiters[cfg.ID] = l
	return l
}

// Acquire claims a slot for cfg and returns its release function. The
// release function is safe to call more than once; only the first call
// returns the slot.
func (p *Pool) Acquire(ctx context.Context, cfg model.ModelConfig) (func(), error) {
	l := p.Limiter(cfg)
	if err := l.Acquire(ctx); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(l.Release) }, nil
}

// Close cleans up every limiter and drops the subscription. It is meant for
// process shutdown.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	limiters := make([]*Limiter, 0, len(p.limiters))
	for _, l := range p.limiters {
		limiters = append(limiters, l)
	}
	sub := p.sub
	p.sub = nil
	stopBeat := p.stopBeat
	p.mu.Unlock()
	if stopBeat != nil {
		stopBeat()
	}

	var errs []error
	for _, l := range limiters {
		if err := l.Cleanup(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
