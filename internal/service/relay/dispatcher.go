package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/pipbot/internal/model/chat"
)

// ErrThrottled 表示发送者超出了速率限制。
var ErrThrottled = errors.New("sender is sending too fast")

// ErrOverloaded 表示已有 MaxQueued 个提交在等待空闲 worker。
var ErrOverloaded = errors.New("dispatcher queue is full")

const maxTrackedSenders = 4096

// DispatcherOptions 配置并发度与按发送者的限流。
// RatePerMinute <= 0 关闭限流，MaxQueued <= 0 时 Submit 无限等待。
type DispatcherOptions struct {
	Workers       int
	MaxQueued     int
	RatePerMinute int
	Burst         int
	Logger        *zap.Logger
}

// Dispatcher 在有界的 goroutine 池上运行编排流程。
type Dispatcher struct {
	pool   *ants.Pool
	limit  rate.Limit
	burst  int
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("dispatcher")

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	poolOpts := []ants.Option{
		ants.WithPanicHandler(func(v any) {
			logger.Error("pipeline panicked", zap.Any("panic", v))
		}),
	}
	if opts.MaxQueued > 0 {
		poolOpts = append(poolOpts, ants.WithMaxBlockingTasks(opts.MaxQueued))
	}
	pool, err := ants.NewPool(workers, poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	d := &Dispatcher{
		pool:     pool,
		limit:    rate.Inf,
		burst:    opts.Burst,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	if opts.RatePerMinute > 0 {
		d.limit = rate.Every(time.Minute / time.Duration(opts.RatePerMinute))
		if d.burst < 1 {
			d.burst = 1
		}
	}
	return d, nil
}

// Submit 将 ev 交给 p 处理，done 非空时在 worker 上接收结果。
// 所有 worker 忙碌时阻塞，最多允许 MaxQueued 个调用方等待。
func (d *Dispatcher) Submit(ctx context.Context, p *Pipeline, ev chat.Inbound, reply ReplyFunc, done func(Outcome, error)) error {
	if !d.allow(ev.SenderID) {
		d.logger.Info("dropping event from throttled sender",
			zap.String("sender", ev.SenderID), zap.String("event", ev.EventID))
		return ErrThrottled
	}

	err := d.pool.Submit(func() {
		out, err := p.Handle(ctx, ev, reply)
		if err != nil {
			d.logger.Warn("event aborted", zap.String("event", ev.EventID), zap.Error(err))
		}
		if done != nil {
			done(out, err)
		}
	})
	if errors.Is(err, ants.ErrPoolOverload) {
		d.logger.Warn("dropping event, queue full", zap.String("event", ev.EventID))
		return ErrOverloaded
	}
	return err
}

// Running 返回忙碌的 worker 数。
func (d *Dispatcher) Running() int { return d.pool.Running() }

// Close 最多等待 timeout 处理完排队事件，然后释放协程池。
func (d *Dispatcher) Close(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}

func (d *Dispatcher) allow(sender string) bool {
	if d.limit == rate.Inf {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	lim, ok := d.limiters[sender]
	if !ok {
		if len(d.limiters) >= maxTrackedSenders {
			d.evictIdle()
		}
		lim = rate.NewLimiter(d.limit, d.burst)
		d.limiters[sender] = lim
	}
	return lim.Allow()
}

// evictIdle 清理令牌桶已满的发送者。
func (d *Dispatcher) evictIdle() {
	for sender, lim := range d.limiters {
		if lim.Tokens() >= float64(d.burst) {
			delete(d.limiters, sender)
		}
	}
}
