// Package health 周期性探测交易所可用性，并在恢复后重放延后的订单。
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autotg/internal/exchange"
	"autotg/internal/model"
	"autotg/internal/notify"

	"go.uber.org/zap"
)

const DefaultInterval = 6 * time.Minute

// State 最近一次探测结论。
type State string

const (
	StateUnknown   State = "unknown"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// Prober 探测上游，通常是交易所 /me。
type Prober interface {
	Me(ctx context.Context) (exchange.Account, error)
}

type SettingsSource interface {
	Settings() model.Settings
}

type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, text, orderID string)
}

// ReplayFunc 同步处理一个延后的订单。
type ReplayFunc func(ctx context.Context, o model.Order)

type Options struct {
	Prober   Prober
	Buffer   Buffer
	Replay   ReplayFunc
	Settings SettingsSource
	Notifier Notifier
	Interval time.Duration
	Logger   *zap.SugaredLogger
}

// Status 对外暴露的健康快照。
type Status struct {
	State     State     `json:"state"`
	CheckedAt time.Time `json:"checked_at"`
	LastError string    `json:"last_error,omitempty"`
	Deferred  int       `json:"deferred"`
}

// Monitor 记录上游健康状态，同时作为流水线的延后队列入口。
type Monitor struct {
	prober   Prober
	buffer   Buffer
	replay   ReplayFunc
	settings SettingsSource
	notifier Notifier
	interval time.Duration
	log      *zap.SugaredLogger

	tickMu  sync.Mutex // 串行化 Tick
	mu      sync.Mutex
	state   State
	at      time.Time
	lastErr string
}

func NewMonitor(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Monitor{
		prober:   opts.Prober,
		buffer:   opts.Buffer,
		replay:   opts.Replay,
		settings: opts.Settings,
		notifier: opts.Notifier,
		interval: opts.Interval,
		log:      opts.Logger,
		state:    StateUnknown,
	}
}

// Push 延后一个订单。调用方刚刚探测失败，因此同时把状态记为不可用，
// 保证下一次成功探测会触发重放。
func (m *Monitor) Push(ctx context.Context, o model.Order) error {
	if err := m.buffer.Push(ctx, o); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = StateUnhealthy
	m.at = time.Now()
	m.mu.Unlock()
	m.log.Infow("order deferred until exchange recovers", "order_id", o.OrderID)
	return nil
}

// Healthy 最近一次探测是否成功。
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateHealthy
}

func (m *Monitor) Status(ctx context.Context) Status {
	m.mu.Lock()
	st := Status{State: m.state, CheckedAt: m.at, LastError: m.lastErr}
	m.mu.Unlock()
	if n, err := m.buffer.Len(ctx); err == nil {
		st.Deferred = n
	}
	return st
}

// Run 立即探测一次，之后按间隔探测，直到 ctx 取消。
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick 执行一次探测；从不可用（或未知）转为可用时重放当时已缓存的订单。
func (m *Monitor) Tick(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	cfg := m.settings.Settings()
	if !cfg.HealthCheckEnabled {
		m.setState(StateUnknown, "")
		return
	}

	_, err := m.prober.Me(ctx)
	healthy := err == nil
	if cfg.NotifyAPICheck {
		result := "OK"
		if !healthy {
			result = "FAIL"
		}
		m.notifier.Notify(ctx, notify.KindInfo, "[API CHECK] Exchange API check: "+result, "")
	}

	if !healthy {
		prev := m.setState(StateUnhealthy, err.Error())
		m.log.Warnw("exchange health check failed", "error", err)
		if prev != StateUnhealthy {
			m.notifier.Notify(ctx, notify.KindHealth, fmt.Sprintf("Exchange API is unavailable: %v", err), "")
		}
		return
	}

	prev := m.setState(StateHealthy, "")
	if prev == StateHealthy {
		return
	}
	replayed := m.drain(ctx)
	if prev == StateUnhealthy {
		m.notifier.Notify(ctx, notify.KindHealth,
			fmt.Sprintf("Exchange API is available again. Deferred orders replayed: %d", replayed), "")
	}
}

// drain 只处理快照时刻的 N 个订单；重放中再次被延后的订单排到队尾，留待下次恢复。
func (m *Monitor) drain(ctx context.Context) int {
	n, err := m.buffer.Len(ctx)
	if err != nil {
		m.log.Errorw("read deferred buffer failed", "error", err)
		return 0
	}
	replayed := 0
	for i := 0; i < n; i++ {
		o, ok, err := m.buffer.Pop(ctx)
		if err != nil {
			m.log.Errorw("pop deferred order failed", "error", err)
			continue
		}
		if !ok {
			break
		}
		m.replayOne(ctx, o)
		replayed++
	}
	if replayed > 0 {
		m.log.Infow("deferred orders replayed", "count", replayed)
	}
	return replayed
}

func (m *Monitor) replayOne(ctx context.Context, o model.Order) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("deferred order replay panicked", "order_id", o.OrderID, "panic", r)
		}
	}()
	m.replay(ctx, o)
}

func (m *Monitor) setState(s State, errText string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.state = s
	m.at = time.Now()
	m.lastErr = errText
	return prev
}
