package queue

import (
	"context"
	"sync"
	"time"

	"autotg/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxConcurrent = 3
	DefaultWorkers       = 5
	DefaultPollInterval  = 500 * time.Millisecond
)

// HandlerFunc 处理一个订单。返回值被忽略，错误由处理方自行上报。
type HandlerFunc func(ctx context.Context, o model.Order)

// Spiller 接收停机时尚未准入的订单，下次启动后重放。
type Spiller interface {
	Push(ctx context.Context, o model.Order) error
}

// DispatcherOptions 调度器参数，零值使用默认值。
type DispatcherOptions struct {
	MaxConcurrent int
	Workers       int
	PollInterval  time.Duration
	// Spill 为空时，停机时排队中的订单只记日志后丢弃。
	Spill         Spiller
	Logger        *zap.SugaredLogger
}

// Stats 调度器当前状态快照。
type Stats struct {
	Queued    int   `json:"queued"`
	Running   int   `json:"running"`
	Processed int64 `json:"processed"`
	Panics    int64 `json:"panics"`
}

type task struct {
	id         string
	order      model.Order
	enqueuedAt time.Time
}

// Dispatcher 无界 FIFO 接收订单，按 MaxConcurrent 准入后交给固定大小的 worker 池。
type Dispatcher struct {
	handle HandlerFunc
	max    int
	poll   time.Duration
	spill  Spiller
	log    *zap.SugaredLogger

	mu        sync.Mutex
	pending   []task
	running   int
	processed int64
	panics    int64
	stopped   bool

	wake  chan struct{}
	tasks chan func()
	wg    sync.WaitGroup
}

func NewDispatcher(handle HandlerFunc, opts DispatcherOptions) *Dispatcher {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	d := &Dispatcher{
		handle: handle,
		max:    opts.MaxConcurrent,
		poll:   opts.PollInterval,
		spill:  opts.Spill,
		log:    opts.Logger,
		wake:   make(chan struct{}, 1),
		tasks:  make(chan func(), opts.MaxConcurrent),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.log.Infow("dispatcher started", "max_concurrent", opts.MaxConcurrent, "workers", opts.Workers, "poll", opts.PollInterval)
	return d
}

// Enqueue 追加订单到队尾，从不阻塞。返回任务 ID。
func (d *Dispatcher) Enqueue(o model.Order) string {
	t := task{id: uuid.NewString(), order: o, enqueuedAt: time.Now()}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.log.Warnw("dispatcher stopped, order dropped", "order_id", o.OrderID)
		return ""
	}
	d.pending = append(d.pending, t)
	queued := len(d.pending)
	d.mu.Unlock()

	d.log.Infow("order queued", "order_id", o.OrderID, "task_id", t.id, "queued", queued)
	d.signal()
	return t.id
}

// Stats 返回排队数与运行数。
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Queued:    len(d.pending),
		Running:   d.running,
		Processed: d.processed,
		Panics:    d.panics,
	}
}

// Run 周期性准入任务，直到 ctx 取消。已在运行的任务不受取消影响。
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	taskCtx := context.WithoutCancel(ctx)
	for {
		d.admit(taskCtx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// Stop 停止接收新订单并等待运行中的任务结束。排队中未准入的订单交给 Spill 保存。
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	left := d.pending
	d.pending = nil
	close(d.tasks)
	d.mu.Unlock()

	spilled, dropped := d.spillPending(left)
	d.wg.Wait()
	d.log.Infow("dispatcher stopped", "spilled", spilled, "dropped", dropped)
}

func (d *Dispatcher) spillPending(left []task) (spilled, dropped int) {
	if d.spill == nil {
		for _, t := range left {
			d.log.Warnw("queued order dropped on shutdown", "order_id", t.order.OrderID, "task_id", t.id)
		}
		return 0, len(left)
	}
	ctx := context.Background()
	for _, t := range left {
		if err := d.spill.Push(ctx, t.order); err != nil {
			d.log.Errorw("spill queued order failed", "order_id", t.order.OrderID, "task_id", t.id, "error", err)
			dropped++
			continue
		}
		spilled++
	}
	return spilled, dropped
}

func (d *Dispatcher) admit(ctx context.Context) {
	for {
		d.mu.Lock()
		if d.stopped || d.running >= d.max || len(d.pending) == 0 {
			d.mu.Unlock()
			return
		}
		t := d.pending[0]
		d.pending[0] = task{}
		d.pending = d.pending[1:]
		d.running++
		// running 不超过 max，缓冲区必有空位
		d.tasks <- d.wrap(ctx, t)
		d.mu.Unlock()
	}
}

// wrap 保证无论成功、出错或 panic 都会归还运行名额。
func (d *Dispatcher) wrap(ctx context.Context, t task) func() {
	return func() {
		start := time.Now()
		defer func() {
			r := recover()
			d.mu.Lock()
			d.running--
			d.processed++
			if r != nil {
				d.panics++
			}
			d.mu.Unlock()
			if r != nil {
				d.log.Errorw("order task panicked", "order_id", t.order.OrderID, "task_id", t.id, "panic", r)
			}
			d.log.Debugw("order task done", "order_id", t.order.OrderID, "task_id", t.id,
				"waited", start.Sub(t.enqueuedAt), "took", time.Since(start))
			d.signal()
		}()
		d.handle(ctx, t.order)
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for fn := range d.tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Errorw("worker recovered from panic", "worker", id, "error", r)
				}
			}()
			fn()
		}()
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
