package sched

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/greenrt/internal/config"
	gterr "github.com/tangzhangming/greenrt/internal/errors"
	"github.com/tangzhangming/greenrt/internal/logging"
	"github.com/tangzhangming/greenrt/internal/numa"
)

// ============================================================================
// 全局溢出队列
// ============================================================================

// overflowQueue 本地队列满时的退路，按优先级分级，FIFO
type overflowQueue struct {
	mu     sync.Mutex
	levels [NumPriorities][]*Thread
	n      atomic.Int64
}

func (q *overflowQueue) put(t *Thread) {
	q.mu.Lock()
	q.levels[t.cfg.Priority] = append(q.levels[t.cfg.Priority], t)
	q.mu.Unlock()
	q.n.Add(1)
}

func (q *overflowQueue) take(p Priority) *Thread {
	if q.n.Load() == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	level := q.levels[p]
	if len(level) == 0 {
		return nil
	}
	t := level[0]
	level[0] = nil
	q.levels[p] = level[1:]
	q.n.Add(-1)
	return t
}

func (q *overflowQueue) len() int {
	return int(q.n.Load())
}

// ============================================================================
// 运行时
// ============================================================================

// Runtime 多工作线程运行时
//
// 每个工作 goroutine 锁定一个 OS 线程并驱动一个调度器，可选地绑定到
// 所在 NUMA 节点的 CPU 上。调度器之间通过注册表互相窃取。
// 外部 goroutine 通过 Spawn/Join/Destroy 使用运行时，Join 在 done 通道上阻塞。
type Runtime struct {
	cfg  *config.Config
	log  *zap.Logger
	topo *numa.Topology

	registry *Registry
	scheds   []*Scheduler
	overflow overflowQueue

	// rr 轮询选择调度器
	rr atomic.Uint32

	startMu sync.Mutex
	started bool
	stopped atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRuntime 按配置创建运行时，log 为 nil 时不输出日志
func NewRuntime(cfg *config.Config, log *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, gterr.SetLast(gterr.Wrap(gterr.G0001, "runtime", err))
	}
	log = logging.OrNop(log).Named("runtime")

	topo := numa.Discover()
	n := cfg.WorkerCount()

	r := &Runtime{
		cfg:      cfg,
		log:      log,
		topo:     topo,
		registry: NewRegistry(),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < n; i++ {
		opts := OptionsFromConfig(cfg, log)
		opts.Registry = r.registry
		opts.Node = topo.NodeForWorker(i)
		s := NewScheduler(opts)
		s.rt = r
		if err := s.Init(); err != nil {
			return nil, err
		}
		r.scheds = append(r.scheds, s)
	}

	log.Info("runtime created",
		zap.Int("workers", n),
		zap.Int("numa_nodes", topo.NumNodes()),
		zap.Bool("numa_known", topo.Known()),
		zap.Duration("time_slice", cfg.Scheduler.TimeSlice.Std()))
	return r, nil
}

// Start 启动工作线程，重复调用无副作用
func (r *Runtime) Start() error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if r.stopped.Load() {
		return gterr.SetLast(gterr.New(gterr.G0003, "start", "runtime already shut down"))
	}
	if r.started {
		return nil
	}
	r.started = true

	for i, s := range r.scheds {
		r.wg.Add(1)
		go r.worker(i, s)
	}
	return nil
}

// worker 工作线程主循环
func (r *Runtime) worker(i int, s *Scheduler) {
	defer r.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if r.cfg.Scheduler.PinThreads && s.Node() != numa.NoNode {
		if err := numa.PinCurrentThread(r.topo.CPUsOf(s.Node())); err != nil {
			r.log.Warn("pin worker failed", zap.Int("worker", i), zap.Int("node", s.Node()), zap.Error(err))
		}
	}

	r.log.Debug("worker started", zap.Int("worker", i), zap.Int64("sched", s.ID()))
	s.Run(r.stopCh)
	r.log.Debug("worker stopped", zap.Int("worker", i))
}

// Schedulers 所有调度器
func (r *Runtime) Schedulers() []*Scheduler {
	return r.scheds
}

// Topology NUMA 拓扑
func (r *Runtime) Topology() *numa.Topology {
	return r.topo
}

// pick 选择调度器：优先 NUMA 节点匹配的，否则轮询
func (r *Runtime) pick(node int) *Scheduler {
	start := int(r.rr.Add(1))
	n := len(r.scheds)
	if node != numa.NoNode {
		for i := 0; i < n; i++ {
			s := r.scheds[(start+i)%n]
			if s.Node() == node {
				return s
			}
		}
	}
	return r.scheds[start%n]
}

// Spawn 从任意 goroutine 创建并启动协程
func (r *Runtime) Spawn(entry EntryFunc, arg any, cfg ThreadConfig) (*Thread, error) {
	if r.stopped.Load() {
		return nil, gterr.SetLast(gterr.New(gterr.G0003, "spawn", "runtime shut down"))
	}
	s := r.pick(cfg.NUMANode)
	t, err := s.Create(entry, arg, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.resumeRemote(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Join 阻塞等待 t 终止并取走结果
func (r *Runtime) Join(t *Thread) (any, error) {
	if t == nil {
		return nil, gterr.SetLast(gterr.New(gterr.G0001, "join", "nil thread"))
	}
	return t.take()
}

// Destroy 取消并等待 t，然后归还它的栈
func (r *Runtime) Destroy(t *Thread) error {
	if t == nil {
		return gterr.SetLast(gterr.New(gterr.G0001, "destroy", "nil thread"))
	}
	if t.IsAlive() {
		_ = t.Cancel()
		<-t.done
	}
	return t.release()
}

// Shutdown 停止工作线程并关闭所有调度器
func (r *Runtime) Shutdown() error {
	if !r.stopped.CompareAndSwap(false, true) {
		return nil
	}

	r.startMu.Lock()
	close(r.stopCh)
	r.startMu.Unlock()
	r.wg.Wait()

	var err error
	for _, s := range r.scheds {
		err = multierr.Append(err, s.Shutdown())
	}
	r.log.Info("runtime shut down", zap.Int("errors", len(multierr.Errors(err))))
	return err
}

// Stats 运行时统计快照
func (r *Runtime) Stats() RuntimeStats {
	st := RuntimeStats{
		Workers:  len(r.scheds),
		Overflow: r.overflow.len(),
	}
	for _, s := range r.scheds {
		ss := s.Stats()
		st.Schedulers = append(st.Schedulers, ss)
		st.Total.add(ss)
	}
	return st
}
