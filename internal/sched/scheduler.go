package sched

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	uatomic "go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/greenrt/internal/config"
	gterr "github.com/tangzhangming/greenrt/internal/errors"
	"github.com/tangzhangming/greenrt/internal/execctx"
	"github.com/tangzhangming/greenrt/internal/numa"
	"github.com/tangzhangming/greenrt/internal/stackpool"
	"github.com/tangzhangming/greenrt/internal/wsqueue"
)

// ============================================================================
// 调度器配置
// ============================================================================

// idlePoll 空闲时重新扫描对端队列和全局溢出队列的间隔
const idlePoll = 500 * time.Microsecond

// Options 调度器选项
type Options struct {
	QueueCapacity int           // 每个优先级的队列容量
	TimeSlice     time.Duration // 抢占时间片
	Steal         bool          // 是否从其他调度器窃取
	StackSize     int           // 协程默认栈大小
	Node          int           // 调度器所在 NUMA 节点，-1 表示未知
	Stack         stackpool.Options
	Registry      *Registry // nil 表示使用默认注册表
	Logger        *zap.Logger
}

// OptionsFromConfig 从运行时配置构建调度器选项
func OptionsFromConfig(cfg *config.Config, log *zap.Logger) Options {
	return Options{
		QueueCapacity: cfg.Scheduler.QueueCapacity,
		TimeSlice:     cfg.Scheduler.TimeSlice.Std(),
		Steal:         cfg.Scheduler.Steal,
		StackSize:     cfg.Stack.DefaultSize,
		Node:          numa.NoNode,
		Stack:         stackpool.OptionsFromConfig(cfg.Stack, log),
		Logger:        log,
	}
}

// ============================================================================
// 调度器结构
// ============================================================================

// Scheduler 单个 OS 线程上的调度器
//
// 调度器由驱动它的 goroutine（工作线程，或独立使用时的调用方）独占：
// Create 之外的创建、Resume、RunOnce、Run、Join、Destroy、Shutdown 都只能在
// 驱动方或者正在它上面运行的协程里调用。跨线程的提交（Unpark、定时器唤醒、
// Runtime.Spawn）一律走收件箱。
//
// 选择顺序：从 Realtime 到 Idle 逐级扫描，每一级依次尝试
//   - 本地队列（LIFO pop；刚有协程让出时改为从队首取，让出者排到末尾）
//   - 从已注册的其他调度器窃取同一级
//   - 运行时的全局溢出队列
type Scheduler struct {
	// =========================================================================
	// 标识与配置
	// =========================================================================

	id   int64
	opts Options
	log  *zap.Logger
	rt   *Runtime

	// =========================================================================
	// 队列
	// =========================================================================

	// queues 每个优先级一条工作窃取队列
	queues [NumPriorities]*wsqueue.Deque[Thread]

	// rotate 上一次切出是让出/抢占，本次从本地队列队首取
	rotate bool

	// inbox 其他 goroutine 提交的就绪协程
	inboxMu sync.Mutex
	inbox   []*Thread
	inboxN  atomic.Int32

	// wakeCh 收件箱有新提交时通知空闲的驱动方
	wakeCh chan struct{}

	// =========================================================================
	// 执行
	// =========================================================================

	// ctx 分派上下文（驱动方 goroutine）
	ctx *execctx.Context

	// current 正在运行的协程
	current atomic.Pointer[Thread]

	// sleepers 睡眠中的协程数
	sleepers uatomic.Int64

	// stealSeed 窃取扫描的起点，分散对端压力
	stealSeed uint32

	// =========================================================================
	// 资源
	// =========================================================================

	pool     *stackpool.Pool
	registry *Registry
	slot     *slot

	// threads 本调度器创建且尚未销毁的协程
	mu      sync.Mutex
	threads map[*Thread]struct{}

	// =========================================================================
	// 生命周期
	// =========================================================================

	initOnce    sync.Once
	initialized atomic.Bool
	shut        atomic.Bool

	stats schedCounters
}

// NewScheduler 创建调度器，使用前需要 Init
func NewScheduler(opts Options) *Scheduler {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = config.DefaultQueueCapacity
	}
	if opts.TimeSlice <= 0 {
		opts.TimeSlice = config.DefaultTimeSlice
	}
	if opts.StackSize <= 0 {
		opts.StackSize = config.DefaultStackSize
	}
	if opts.Registry == nil {
		opts.Registry = defaultRegistry
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Stack.Logger == nil {
		opts.Stack.Logger = opts.Logger
	}

	s := &Scheduler{
		opts:     opts,
		log:      opts.Logger.Named("sched"),
		wakeCh:   make(chan struct{}, 1),
		ctx:      execctx.Root(),
		pool:     stackpool.New(opts.Stack),
		registry: opts.Registry,
		threads:  make(map[*Thread]struct{}),
	}
	for p := range s.queues {
		s.queues[p] = wsqueue.New[Thread](opts.QueueCapacity)
	}
	return s
}

// Init 注册到注册表，重复调用无副作用
func (s *Scheduler) Init() error {
	if s.shut.Load() {
		return gterr.SetLast(gterr.New(gterr.G0003, "init", "scheduler already shut down"))
	}
	s.initOnce.Do(func() {
		s.slot = s.registry.add(s)
		s.id = s.slot.id
		s.log = s.log.With(zap.Int64("sched", s.id))
		s.initialized.Store(true)
		s.log.Debug("scheduler initialized",
			zap.Int("queue_capacity", s.opts.QueueCapacity),
			zap.Duration("time_slice", s.opts.TimeSlice),
			zap.Int("node", s.opts.Node))
	})
	return nil
}

func (s *Scheduler) checkInit(op string) error {
	if !s.initialized.Load() {
		return gterr.SetLast(gterr.New(gterr.G0003, op, "scheduler not initialized"))
	}
	return nil
}

// ID 注册表槽位 ID
func (s *Scheduler) ID() int64 {
	return s.id
}

// Node 所在 NUMA 节点
func (s *Scheduler) Node() int {
	return s.opts.Node
}

// Pool 栈池
func (s *Scheduler) Pool() *stackpool.Pool {
	return s.pool
}

// Current 正在运行的协程，没有则为 nil
func (s *Scheduler) Current() *Thread {
	return s.current.Load()
}

// ============================================================================
// 协程创建
// ============================================================================

// Create 创建协程，返回 New（或 Lazy）状态的句柄，不入队
//
// 可以在任意 goroutine 上调用。
func (s *Scheduler) Create(entry EntryFunc, arg any, cfg ThreadConfig) (*Thread, error) {
	if err := s.checkInit("spawn"); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, gterr.SetLast(gterr.New(gterr.G0001, "spawn", "nil entry function"))
	}
	if !cfg.Priority.Valid() {
		return nil, gterr.SetLast(gterr.New(gterr.G0001, "spawn", "invalid priority %d", int32(cfg.Priority)))
	}
	if !cfg.Policy.Valid() {
		return nil, gterr.SetLast(gterr.New(gterr.G0001, "spawn", "invalid policy %d", int32(cfg.Policy)))
	}
	if cfg.StackSize < 0 {
		return nil, gterr.SetLast(gterr.New(gterr.G0001, "spawn", "invalid stack size %d", cfg.StackSize))
	}
	if cfg.StackSize == 0 {
		cfg.StackSize = s.opts.StackSize
	}

	t := newThread(s, entry, arg, cfg)
	if cfg.Lazy {
		t.state.Store(int32(StateLazy))
	} else {
		if err := s.materialize(t); err != nil {
			return nil, gterr.SetLast(err)
		}
		t.state.Store(int32(StateNew))
	}

	s.mu.Lock()
	s.threads[t] = struct{}{}
	s.mu.Unlock()
	s.stats.spawned.Inc()
	return t, nil
}

// Spawn 创建并启动协程（只能由驱动方或本调度器上的协程调用）
func (s *Scheduler) Spawn(entry EntryFunc, arg any, cfg ThreadConfig) (*Thread, error) {
	t, err := s.Create(entry, arg, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Resume(t); err != nil {
		return nil, err
	}
	return t, nil
}

// materialize 分配栈并准备执行上下文
func (s *Scheduler) materialize(t *Thread) error {
	node := t.cfg.NUMANode
	if node < 0 {
		node = s.opts.Node
	}
	blk, err := s.pool.Allocate(t.cfg.StackSize, node)
	if err != nil {
		return err
	}
	t.stack = blk
	execctx.Make(&t.ctx, t.main)
	return nil
}

func (s *Scheduler) untrack(t *Thread) {
	s.mu.Lock()
	delete(s.threads, t)
	s.mu.Unlock()
}

// liveThreads 本调度器创建且尚未销毁的协程快照
func (s *Scheduler) liveThreads() []*Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Thread, 0, len(s.threads))
	for t := range s.threads {
		out = append(out, t)
	}
	return out
}

// ============================================================================
// 恢复与入队
// ============================================================================

// Resume 使协程可运行
//
// New/Lazy 入队；Waiting/Sleeping 被唤醒；Ready/Running 无操作；
// 已终止的协程返回 thread-already-dead。
func (s *Scheduler) Resume(t *Thread) error {
	if t == nil {
		return gterr.SetLast(gterr.New(gterr.G0001, "resume", "nil thread"))
	}
	for {
		st := t.State()
		switch st {
		case StateNew, StateLazy:
			if t.state.CompareAndSwap(int32(st), int32(StateReady)) {
				s.enqueue(t)
				return nil
			}
		case StateWaiting:
			t.Unpark()
			return nil
		case StateSleeping:
			t.wakeSleeper()
			return nil
		case StateReady, StateRunning:
			return nil
		default:
			return gterr.SetLast(gterr.New(gterr.G0004, "resume", "thread %d already %s", t.id, st))
		}
	}
}

// resumeRemote 从其他 goroutine 启动 New/Lazy 协程
func (s *Scheduler) resumeRemote(t *Thread) error {
	for {
		st := t.State()
		switch st {
		case StateNew, StateLazy:
			if t.state.CompareAndSwap(int32(st), int32(StateReady)) {
				s.submit(t)
				return nil
			}
		case StateCanceled:
			return nil
		default:
			return gterr.SetLast(gterr.New(gterr.G0004, "resume", "thread %d already %s", t.id, st))
		}
	}
}

// enqueue 放入本地队列；队列满时溢出到运行时全局队列（独立使用时回到收件箱）
func (s *Scheduler) enqueue(t *Thread) {
	if s.queues[t.cfg.Priority].Push(t) {
		return
	}
	s.stats.overflows.Inc()
	if s.rt != nil {
		s.rt.overflow.put(t)
		return
	}
	s.inboxMu.Lock()
	s.inbox = append(s.inbox, t)
	s.inboxN.Store(int32(len(s.inbox)))
	s.inboxMu.Unlock()
}

// submit 从任意 goroutine 提交就绪协程
func (s *Scheduler) submit(t *Thread) {
	s.inboxMu.Lock()
	s.inbox = append(s.inbox, t)
	s.inboxN.Store(int32(len(s.inbox)))
	s.inboxMu.Unlock()

	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// drainInbox 把收件箱搬进本地队列
func (s *Scheduler) drainInbox() {
	if s.inboxN.Load() == 0 {
		return
	}
	s.inboxMu.Lock()
	items := s.inbox
	s.inbox = nil
	s.inboxN.Store(0)
	s.inboxMu.Unlock()

	for _, t := range items {
		s.enqueue(t)
	}
}

// ============================================================================
// 分派
// ============================================================================

// RunOnce 执行一次分派：选出一个协程运行到下一个挂起点
//
// 没有可运行的协程时返回 false。
func (s *Scheduler) RunOnce() bool {
	if !s.initialized.Load() || s.current.Load() != nil {
		return false
	}
	s.drainInbox()
	t := s.next()
	if t == nil {
		return false
	}
	s.run(t)
	return true
}

// Run 循环分派直到 stop 关闭，空闲时等待唤醒
func (s *Scheduler) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if s.RunOnce() {
			continue
		}
		s.idle(stop)
	}
}

// idle 等待收件箱提交、done 关闭或轮询间隔到期
func (s *Scheduler) idle(done <-chan struct{}) {
	timer := time.NewTimer(idlePoll)
	defer timer.Stop()
	select {
	case <-done:
	case <-s.wakeCh:
	case <-timer.C:
	}
}

// next 选出下一个要运行的协程
func (s *Scheduler) next() *Thread {
	rotate := s.rotate
	s.rotate = false

	for p := NumPriorities - 1; p >= 0; p-- {
		q := s.queues[p]

		var t *Thread
		if rotate {
			t = q.Steal()
		}
		if t == nil {
			t = q.Pop()
		}
		if t == nil {
			t = s.stealFrom(Priority(p))
		}
		if t == nil && s.rt != nil {
			t = s.rt.overflow.take(Priority(p))
		}
		if t != nil {
			return t
		}
	}
	return nil
}

// stealFrom 从其他调度器的同级队列窃取，墓碑槽位按空处理
func (s *Scheduler) stealFrom(p Priority) *Thread {
	if !s.opts.Steal {
		return nil
	}
	slots := s.registry.snapshot()
	n := len(slots)
	if n <= 1 {
		return nil
	}

	s.stealSeed++
	start := int(s.stealSeed % uint32(n))
	tried := false
	for i := 0; i < n; i++ {
		sl := slots[(start+i)%n]
		if sl.sched == s || sl.dead.Load() {
			continue
		}
		tried = true
		if t := sl.sched.queues[p].Steal(); t != nil {
			s.stats.steals.Inc()
			return t
		}
	}
	if tried {
		s.stats.stealFailures.Inc()
	}
	return nil
}

// hasReadyAbove 本地是否有比 p 更高优先级的就绪协程（近似值）
func (s *Scheduler) hasReadyAbove(p Priority) bool {
	for q := int(p) + 1; q < NumPriorities; q++ {
		if !s.queues[q].Empty() {
			return true
		}
	}
	return false
}

// run 切入协程，在它挂起后按挂起原因迁移状态
func (s *Scheduler) run(t *Thread) {
	if t.State() != StateReady {
		// 关闭过程中被终结的协程可能仍留在其他队列里
		return
	}
	if !t.ctx.Made() {
		if err := s.materialize(t); err != nil {
			s.log.Warn("stack materialization failed", zap.Int64("thread", t.id), zap.Error(err))
			t.finish(Outcome{State: StateCrashed, Err: err})
			return
		}
	}

	t.owner.Store(s)
	t.state.Store(int32(StateRunning))
	start := time.Now()
	t.sliceStart = start
	s.current.Store(t)
	s.stats.contextSwitches.Inc()
	if t.cfg.Stats {
		t.stats.contextSwitches.Inc()
	}

	execctx.Switch(s.ctx, &t.ctx)

	s.current.Store(nil)
	if t.cfg.Stats {
		t.stats.runtime.Add(time.Since(start))
	}
	s.afterSwitch(t)
}

// afterSwitch 协程已经交出控制权，在调度器一侧完成状态迁移
func (s *Scheduler) afterSwitch(t *Thread) {
	reason := t.reason
	t.reason = reasonNone

	switch reason {
	case reasonYield, reasonPreempt:
		if reason == reasonPreempt {
			s.stats.preemptions.Inc()
		}
		if t.cfg.Stats && t.stack != nil {
			t.noteHighWater()
		}
		t.state.Store(int32(StateReady))
		s.enqueue(t)
		s.rotate = true

	case reasonPark:
		t.state.Store(int32(StateWaiting))
		// 与 Unpark/Cancel 对称：先写状态再读许可，对方先写许可再 CAS 状态
		if t.wakePending.Swap(false) || t.canceled.Load() {
			if t.state.CompareAndSwap(int32(StateWaiting), int32(StateReady)) {
				s.enqueue(t)
			}
		}

	case reasonSleep:
		seq := t.sleepSeq.Add(1)
		s.sleepers.Inc()
		t.state.Store(int32(StateSleeping))
		if t.canceled.Load() {
			t.wakeSleeper()
			break
		}
		time.AfterFunc(t.sleepFor, func() {
			if t.sleepSeq.Load() == seq {
				t.wakeSleeper()
			}
		})

	case reasonExit:
		if t.State() == StateCrashed {
			s.log.Debug("thread crashed", zap.Int64("thread", t.id), zap.Error(t.outcome.Err))
		}

	default:
		s.log.Error("thread switched out without a reason", zap.Int64("thread", t.id))
	}
}

// ============================================================================
// Join / Destroy / Cancel
// ============================================================================

// Join 驱动分派循环直到 t 终止，然后取走结果
//
// 在本调度器的协程内部调用时等价于 Current().Join(t)。
// 独立使用的调度器上，没有可运行和睡眠中的协程，且 t 在等待一个
// 从未启动的协程（或 join 成环）时返回 deadlock。
func (s *Scheduler) Join(t *Thread) (any, error) {
	if cur := s.current.Load(); cur != nil {
		return cur.Join(t)
	}
	if err := s.drive(t); err != nil {
		return nil, err
	}
	return t.take()
}

// drive 分派直到 t 终止
func (s *Scheduler) drive(t *Thread) error {
	if t == nil {
		return gterr.SetLast(gterr.New(gterr.G0001, "join", "nil thread"))
	}
	if err := s.checkInit("join"); err != nil {
		return err
	}

	for !t.State().Terminal() {
		if s.RunOnce() {
			continue
		}
		if t.State().Terminal() {
			break
		}
		if s.stuck(t) {
			return gterr.SetLast(gterr.New(gterr.G0008, "join",
				"thread %d is %s and no runnable threads remain", t.id, t.State()))
		}
		s.idle(t.done)
	}
	return nil
}

// stuck 独立调度器上 t 是否再也不会被调度
//
// 沿 join 等待链查找：链尾是从未启动的协程，或者链上有环，则判定为死锁。
// 单纯 Park 的协程可能被外部 goroutine 唤醒，不算死锁。
func (s *Scheduler) stuck(t *Thread) bool {
	if s.rt != nil {
		return false
	}
	if s.sleepers.Load() > 0 || s.inboxN.Load() > 0 || s.readyLen() > 0 {
		return false
	}

	seen := make(map[*Thread]bool)
	for cur := t; cur != nil; cur = cur.waitingOn.Load() {
		if seen[cur] {
			return true
		}
		seen[cur] = true
		if owner := cur.owner.Load(); owner != nil && owner != s {
			return false
		}
		switch cur.State() {
		case StateNew, StateLazy:
			return true
		case StateWaiting:
		default:
			return false
		}
	}
	return false
}

// Destroy 取消并等待仍存活的协程，然后把栈归还栈池
func (s *Scheduler) Destroy(t *Thread) error {
	if t == nil {
		return gterr.SetLast(gterr.New(gterr.G0001, "destroy", "nil thread"))
	}
	if t.IsAlive() {
		_ = t.Cancel()
		var err error
		if cur := s.current.Load(); cur != nil {
			err = cur.waitFor(t)
		} else {
			err = s.drive(t)
		}
		if err != nil {
			return err
		}
	}
	return t.release()
}

// Cancel 请求取消 t
func (s *Scheduler) Cancel(t *Thread) error {
	if t == nil {
		return gterr.SetLast(gterr.New(gterr.G0001, "cancel", "nil thread"))
	}
	return t.Cancel()
}

// ============================================================================
// 关闭
// ============================================================================

// Shutdown 注销调度器并回收资源
//
// 残留的协程被取消：未启动的直接进入 Canceled，已挂起的上下文被展开。
// 只有在没有协程处于 Running 时才是安全的。
func (s *Scheduler) Shutdown() error {
	if cur := s.current.Load(); cur != nil {
		return gterr.SetLast(gterr.New(gterr.G0007, "shutdown", "thread %d still running", cur.id))
	}
	if !s.shut.CompareAndSwap(false, true) {
		return nil
	}
	s.registry.remove(s.slot)
	s.initialized.Store(false)

	// 清空队列；别的调度器创建的协程交还给它
	var queued []*Thread
	for _, q := range s.queues {
		for t := q.Pop(); t != nil; t = q.Pop() {
			queued = append(queued, t)
		}
	}
	s.inboxMu.Lock()
	queued = append(queued, s.inbox...)
	s.inbox = nil
	s.inboxN.Store(0)
	s.inboxMu.Unlock()
	for _, t := range queued {
		if t.home != s && !t.home.shut.Load() {
			t.home.submit(t)
		}
	}

	var err error
	residual := 0
	for _, t := range s.liveThreads() {
		if t.State() == StateRunning {
			s.log.Warn("thread still running elsewhere at shutdown", zap.Int64("thread", t.id))
			continue
		}
		if !t.State().Terminal() {
			residual++
			t.canceled.Store(true)
			if t.ctx.Made() {
				execctx.Kill(&t.ctx)
			}
			t.finish(Outcome{State: StateCanceled, Err: gterr.ErrCanceled})
		}
		err = multierr.Append(err, t.release())
	}
	err = multierr.Append(err, s.pool.Close())

	s.log.Debug("scheduler shut down", zap.Int("residual", residual), zap.Error(err))
	return err
}

// ============================================================================
// 统计与诊断
// ============================================================================

// readyLen 本地队列中的协程数（近似值）
func (s *Scheduler) readyLen() int {
	n := 0
	for _, q := range s.queues {
		n += q.Len()
	}
	return n
}

// Stats 统计快照
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	live := len(s.threads)
	s.mu.Unlock()

	return SchedulerStats{
		ID:              s.id,
		Spawned:         s.stats.spawned.Load(),
		Completed:       s.stats.completed.Load(),
		Canceled:        s.stats.canceled.Load(),
		Crashed:         s.stats.crashed.Load(),
		ContextSwitches: s.stats.contextSwitches.Load(),
		Steals:          s.stats.steals.Load(),
		StealFailures:   s.stats.stealFailures.Load(),
		Preemptions:     s.stats.preemptions.Load(),
		Overflows:       s.stats.overflows.Load(),
		Ready:           s.readyLen(),
		Sleeping:        s.sleepers.Load(),
		Live:            live,
		Pool:            s.pool.Stats(),
	}
}

// DumpState 输出调度器状态（用于调试）
func (s *Scheduler) DumpState() map[string]interface{} {
	var currentID int64 = -1
	if cur := s.current.Load(); cur != nil {
		currentID = cur.id
	}

	ready := make(map[string]int, NumPriorities)
	for p, q := range s.queues {
		ready[Priority(p).String()] = q.Len()
	}

	states := make(map[string]int)
	for _, t := range s.liveThreads() {
		states[t.State().String()]++
	}

	return map[string]interface{}{
		"id":       s.id,
		"current":  currentID,
		"ready":    ready,
		"inbox":    int(s.inboxN.Load()),
		"sleepers": s.sleepers.Load(),
		"threads":  states,
		"shutdown": s.shut.Load(),
	}
}

// ============================================================================
// 死锁检测
// ============================================================================

// DeadlockInfo 死锁检测结果
type DeadlockInfo struct {
	IsDeadlock     bool            // 是否检测到死锁
	RunnableCount  int             // 就绪或运行中的协程数量
	BlockedCount   int             // Waiting 的协程数量
	SleepingCount  int             // 睡眠中的协程数量
	DeadCount      int             // 已终止但尚未销毁的协程数量
	BlockedDetails []BlockedThread // 阻塞协程的详细信息
	CycleDetected  bool            // 是否检测到 join 等待环
	WaitCycle      []int64         // 等待环中的协程 ID
}

// BlockedThread 阻塞协程的信息
type BlockedThread struct {
	ID         int64  // 协程 ID
	WaitReason string // 阻塞原因
	WaitingOn  int64  // join 的目标协程 ID（如果适用）
}

// CheckDeadlock 检测本调度器创建的协程是否全部阻塞
//
// 死锁条件：存在 Waiting 的协程，但没有就绪、运行或睡眠中的协程，
// 收件箱也为空。外部 goroutine 仍可能 Unpark，因此这只是诊断信息。
func (s *Scheduler) CheckDeadlock() *DeadlockInfo {
	info := &DeadlockInfo{}
	threads := s.liveThreads()

	for _, t := range threads {
		switch t.State() {
		case StateReady, StateRunning:
			info.RunnableCount++
		case StateNew, StateLazy:
			// 未启动的协程不参与判定
		case StateSleeping:
			info.SleepingCount++
		case StateWaiting:
			info.BlockedCount++
			detail := BlockedThread{ID: t.id, WaitReason: "parked", WaitingOn: -1}
			if target := t.waitingOn.Load(); target != nil {
				detail.WaitReason = "joining"
				detail.WaitingOn = target.id
			}
			info.BlockedDetails = append(info.BlockedDetails, detail)
		default:
			info.DeadCount++
		}
	}

	if info.BlockedCount > 0 && info.RunnableCount == 0 && info.SleepingCount == 0 &&
		s.inboxN.Load() == 0 && s.readyLen() == 0 {
		info.IsDeadlock = true
		info.CycleDetected, info.WaitCycle = detectJoinCycle(threads)
	}
	return info
}

// detectJoinCycle 在 join 等待图上找环
func detectJoinCycle(threads []*Thread) (bool, []int64) {
	visited := make(map[*Thread]bool)
	for _, start := range threads {
		if visited[start] {
			continue
		}
		onPath := make(map[*Thread]int)
		var path []*Thread
		for t := start; t != nil; t = t.waitingOn.Load() {
			if i, ok := onPath[t]; ok {
				cycle := make([]int64, 0, len(path)-i)
				for _, c := range path[i:] {
					cycle = append(cycle, c.id)
				}
				return true, cycle
			}
			if visited[t] {
				break
			}
			visited[t] = true
			onPath[t] = len(path)
			path = append(path, t)
		}
	}
	return false, nil
}

// IsDeadlocked 简单检查是否处于死锁状态
func (s *Scheduler) IsDeadlocked() bool {
	return s.CheckDeadlock().IsDeadlock
}

// ReportDeadlock 生成死锁报告
func (s *Scheduler) ReportDeadlock() string {
	info := s.CheckDeadlock()
	if !info.IsDeadlock {
		return "No deadlock detected"
	}

	var b strings.Builder
	b.WriteString("DEADLOCK DETECTED!\n")
	b.WriteString("==================\n")
	fmt.Fprintf(&b, "Scheduler %d:\n", s.id)
	fmt.Fprintf(&b, "  - Blocked threads: %d\n", info.BlockedCount)
	fmt.Fprintf(&b, "  - Finished threads: %d\n", info.DeadCount)
	b.WriteString("\nBlocked threads:\n")
	for _, d := range info.BlockedDetails {
		if d.WaitingOn >= 0 {
			fmt.Fprintf(&b, "  - Thread %d: %s T%d\n", d.ID, d.WaitReason, d.WaitingOn)
		} else {
			fmt.Fprintf(&b, "  - Thread %d: %s\n", d.ID, d.WaitReason)
		}
	}
	if info.CycleDetected {
		b.WriteString("\nJoin cycle detected:\n  ")
		for i, id := range info.WaitCycle {
			if i > 0 {
				b.WriteString(" -> ")
			}
			fmt.Fprintf(&b, "T%d", id)
		}
		fmt.Fprintf(&b, " -> T%d (cycle)\n", info.WaitCycle[0])
	}
	return b.String()
}
