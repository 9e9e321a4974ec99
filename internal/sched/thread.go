package sched

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	gterr "github.com/tangzhangming/greenrt/internal/errors"
	"github.com/tangzhangming/greenrt/internal/execctx"
	"github.com/tangzhangming/greenrt/internal/stackpool"
)

// ============================================================================
// 挂起原因
// ============================================================================

// suspendReason 协程交出控制权时留给调度器的原因，调度器在切换完成后据此迁移状态
type suspendReason uint8

const (
	reasonNone suspendReason = iota
	reasonYield
	reasonPreempt
	reasonPark
	reasonSleep
	reasonExit
)

// threadIDs 协程 ID 分配器（只用于诊断输出）
var threadIDs atomic.Int64

// ============================================================================
// 协程结构
// ============================================================================

// Thread 绿色线程
//
// 句柄可以在任意 goroutine 上查询和取消；Yield、Checkpoint、Sleep、Park、
// Join、Spawn 只能由协程自己在入口函数内调用。
type Thread struct {
	// =========================================================================
	// 标识与配置（创建后不变）
	// =========================================================================

	id    int64
	entry EntryFunc
	arg   any
	cfg   ThreadConfig

	// home 创建它的调度器，负责关闭时回收
	home *Scheduler

	// =========================================================================
	// 跨线程状态
	// =========================================================================

	// state 当前状态（State）
	state atomic.Int32

	// canceled 取消请求，只会从 false 变为 true
	canceled atomic.Bool

	// wakePending Unpark 留下的许可，Park 消费它
	wakePending atomic.Bool

	// owner 最近一次把它切入的调度器
	owner atomic.Pointer[Scheduler]

	// sleepSeq 睡眠代数，过期的定时器据此放弃唤醒
	sleepSeq atomic.Uint64

	// waitingOn Join 中等待的目标（死锁检测用）
	waitingOn atomic.Pointer[Thread]

	released atomic.Bool
	joined   atomic.Bool

	// =========================================================================
	// 执行上下文与栈（只由持有接力棒的一方读写）
	// =========================================================================

	ctx   execctx.Context
	stack *stackpool.Block

	reason     suspendReason
	sleepFor   time.Duration
	sliceStart time.Time

	// =========================================================================
	// 结果
	// =========================================================================

	done    chan struct{}
	outcome Outcome

	joinMu  sync.Mutex
	joiners []*Thread

	stats threadCounters
}

func newThread(home *Scheduler, entry EntryFunc, arg any, cfg ThreadConfig) *Thread {
	return &Thread{
		id:    threadIDs.Add(1),
		entry: entry,
		arg:   arg,
		cfg:   cfg,
		home:  home,
		done:  make(chan struct{}),
	}
}

// ============================================================================
// 查询
// ============================================================================

// ID 协程 ID
func (t *Thread) ID() int64 {
	return t.id
}

// State 当前状态
func (t *Thread) State() State {
	return State(t.state.Load())
}

// Priority 优先级
func (t *Thread) Priority() Priority {
	return t.cfg.Priority
}

// Policy 调度策略
func (t *Thread) Policy() Policy {
	return t.cfg.Policy
}

// Config 创建配置
func (t *Thread) Config() ThreadConfig {
	return t.cfg
}

// IsAlive 是否尚未终止
func (t *Thread) IsAlive() bool {
	return !t.State().Terminal()
}

// IsCanceled 是否已请求取消
func (t *Thread) IsCanceled() bool {
	return t.canceled.Load()
}

// Stats 统计快照
func (t *Thread) Stats() ThreadStats {
	return t.stats.snapshot()
}

// Stack 协程私有栈区；Lazy 协程首次调度前为 nil
func (t *Thread) Stack() []byte {
	if t.stack == nil {
		return nil
	}
	return t.stack.Bytes()
}

// Scheduler 当前所在（或最近运行过）的调度器
func (t *Thread) Scheduler() *Scheduler {
	if s := t.owner.Load(); s != nil {
		return s
	}
	return t.home
}

// Done 终止时关闭
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Wait 在普通 goroutine 上阻塞等待终止，不消费结果
func (t *Thread) Wait() Outcome {
	<-t.done
	return t.outcome
}

// Outcome 非阻塞地获取终止结果
func (t *Thread) Outcome() (Outcome, bool) {
	select {
	case <-t.done:
		return t.outcome, true
	default:
		return Outcome{}, false
	}
}

// ============================================================================
// 取消
// ============================================================================

// Cancel 请求协作式取消
//
// 尚未入队的 New/Lazy 协程直接进入 Canceled；Waiting/Sleeping 的协程被唤醒，
// 由其 Park/Sleep 返回 ErrCanceled。对已取消的协程重复调用返回 nil，
// 对 Done/Crashed 的协程返回 thread-already-dead。
func (t *Thread) Cancel() error {
	st := t.State()
	if st == StateCanceled {
		return nil
	}
	if st.Terminal() {
		return gterr.SetLast(gterr.New(gterr.G0004, "cancel", "thread %d already %s", t.id, st))
	}

	t.canceled.Store(true)

	for {
		st = t.State()
		switch st {
		case StateNew, StateLazy:
			if t.state.CompareAndSwap(int32(st), int32(StateCanceled)) {
				t.finish(Outcome{State: StateCanceled, Err: gterr.ErrCanceled})
				return nil
			}
		case StateWaiting:
			t.Unpark()
			return nil
		case StateSleeping:
			t.wakeSleeper()
			return nil
		default:
			return nil
		}
	}
}

// ============================================================================
// 让出与抢占
// ============================================================================

// Yield 主动让出，重新排到同优先级队列的末尾
func (t *Thread) Yield() {
	if t.State() != StateRunning {
		return
	}
	if t.cfg.Stats {
		t.stats.yields.Inc()
	}
	t.suspend(reasonYield)
}

// Checkpoint 抢占检查点
//
// 已请求取消时返回 ErrCanceled。Hybrid 与 Preemptive 协程在时间片用完后
// 由这里代为让出；Preemptive 协程在同一调度器上有更高优先级协程就绪时也让出。
// Cooperative 协程在这里从不让出。
func (t *Thread) Checkpoint() error {
	if t.canceled.Load() {
		return gterr.ErrCanceled
	}

	if t.shouldPreempt() {
		if t.cfg.Stats {
			t.stats.preemptions.Inc()
		}
		t.suspend(reasonPreempt)
		if t.canceled.Load() {
			return gterr.ErrCanceled
		}
	}
	return nil
}

func (t *Thread) shouldPreempt() bool {
	if t.cfg.Policy == Cooperative || t.State() != StateRunning {
		return false
	}
	s := t.owner.Load()
	if s == nil {
		return false
	}
	if time.Since(t.sliceStart) >= s.opts.TimeSlice {
		return true
	}
	return t.cfg.Policy == Preemptive && s.hasReadyAbove(t.cfg.Priority)
}

// suspend 把控制权交回所在调度器，返回时可能已经迁移到另一个调度器
func (t *Thread) suspend(r suspendReason) {
	s := t.owner.Load()
	t.reason = r
	execctx.Switch(&t.ctx, s.ctx)
}

// ============================================================================
// 睡眠
// ============================================================================

// Sleep 睡眠至少 d，期间被取消则提前返回 ErrCanceled
func (t *Thread) Sleep(d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		if t.canceled.Load() {
			return gterr.ErrCanceled
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		t.sleepFor = remaining
		t.suspend(reasonSleep)
	}
}

// wakeSleeper 定时器到期或取消时调用
func (t *Thread) wakeSleeper() {
	if t.state.CompareAndSwap(int32(StateSleeping), int32(StateReady)) {
		s := t.Scheduler()
		s.sleepers.Dec()
		s.submit(t)
	}
}

// ============================================================================
// Park / Unpark
// ============================================================================

// Park 挂起当前协程直到 Unpark
//
// 先于 Park 的 Unpark 会留下许可，使 Park 立即返回。允许虚假返回，
// 调用方应在循环里重新检查条件。已请求取消时返回 ErrCanceled。
func (t *Thread) Park() error {
	if t.canceled.Load() {
		return gterr.ErrCanceled
	}
	if t.wakePending.Swap(false) {
		return nil
	}
	t.suspend(reasonPark)
	if t.canceled.Load() {
		return gterr.ErrCanceled
	}
	return nil
}

// Unpark 唤醒 Waiting 的协程，可在任意 goroutine 上调用
func (t *Thread) Unpark() {
	t.wakePending.Store(true)
	if t.state.CompareAndSwap(int32(StateWaiting), int32(StateReady)) {
		t.wakePending.Store(false)
		t.Scheduler().submit(t)
	}
}

// ============================================================================
// Join / Spawn
// ============================================================================

// Join 在协程内部等待 other 终止并取走其结果
//
// 调用方以 Waiting 状态挂起，不占用调度器。结果只能被取走一次。
func (t *Thread) Join(other *Thread) (any, error) {
	if err := t.waitFor(other); err != nil {
		return nil, err
	}
	return other.take()
}

// waitFor 挂起直到 other 终止
func (t *Thread) waitFor(other *Thread) error {
	if other == nil {
		return gterr.SetLast(gterr.New(gterr.G0001, "join", "nil thread"))
	}
	if other == t {
		return gterr.SetLast(gterr.New(gterr.G0008, "join", "thread %d joins itself", t.id))
	}

	registered := false
	for {
		other.joinMu.Lock()
		if other.State().Terminal() {
			other.joinMu.Unlock()
			return nil
		}
		if !registered {
			other.joiners = append(other.joiners, t)
			registered = true
		}
		other.joinMu.Unlock()

		t.waitingOn.Store(other)
		err := t.Park()
		t.waitingOn.Store(nil)
		if err != nil {
			return err
		}
	}
}

// Spawn 在当前调度器上创建并启动新协程
func (t *Thread) Spawn(entry EntryFunc, arg any, cfg ThreadConfig) (*Thread, error) {
	return t.owner.Load().Spawn(entry, arg, cfg)
}

// take 取走结果，只能成功一次
func (t *Thread) take() (any, error) {
	<-t.done
	if !t.joined.CompareAndSwap(false, true) {
		return nil, gterr.SetLast(gterr.New(gterr.G0009, "join", "result of thread %d already taken", t.id))
	}
	o := t.outcome
	if o.State == StateDone {
		return o.Result, nil
	}
	return o.Result, o.Err
}

// ============================================================================
// 执行
// ============================================================================

// main 协程 goroutine 的入口
func (t *Thread) main() {
	debug.SetPanicOnFault(true)

	o := t.execute()
	if t.cfg.Stats && t.stack != nil {
		t.noteHighWater()
	}
	t.finish(o)

	s := t.owner.Load()
	t.reason = reasonExit
	execctx.Exit(s.ctx)
}

// execute 运行入口函数并把返回值映射为终止结果
//
// 落在保护页上的内存错误转换为 Crashed(stack overflow)；其他 panic 原样抛出。
func (t *Thread) execute() (o Outcome) {
	if t.canceled.Load() {
		return Outcome{State: StateCanceled, Err: gterr.ErrCanceled}
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if fault, ok := r.(interface{ Addr() uintptr }); ok && t.stack != nil && t.stack.InGuard(fault.Addr()) {
			o = Outcome{
				State: StateCrashed,
				Err:   gterr.New(gterr.G0005, "thread", "thread %d touched guard page at %#x", t.id, fault.Addr()),
			}
			return
		}
		panic(r)
	}()

	res, err := t.entry(t, t.arg)
	switch {
	case err == nil:
		return Outcome{State: StateDone, Result: res}
	case gterr.Is(err, gterr.ErrCanceled):
		return Outcome{State: StateCanceled, Result: res, Err: err}
	default:
		return Outcome{State: StateCrashed, Result: res, Err: err}
	}
}

// finish 写入终止结果并唤醒所有 joiner，每个协程只调用一次
//
// 终止计数在关闭 done 之前记到所在调度器上，Join 返回后读到的统计已包含本协程。
func (t *Thread) finish(o Outcome) {
	s := t.Scheduler()
	switch o.State {
	case StateDone:
		s.stats.completed.Inc()
	case StateCanceled:
		s.stats.canceled.Inc()
	case StateCrashed:
		s.stats.crashed.Inc()
	}

	t.joinMu.Lock()
	t.outcome = o
	t.state.Store(int32(o.State))
	joiners := t.joiners
	t.joiners = nil
	t.joinMu.Unlock()

	close(t.done)
	for _, j := range joiners {
		j.Unpark()
	}
}

func (t *Thread) noteHighWater() {
	hw := int64(t.stack.HighWater())
	if hw > t.stats.highWater.Load() {
		t.stats.highWater.Store(hw)
	}
}

// release 把栈归还给当前所属调度器的栈池
func (t *Thread) release() error {
	if !t.released.CompareAndSwap(false, true) {
		return nil
	}
	t.home.untrack(t)

	blk := t.stack
	if blk == nil {
		return nil
	}
	if t.cfg.Stats {
		t.noteHighWater()
	}
	t.stack = nil

	return t.Scheduler().pool.Free(blk)
}
