package sched

import (
	"time"

	"go.uber.org/atomic"

	"github.com/tangzhangming/greenrt/internal/stackpool"
)

// ============================================================================
// 协程统计
// ============================================================================

// ThreadStats 协程统计快照
type ThreadStats struct {
	ContextSwitches int64         // 被切入的次数
	Yields          int64         // 主动让出次数
	Preemptions     int64         // 被时间片或高优先级抢占的次数
	Runtime         time.Duration // 累计运行时间

	// StackHighWater 私有栈区 Stack() 中被写过的最大深度（字节），从高端向下计。
	// Go 代码本身运行在 goroutine 栈上，不使用这块区域；只有入口函数
	// 主动写入 Stack() 时这里才非零，它不代表函数调用深度。
	StackHighWater int
}

// threadCounters 每个事件写一次，任何时候都可读
type threadCounters struct {
	contextSwitches atomic.Int64
	yields          atomic.Int64
	preemptions     atomic.Int64
	runtime         atomic.Duration
	highWater       atomic.Int64
}

func (c *threadCounters) snapshot() ThreadStats {
	return ThreadStats{
		ContextSwitches: c.contextSwitches.Load(),
		Yields:          c.yields.Load(),
		Preemptions:     c.preemptions.Load(),
		Runtime:         c.runtime.Load(),
		StackHighWater:  int(c.highWater.Load()),
	}
}

// ============================================================================
// 调度器统计
// ============================================================================

// SchedulerStats 调度器统计快照
type SchedulerStats struct {
	ID              int64 // 注册表中的槽位 ID
	Spawned         int64 // 创建的协程数
	Completed       int64 // 以 Done 结束的协程数
	Canceled        int64 // 以 Canceled 结束的协程数
	Crashed         int64 // 以 Crashed 结束的协程数
	ContextSwitches int64 // 上下文切换次数
	Steals          int64 // 成功窃取次数
	StealFailures   int64 // 扫描了对端但没有窃取到的次数
	Preemptions     int64 // 抢占次数
	Overflows       int64 // 本地队列满而溢出的次数
	Ready           int   // 本地队列中的协程数（近似值）
	Sleeping        int64 // 睡眠中的协程数
	Live            int   // 本调度器创建且尚未销毁的协程数
	Pool            stackpool.Stats
}

type schedCounters struct {
	spawned         atomic.Int64
	completed       atomic.Int64
	canceled        atomic.Int64
	crashed         atomic.Int64
	contextSwitches atomic.Int64
	steals          atomic.Int64
	stealFailures   atomic.Int64
	preemptions     atomic.Int64
	overflows       atomic.Int64
}

// add 把另一个快照累加进来（Runtime 汇总用）
func (s *SchedulerStats) add(o SchedulerStats) {
	s.Spawned += o.Spawned
	s.Completed += o.Completed
	s.Canceled += o.Canceled
	s.Crashed += o.Crashed
	s.ContextSwitches += o.ContextSwitches
	s.Steals += o.Steals
	s.StealFailures += o.StealFailures
	s.Preemptions += o.Preemptions
	s.Overflows += o.Overflows
	s.Ready += o.Ready
	s.Sleeping += o.Sleeping
	s.Live += o.Live

	s.Pool.Allocations += o.Pool.Allocations
	s.Pool.Deallocations += o.Pool.Deallocations
	s.Pool.Hits += o.Pool.Hits
	s.Pool.Misses += o.Pool.Misses
	s.Pool.Direct += o.Pool.Direct
	s.Pool.InUse += o.Pool.InUse
	s.Pool.Pooled += o.Pool.Pooled
	s.Pool.NodeMisses += o.Pool.NodeMisses
}

// RuntimeStats 运行时统计快照
type RuntimeStats struct {
	Workers    int
	Overflow   int              // 全局溢出队列中的协程数
	Total      SchedulerStats   // 所有调度器的合计
	Schedulers []SchedulerStats // 每个调度器的明细
}
