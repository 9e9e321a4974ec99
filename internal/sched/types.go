// Package sched 实现 greenrt 的绿色线程调度核心。
//
// 本文件定义协程状态、优先级、调度策略与创建配置。
package sched

import (
	"github.com/tangzhangming/greenrt/internal/config"
	"github.com/tangzhangming/greenrt/internal/numa"
)

// ============================================================================
// 优先级与调度策略
// ============================================================================

// Priority 协程优先级，创建后不可更改
type Priority = config.Priority

const (
	PriorityIdle     = config.PriorityIdle
	PriorityLow      = config.PriorityLow
	PriorityNormal   = config.PriorityNormal
	PriorityHigh     = config.PriorityHigh
	PriorityRealtime = config.PriorityRealtime

	// NumPriorities 优先级数量（每个优先级一条工作窃取队列）
	NumPriorities = config.NumPriorities
)

// Policy 调度策略
type Policy = config.Policy

const (
	// Cooperative 只在显式 Yield 或阻塞时让出
	Cooperative = config.PolicyCooperative

	// Preemptive 总是受时间片检查约束，并在有更高优先级协程就绪时让出
	Preemptive = config.PolicyPreemptive

	// Hybrid 自愿让出 + 时间片到期后在检查点代为让出
	Hybrid = config.PolicyHybrid
)

// ============================================================================
// 协程状态
// ============================================================================

// State 协程状态
//
// 状态迁移：
//
//	New/Lazy -> Ready -> Running -> {Ready, Waiting, Sleeping, Done, Canceled, Crashed}
//	Waiting/Sleeping -> Ready
//
// Done、Canceled、Crashed 为终止状态，不允许再次 resume。
type State int32

const (
	// StateNew 已创建，栈已物化，尚未入队
	StateNew State = iota

	// StateReady 在某条运行队列中等待调度
	StateReady

	// StateRunning 正在某个调度器上运行（每个调度器最多一个）
	StateRunning

	// StateWaiting 阻塞在 Park 上，等待 Unpark
	StateWaiting

	// StateSleeping 定时睡眠中
	StateSleeping

	// StateDone 入口函数正常返回
	StateDone

	// StateCanceled 响应取消请求后结束
	StateCanceled

	// StateLazy 只有元数据，首次调度时才分配栈
	StateLazy

	// StateCrashed 入口函数返回错误或栈溢出
	StateCrashed
)

var stateNames = [...]string{
	StateNew:      "new",
	StateReady:    "ready",
	StateRunning:  "running",
	StateWaiting:  "waiting",
	StateSleeping: "sleeping",
	StateDone:     "done",
	StateCanceled: "canceled",
	StateLazy:     "lazy",
	StateCrashed:  "crashed",
}

// String 返回状态名
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s == StateDone || s == StateCanceled || s == StateCrashed
}

// ============================================================================
// 入口函数与配置
// ============================================================================

// EntryFunc 协程入口函数
//
// t 是协程自身的句柄，Yield/Checkpoint/Sleep/Park/Join/Spawn 都通过它调用。
// 返回 errors.ErrCanceled（或包装了它的错误）表示响应了取消请求；
// 其他非 nil 错误使协程以 Crashed 结束。
type EntryFunc func(t *Thread, arg any) (any, error)

// ThreadConfig 协程创建配置
//
// 应从 DefaultThreadConfig 或 ThreadConfigFrom 得到的值出发再修改。
// NUMANode 的零值是节点 0 而不是"不指定"，直接写字面量时必须显式设为 numa.NoNode，
// 否则栈会绑定到节点 0，Runtime.Spawn 也会优先选择节点 0 上的调度器。
type ThreadConfig struct {
	Priority  Priority // 优先级
	Policy    Policy   // 调度策略
	StackSize int      // 栈大小（字节），0 表示使用调度器默认值
	NUMANode  int      // 首选 NUMA 节点，numa.NoNode（-1）表示不指定
	Lazy      bool     // 是否延迟到首次调度时分配栈
	Stats     bool     // 是否收集统计信息
}

// DefaultThreadConfig 默认协程配置，NUMANode 为 numa.NoNode
func DefaultThreadConfig() ThreadConfig {
	return ThreadConfigFrom(config.Default())
}

// ThreadConfigFrom 从运行时配置派生协程配置
func ThreadConfigFrom(cfg *config.Config) ThreadConfig {
	return ThreadConfig{
		Priority:  cfg.Thread.Priority,
		Policy:    cfg.Thread.Policy,
		StackSize: cfg.Stack.DefaultSize,
		NUMANode:  numa.NoNode,
		Lazy:      cfg.Thread.Lazy,
		Stats:     cfg.Thread.Stats,
	}
}

// With 返回修改了优先级和策略的副本
func (c ThreadConfig) With(p Priority, policy Policy) ThreadConfig {
	c.Priority = p
	c.Policy = policy
	return c
}

// Outcome 协程的终止结果
//
// State 为 Done 时 Result 有效；Canceled 时 Err 为 ErrCanceled；
// Crashed 时 Err 为入口函数返回的错误或栈溢出错误。
type Outcome struct {
	State  State
	Result any
	Err    error
}
