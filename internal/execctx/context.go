// Package execctx 实现协程的执行上下文。
//
// 每个上下文绑定一个 goroutine，寄存器与栈的保存/恢复由 Go 运行时
// 在 goroutine 阻塞和唤醒时完成；本包只负责"控制权接力"：
//
//   - Make    准备一个新上下文，首次被切入时才创建 goroutine 执行 entry
//   - Switch  保存 from 并恢复 to：把控制权交给 to，直到有人切回 from 才返回
//   - Exit    只恢复不保存：把控制权交给 to，调用方的 goroutine 随后必须返回
//   - Kill    以 runtime.Goexit 展开一个挂起的上下文（仅用于调度器关闭时回收）
//
// 同一时刻只有持有接力棒的 goroutine 在运行，这是调度器
// "每个调度器最多一个 Running 协程" 不变式的基础。
// 上下文只在调度器内部使用，不暴露给用户代码。
package execctx

import (
	"runtime"
	"sync/atomic"
)

// signal 接力信号
type signal uint8

const (
	sigResume signal = iota + 1
	sigKill
)

// Context 执行上下文
type Context struct {
	// wake 接力通道，容量为 1：交出控制权的一方发送后立即去等待自己的通道
	wake chan signal

	// entry 首次切入时执行的函数，nil 表示根上下文
	entry func()

	// started goroutine 是否已创建（只由持棒者读写）
	started atomic.Bool

	// exited goroutine 结束时关闭
	exited chan struct{}

	// made 是否已初始化
	made bool
}

// Root 创建代表调用方 goroutine 的上下文（调度器的分派上下文）
func Root() *Context {
	c := &Context{
		wake:   make(chan signal, 1),
		exited: make(chan struct{}),
		made:   true,
	}
	c.started.Store(true)
	return c
}

// Make 初始化上下文，使其在首次被恢复时执行 entry
//
// entry 在新的 goroutine 上运行，必须以 Exit 结束（或被 Kill 展开）。
func Make(c *Context, entry func()) {
	c.wake = make(chan signal, 1)
	c.exited = make(chan struct{})
	c.entry = entry
	c.started.Store(false)
	c.made = true
}

// Made 是否已初始化
func (c *Context) Made() bool {
	return c.made
}

// Started 是否已经开始执行
func (c *Context) Started() bool {
	return c.started.Load()
}

// Finished goroutine 是否已经结束
func (c *Context) Finished() bool {
	select {
	case <-c.exited:
		return true
	default:
		return false
	}
}

// Switch 保存 from，恢复 to
//
// 返回时意味着其他上下文切回了 from，from 从 Switch 之后继续执行。
// 如果 from 在挂起期间被 Kill，当前 goroutine 直接 Goexit，不会返回。
func Switch(from, to *Context) {
	resume(to)
	if <-from.wake == sigKill {
		runtime.Goexit()
	}
}

// Exit 恢复 to 并放弃当前上下文
//
// 调用方随后必须从 entry 返回，不能再触碰调度器状态。
func Exit(to *Context) {
	resume(to)
}

// Kill 展开一个挂起的上下文并等待其 goroutine 结束
//
// 只能对当前没有运行的上下文调用。从未开始的上下文直接标记为结束。
func Kill(c *Context) {
	if !c.made {
		return
	}
	if !c.started.Load() {
		c.started.Store(true)
		close(c.exited)
		return
	}
	if c.entry == nil {
		// 根上下文属于调用方，不能被展开
		return
	}
	select {
	case <-c.exited:
		return
	default:
	}
	c.wake <- sigKill
	<-c.exited
}

func resume(to *Context) {
	if to.entry != nil && to.started.CompareAndSwap(false, true) {
		go to.run()
	}
	to.wake <- sigResume
}

// run goroutine 入口：等待第一次接力后执行 entry
func (c *Context) run() {
	defer close(c.exited)
	if <-c.wake == sigKill {
		return
	}
	c.entry()
}
