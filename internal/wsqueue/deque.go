// Package wsqueue 实现 Chase-Lev 工作窃取双端队列。
//
// 队列由一个线程（owner）从 bottom 端 Push/Pop，
// 其他任意线程从 top 端 Steal。热路径上不使用互斥锁，
// 正确性完全依赖 top/bottom 上的原子操作：
//
//   - Push 先写槽位再发布 bottom，窃取者读到新 bottom 时一定能看到任务
//   - Pop 与 Steal 竞争最后一个元素时，通过对 top 的一次 CAS 决出唯一赢家
//   - Steal 之间通过对 top 的 CAS 互斥，同一任务不会被交付两次
//
// sync/atomic 的操作是顺序一致的，Pop 中 "写 bottom 后读 top"
// 所需的 StoreLoad 屏障因此自然成立。
package wsqueue

import (
	"sync/atomic"
)

const cacheLineSize = 64

// DefaultCapacity 默认容量
const DefaultCapacity = 256

// Deque 有界的 Chase-Lev 双端队列
//
// 逻辑上可以无限次 Push/Pop，但物理容量固定为 2 的幂；
// 队列满时 Push 返回 false，由调用方决定回退策略。
type Deque[T any] struct {
	// buf 环形缓冲区，槽位使用原子指针，避免窃取者读到写了一半的值
	buf  []atomic.Pointer[T]
	mask int64

	_ [cacheLineSize]byte

	// top 窃取端索引，只增不减
	top atomic.Int64

	_ [cacheLineSize]byte

	// bottom owner 端索引
	bottom atomic.Int64

	_ [cacheLineSize]byte
}

// New 创建容量不小于 capacity 的队列
func New[T any](capacity int) *Deque[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	size := nextPow2(capacity)
	return &Deque[T]{
		buf:  make([]atomic.Pointer[T], size),
		mask: int64(size - 1),
	}
}

func nextPow2(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

// Push 在 bottom 端追加任务（仅 owner 调用）
//
// 队列已满时返回 false。
func (d *Deque[T]) Push(item *T) bool {
	b := d.bottom.Load()
	t := d.top.Load()
	if b-t > d.mask {
		return false
	}
	d.buf[b&d.mask].Store(item)
	// 发布：窃取者读到 b+1 之前槽位写入已可见
	d.bottom.Store(b + 1)
	return true
}

// Pop 从 bottom 端取出任务（仅 owner 调用，LIFO）
//
// 与窃取者竞争最后一个元素时可能失败，此时即使刚才有元素也返回 nil。
func (d *Deque[T]) Pop() *T {
	b := d.bottom.Load() - 1
	d.bottom.Store(b)
	t := d.top.Load()

	if t > b {
		// 空队列，恢复 bottom
		d.bottom.Store(b + 1)
		return nil
	}

	item := d.buf[b&d.mask].Load()
	if t < b {
		// 至少还剩一个元素，窃取者碰不到这个槽位
		return item
	}

	// 最后一个元素：与窃取者通过 CAS top 决出胜负
	won := d.top.CompareAndSwap(t, t+1)
	d.bottom.Store(b + 1)
	if !won {
		return nil
	}
	return item
}

// Steal 从 top 端窃取任务（任意线程，FIFO）
//
// 队列为空或与其他窃取者/owner 竞争失败时返回 nil。
func (d *Deque[T]) Steal() *T {
	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return nil
	}

	item := d.buf[t&d.mask].Load()
	if !d.top.CompareAndSwap(t, t+1) {
		return nil
	}
	return item
}

// ============================================================================
// 快照查询（尽力而为，不能代替操作本身的失败处理）
// ============================================================================

// Len 当前元素数量的快照
func (d *Deque[T]) Len() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Empty 是否为空的快照
func (d *Deque[T]) Empty() bool {
	return d.Len() == 0
}

// Cap 物理容量
func (d *Deque[T]) Cap() int {
	return len(d.buf)
}
