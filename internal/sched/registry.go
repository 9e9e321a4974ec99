package sched

import (
	"sync/atomic"
)

// ============================================================================
// 调度器注册表
// ============================================================================

// Registry 调度器注册表
//
// 只追加的槽位数组，槽位 ID 单调递增。追加通过写时复制 + CAS 完成，
// 读取是无锁快照。调度器关闭时只在槽位上打墓碑，从不移除，
// 正在扫描的窃取方拿到的快照始终有效，墓碑槽位按空队列处理。
type Registry struct {
	slots  atomic.Pointer[[]*slot]
	nextID atomic.Int64
}

type slot struct {
	id    int64
	sched *Scheduler
	dead  atomic.Bool
}

// defaultRegistry 未显式指定注册表的调度器共享它
var defaultRegistry = NewRegistry()

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make([]*slot, 0)
	r.slots.Store(&empty)
	return r
}

// DefaultRegistry 进程级默认注册表
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// add 追加一个槽位
func (r *Registry) add(s *Scheduler) *slot {
	sl := &slot{id: r.nextID.Add(1), sched: s}
	for {
		old := r.slots.Load()
		next := make([]*slot, len(*old), len(*old)+1)
		copy(next, *old)
		next = append(next, sl)
		if r.slots.CompareAndSwap(old, &next) {
			return sl
		}
	}
}

// remove 给槽位打墓碑
func (r *Registry) remove(sl *slot) {
	if sl != nil {
		sl.dead.Store(true)
	}
}

// snapshot 当前槽位快照（含墓碑）
func (r *Registry) snapshot() []*slot {
	return *r.slots.Load()
}

// Len 槽位总数（含墓碑）
func (r *Registry) Len() int {
	return len(r.snapshot())
}

// Live 仍然存活的调度器
func (r *Registry) Live() []*Scheduler {
	var out []*Scheduler
	for _, sl := range r.snapshot() {
		if !sl.dead.Load() {
			out = append(out, sl.sched)
		}
	}
	return out
}
