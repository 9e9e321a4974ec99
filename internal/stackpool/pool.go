// Package stackpool 实现按大小分桶、感知 NUMA 的协程栈池。
//
// 桶大小为 2 的幂（默认 1KiB 到 128KiB），每个桶维护一条有容量上限的
// 空闲链表。超过最大桶的请求直接向操作系统申请、释放时直接归还，从不入池。
// 空闲块带有 NUMA 节点标记，分配时优先取请求节点上的块，
// 没有则退而取任意空闲块，而不是失败。
package stackpool

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/greenrt/internal/config"
	gterr "github.com/tangzhangming/greenrt/internal/errors"
	"github.com/tangzhangming/greenrt/internal/numa"
)

// ============================================================================
// 配置
// ============================================================================

// Options 栈池选项
type Options struct {
	MinBucket      int  // 最小桶大小（2 的幂）
	MaxBucket      int  // 最大桶大小（2 的幂）
	BucketCapacity int  // 每个桶最多缓存的空闲块数
	GuardPages     bool // 是否使用带保护页的映射
	NUMA           bool // 是否按节点绑定新映射
	Logger         *zap.Logger
}

// OptionsFromConfig 从配置构建选项
func OptionsFromConfig(cfg config.Stack, log *zap.Logger) Options {
	return Options{
		MinBucket:      cfg.MinBucket,
		MaxBucket:      cfg.MaxBucket,
		BucketCapacity: cfg.BucketCapacity,
		GuardPages:     cfg.GuardPages,
		NUMA:           cfg.NUMA,
		Logger:         log,
	}
}

// ============================================================================
// 栈池
// ============================================================================

// Pool 栈池
//
// 每个调度器持有一个栈池。归还可能来自其他线程（协程被窃取后在别处销毁），
// 因此每个桶用一把小锁保护；栈池不在调度热路径上。
type Pool struct {
	buckets []*bucket
	opts    Options
	log     *zap.Logger

	closed atomic.Bool
	stats  poolCounters
}

type bucket struct {
	mu   sync.Mutex
	size int
	free []*Block
}

type poolCounters struct {
	allocations   atomic.Int64 // 向操作系统申请的次数
	deallocations atomic.Int64 // 归还操作系统的次数
	hits          atomic.Int64 // 池命中
	misses        atomic.Int64 // 池未命中（新映射）
	direct        atomic.Int64 // 超大直接分配
	inUse         atomic.Int64 // 已分配未归还
	nodeMisses    atomic.Int64 // 命中但不在请求节点
}

// Stats 栈池统计快照
type Stats struct {
	Allocations   int64 // 向操作系统申请的次数
	Deallocations int64 // 归还操作系统的次数
	Hits          int64 // 池命中
	Misses        int64 // 池未命中
	Direct        int64 // 超大直接分配
	InUse         int64 // 已分配未归还
	Pooled        int   // 空闲链表中的块数
	NodeMisses    int64 // 命中但节点不符
}

// New 创建栈池
func New(opts Options) *Pool {
	if opts.MinBucket <= 0 {
		opts.MinBucket = config.DefaultMinBucket
	}
	if opts.MaxBucket < opts.MinBucket {
		opts.MaxBucket = opts.MinBucket
	}
	if opts.BucketCapacity < 0 {
		opts.BucketCapacity = 0
	}

	p := &Pool{opts: opts}
	if opts.Logger != nil {
		p.log = opts.Logger.Named("stackpool")
	} else {
		p.log = zap.NewNop()
	}

	for size := opts.MinBucket; size <= opts.MaxBucket; size <<= 1 {
		p.buckets = append(p.buckets, &bucket{size: size})
	}
	return p
}

// BucketSize 返回 size 所属桶的大小；超过最大桶返回 size 本身
func (p *Pool) BucketSize(size int) int {
	if b := p.bucketFor(size); b != nil {
		return b.size
	}
	return size
}

func (p *Pool) bucketFor(size int) *bucket {
	for _, b := range p.buckets {
		if size <= b.size {
			return b
		}
	}
	return nil
}

// Allocate 分配一块至少 size 字节的栈，优先位于 node
func (p *Pool) Allocate(size int, node int) (*Block, error) {
	if size <= 0 {
		return nil, gterr.New(gterr.G0001, "stack.allocate", "invalid stack size %d", size)
	}
	if p.closed.Load() {
		return nil, gterr.New(gterr.G0003, "stack.allocate", "stack pool closed")
	}

	bk := p.bucketFor(size)
	if bk == nil {
		// 超过最大桶：直接映射，不入池
		blk, err := p.mapNew(size, node)
		if err != nil {
			return nil, err
		}
		blk.direct = true
		p.stats.direct.Inc()
		p.stats.inUse.Inc()
		return blk, nil
	}

	if blk := bk.take(node, p.opts.NUMA); blk != nil {
		p.stats.hits.Inc()
		if node >= 0 && blk.node != node {
			p.stats.nodeMisses.Inc()
		}
		p.stats.inUse.Inc()
		return blk, nil
	}

	p.stats.misses.Inc()
	blk, err := p.mapNew(bk.size, node)
	if err != nil {
		return nil, err
	}
	p.stats.inUse.Inc()
	return blk, nil
}

// take 从空闲链表取块：先找同节点，再取任意
func (b *bucket) take(node int, numaAware bool) *Block {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.free)
	if n == 0 {
		return nil
	}

	idx := n - 1
	if numaAware && node >= 0 {
		for i := n - 1; i >= 0; i-- {
			if b.free[i].node == node {
				idx = i
				break
			}
		}
	}

	blk := b.free[idx]
	b.free[idx] = b.free[n-1]
	b.free[n-1] = nil
	b.free = b.free[:n-1]
	blk.pooled = false
	return blk
}

// mapNew 向操作系统申请新块，并尽力绑定到 node
func (p *Pool) mapNew(size int, node int) (*Block, error) {
	var blk *Block
	if p.opts.GuardPages {
		var err error
		blk, err = mapBlock(size)
		if err != nil {
			return nil, gterr.Wrap(gterr.G0002, "stack.allocate", err)
		}
	} else {
		blk = heapBlock(size)
	}
	p.stats.allocations.Inc()

	if p.opts.NUMA && node >= 0 && blk.mem != nil {
		if err := numa.BindMemory(blk.Base(), len(blk.usable), node); err != nil {
			if !gterr.Is(err, gterr.ErrUnsupported) {
				p.log.Warn("numa bind failed", zap.Int("node", node), zap.Error(err))
			}
		} else {
			blk.node = node
		}
	}
	return blk, nil
}

// heapBlock 没有保护页的普通堆内存块
func heapBlock(size int) *Block {
	return &Block{
		usable: make([]byte, size),
		size:   size,
		node:   -1,
	}
}

// Free 归还栈块
//
// 桶未满时放回空闲链表，否则归还操作系统。
func (p *Pool) Free(blk *Block) error {
	if blk == nil || blk.usable == nil {
		return gterr.New(gterr.G0001, "stack.free", "nil or released block")
	}
	if blk.pooled {
		return gterr.New(gterr.G0001, "stack.free", "block already freed")
	}
	p.stats.inUse.Dec()

	if blk.direct || p.closed.Load() {
		return p.release(blk)
	}

	bk := p.bucketFor(blk.size)
	if bk == nil || bk.size != blk.size {
		return p.release(blk)
	}

	blk.scrub()

	bk.mu.Lock()
	if len(bk.free) < p.opts.BucketCapacity {
		blk.pooled = true
		bk.free = append(bk.free, blk)
		bk.mu.Unlock()
		return nil
	}
	bk.mu.Unlock()

	return p.release(blk)
}

func (p *Pool) release(blk *Block) error {
	p.stats.deallocations.Inc()
	if err := unmapBlock(blk); err != nil {
		p.log.Warn("stack unmap failed", zap.Int("size", blk.size), zap.Error(err))
		return gterr.Wrap(gterr.G0007, "stack.free", err)
	}
	blk.usable = nil
	return nil
}

// Close 释放所有空闲块，之后的 Free 直接归还操作系统
func (p *Pool) Close() error {
	if !p.closed.CAS(false, true) {
		return nil
	}

	var err error
	for _, bk := range p.buckets {
		bk.mu.Lock()
		free := bk.free
		bk.free = nil
		bk.mu.Unlock()

		for _, blk := range free {
			blk.pooled = false
			err = multierr.Append(err, p.release(blk))
		}
	}
	return err
}

// Stats 统计快照
func (p *Pool) Stats() Stats {
	pooled := 0
	for _, bk := range p.buckets {
		bk.mu.Lock()
		pooled += len(bk.free)
		bk.mu.Unlock()
	}
	return Stats{
		Allocations:   p.stats.allocations.Load(),
		Deallocations: p.stats.deallocations.Load(),
		Hits:          p.stats.hits.Load(),
		Misses:        p.stats.misses.Load(),
		Direct:        p.stats.direct.Load(),
		InUse:         p.stats.inUse.Load(),
		Pooled:        pooled,
		NodeMisses:    p.stats.nodeMisses.Load(),
	}
}

// Capacity 每桶容量
func (p *Pool) Capacity() int {
	return p.opts.BucketCapacity
}
