package stackpool

import (
	"os"
	"unsafe"
)

// pageSize 系统页大小
var pageSize = os.Getpagesize()

// Block 一块协程私有栈
//
// 内存布局（guarded 为 true 时）：
//
//	| 保护页 | 可用区（按页对齐，前 size 字节对外可见） | 保护页 |
//
// 栈从高地址向低地址增长，越过 Bytes() 下界会立刻触碰低端保护页。
// 保护页不可访问，触碰后由调度器转换为 stack-overflow 错误。
//
// 可用区的低端与低端保护页相邻，高端不一定：size 不是页大小的整数倍时
// （例如小于一页的桶），Limit() 与高端保护页之间有最多一页的未保护空隙，
// 越过 Limit() 的写入不会立刻出错。只有向下的溢出保证被捕获。
type Block struct {
	// mem 整个映射（含保护页）；堆分配时为 nil
	mem []byte

	// usable 可用区（页对齐后的完整长度）
	usable []byte

	// size 对外可见的栈大小（桶大小或直接分配的请求大小）
	size int

	// node 绑定的 NUMA 节点，-1 表示未绑定
	node int

	// guarded 是否有保护页
	guarded bool

	// direct 超出最大桶的直接分配，不进入池
	direct bool

	// pooled 是否正躺在空闲链表中（防止重复释放）
	pooled bool
}

// Bytes 可用栈区，即 [Base(), Limit())
func (b *Block) Bytes() []byte {
	return b.usable[:b.size]
}

// Base 栈区低端地址
func (b *Block) Base() uintptr {
	return uintptr(unsafe.Pointer(&b.usable[0]))
}

// Limit 栈区高端地址（不含）
func (b *Block) Limit() uintptr {
	return b.Base() + uintptr(b.size)
}

// Size 栈大小
func (b *Block) Size() int {
	return b.size
}

// Node 绑定的 NUMA 节点
func (b *Block) Node() int {
	return b.node
}

// Guarded 是否有保护页
func (b *Block) Guarded() bool {
	return b.guarded
}

// Direct 是否为直接分配（不入池）
func (b *Block) Direct() bool {
	return b.direct
}

// InGuard addr 是否落在保护页内
func (b *Block) InGuard(addr uintptr) bool {
	if !b.guarded || len(b.mem) == 0 {
		return false
	}
	start := uintptr(unsafe.Pointer(&b.mem[0]))
	page := uintptr(pageSize)
	end := start + uintptr(len(b.mem))

	lowGuard := addr >= start && addr < start+page
	highGuard := addr >= end-page && addr < end
	return lowGuard || highGuard
}

// HighWater 栈的历史最大使用量
//
// 新块与回收后的块都是全零的，从低端向上找到第一个非零字节即可。
func (b *Block) HighWater() int {
	buf := b.Bytes()
	for i, v := range buf {
		if v != 0 {
			return len(buf) - i
		}
	}
	return 0
}

// scrub 把用过的部分清零，保持"空闲块全零"的不变式
func (b *Block) scrub() {
	if used := b.HighWater(); used > 0 {
		buf := b.Bytes()
		clear(buf[len(buf)-used:])
	}
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
