//go:build unix

package stackpool

import (
	"golang.org/x/sys/unix"
)

// mapBlock 用 mmap 分配带保护页的栈
func mapBlock(size int) (*Block, error) {
	rounded := roundUp(size, pageSize)
	total := rounded + 2*pageSize

	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}

	// 首尾各一页设为不可访问
	if err := unix.Mprotect(mem[:pageSize], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}
	if err := unix.Mprotect(mem[total-pageSize:], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}

	return &Block{
		mem:     mem,
		usable:  mem[pageSize : pageSize+rounded],
		size:    size,
		node:    -1,
		guarded: true,
	}, nil
}

// unmapBlock 释放映射
func unmapBlock(b *Block) error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	b.usable = nil
	return err
}
