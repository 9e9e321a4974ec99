//go:build windows

package stackpool

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// mapBlock 用 VirtualAlloc 分配带保护页的栈
func mapBlock(size int) (*Block, error) {
	rounded := roundUp(size, pageSize)
	total := rounded + 2*pageSize

	addr, err := windows.VirtualAlloc(0, uintptr(total), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}

	var old uint32
	if err := windows.VirtualProtect(addr, uintptr(pageSize), windows.PAGE_NOACCESS, &old); err != nil {
		_ = windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
		return nil, err
	}
	if err := windows.VirtualProtect(addr+uintptr(total-pageSize), uintptr(pageSize), windows.PAGE_NOACCESS, &old); err != nil {
		_ = windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
		return nil, err
	}

	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), total)
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
	addr := uintptr(unsafe.Pointer(&b.mem[0]))
	b.mem = nil
	b.usable = nil
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}
