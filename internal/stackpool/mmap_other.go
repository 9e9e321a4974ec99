//go:build !unix && !windows

package stackpool

// mapBlock 没有虚拟内存原语的平台退化为无保护页的堆内存
func mapBlock(size int) (*Block, error) {
	return heapBlock(size), nil
}

func unmapBlock(b *Block) error {
	b.usable = nil
	return nil
}
