//go:build !linux

package numa

// Discover 非 Linux 平台没有可读的拓扑，返回未知拓扑
func Discover() *Topology {
	return unknownTopology()
}

// CurrentCPU 不支持时返回 -1
func CurrentCPU() int {
	return -1
}

// CurrentNode 不支持时返回 NoNode
func CurrentNode() int {
	return NoNode
}

// PinCurrentThread 不支持
func PinCurrentThread(cpus []int) error {
	if len(cpus) == 0 {
		return nil
	}
	return ErrUnsupported
}

// BindMemory 不支持节点绑定，静默忽略
func BindMemory(addr uintptr, length int, node int) error {
	if node < 0 {
		return nil
	}
	return ErrUnsupported
}
