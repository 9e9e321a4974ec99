//go:build linux

package numa

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const sysNodeDir = "/sys/devices/system/node"

// mbind 策略
const (
	mpolPreferred = 1
)

// Discover 读取 /sys 下的节点信息
//
// 任何读取失败都退化为未知拓扑，而不是返回错误。
func Discover() *Topology {
	return discoverFrom(sysNodeDir)
}

func discoverFrom(root string) *Topology {
	online, err := os.ReadFile(filepath.Join(root, "online"))
	if err != nil {
		return unknownTopology()
	}
	ids, err := ParseCPUList(string(online))
	if err != nil || len(ids) == 0 {
		return unknownTopology()
	}

	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		data, err := os.ReadFile(filepath.Join(root, "node"+strconv.Itoa(id), "cpulist"))
		if err != nil {
			return unknownTopology()
		}
		cpus, err := ParseCPUList(strings.TrimSpace(string(data)))
		if err != nil {
			return unknownTopology()
		}
		nodes = append(nodes, Node{ID: id, CPUs: cpus})
	}
	return newTopology(nodes, true)
}

// CurrentCPU 当前线程所在 CPU，失败返回 -1
func CurrentCPU() int {
	cpu, _ := getcpu()
	return cpu
}

// CurrentNode 当前线程所在 NUMA 节点，失败返回 NoNode
func CurrentNode() int {
	_, node := getcpu()
	return node
}

func getcpu() (cpu, node int) {
	var c, n uint32
	_, _, errno := unix.RawSyscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&c)), uintptr(unsafe.Pointer(&n)), 0)
	if errno != 0 {
		return -1, NoNode
	}
	return int(c), int(n)
}

// PinCurrentThread 把调用方 OS 线程绑定到给定 CPU 集合
//
// 调用方必须已经 runtime.LockOSThread。
func PinCurrentThread(cpus []int) error {
	if len(cpus) == 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(c)
	}
	return unix.SchedSetaffinity(0, &set)
}

// BindMemory 把 [addr, addr+length) 优先绑定到 node
//
// 尽力而为：内核不支持 mbind（ENOSYS）时返回 ErrUnsupported。
func BindMemory(addr uintptr, length int, node int) error {
	if node < 0 || length <= 0 {
		return nil
	}
	const wordBits = 64
	mask := make([]uint64, node/wordBits+1)
	mask[node/wordBits] |= 1 << (uint(node) % wordBits)
	maxNode := uintptr(len(mask) * wordBits)

	_, _, errno := unix.Syscall6(unix.SYS_MBIND,
		addr, uintptr(length), mpolPreferred,
		uintptr(unsafe.Pointer(&mask[0])), maxNode, 0)
	switch errno {
	case 0:
		return nil
	case unix.ENOSYS:
		return ErrUnsupported
	default:
		return errno
	}
}
