// Package numa 提供尽力而为的 NUMA 拓扑发现与平台绑定。
//
// 不支持 NUMA 的平台上，拓扑报告为"未知"（单节点、Known() 为 false），
// 此时调用方应在没有节点亲和性的情况下继续工作。
package numa

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	gterr "github.com/tangzhangming/greenrt/internal/errors"
)

// NoNode 表示没有节点偏好
const NoNode = -1

// ErrUnsupported 平台不支持该操作
var ErrUnsupported = gterr.New(gterr.G0006, "numa", "operation not supported on %s", runtime.GOOS)

// Node 一个 NUMA 节点
type Node struct {
	ID   int   // 节点编号
	CPUs []int // 属于该节点的 CPU
}

// Topology NUMA 拓扑
type Topology struct {
	nodes []Node
	known bool
	byCPU map[int]int
}

// Known 拓扑是否来自真实的系统信息
func (t *Topology) Known() bool {
	return t.known
}

// Nodes 所有节点
func (t *Topology) Nodes() []Node {
	return t.nodes
}

// NumNodes 节点数量
func (t *Topology) NumNodes() int {
	return len(t.nodes)
}

// NodeOfCPU 返回 CPU 所属节点，未知时返回 NoNode
func (t *Topology) NodeOfCPU(cpu int) int {
	if n, ok := t.byCPU[cpu]; ok {
		return n
	}
	return NoNode
}

// CPUsOf 返回节点的 CPU 列表
func (t *Topology) CPUsOf(node int) []int {
	for _, n := range t.nodes {
		if n.ID == node {
			return n.CPUs
		}
	}
	return nil
}

// NodeForWorker 为第 i 个工作线程选择节点（轮转）
func (t *Topology) NodeForWorker(i int) int {
	if !t.known || len(t.nodes) == 0 {
		return NoNode
	}
	return t.nodes[i%len(t.nodes)].ID
}

// unknownTopology 单节点、包含全部 CPU 的占位拓扑
func unknownTopology() *Topology {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return newTopology([]Node{{ID: 0, CPUs: cpus}}, false)
}

func newTopology(nodes []Node, known bool) *Topology {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	t := &Topology{nodes: nodes, known: known, byCPU: make(map[int]int)}
	for _, n := range nodes {
		for _, c := range n.CPUs {
			t.byCPU[c] = n.ID
		}
	}
	return t
}

// ParseCPUList 解析内核 cpulist 格式，如 "0-3,8,10-11"
func ParseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu list %q: %w", s, err)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu list %q: %w", s, err)
			}
		}
		if end < start {
			return nil, fmt.Errorf("invalid cpu range %q", part)
		}
		for c := start; c <= end; c++ {
			out = append(out, c)
		}
	}
	return out, nil
}
