package numa

import (
	"reflect"
	"runtime"
	"testing"
)

func TestParseCPUList(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"0", []int{0}},
		{"0-3", []int{0, 1, 2, 3}},
		{"0-1,4,6-7\n", []int{0, 1, 4, 6, 7}},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := ParseCPUList(tt.in)
		if err != nil {
			t.Errorf("ParseCPUList(%q) error: %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseCPUList(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestParseCPUListErrors(t *testing.T) {
	for _, in := range []string{"a", "3-1", "1-x"} {
		if _, err := ParseCPUList(in); err == nil {
			t.Errorf("ParseCPUList(%q) should fail", in)
		}
	}
}

func TestUnknownTopology(t *testing.T) {
	topo := unknownTopology()
	if topo.Known() {
		t.Error("Placeholder topology should not be known")
	}
	if topo.NumNodes() != 1 {
		t.Errorf("Expected 1 node, got %d", topo.NumNodes())
	}
	if len(topo.CPUsOf(0)) != runtime.NumCPU() {
		t.Errorf("Expected %d cpus, got %d", runtime.NumCPU(), len(topo.CPUsOf(0)))
	}
	if topo.NodeForWorker(3) != NoNode {
		t.Error("Unknown topology should not assign worker nodes")
	}
}

func TestTopologyLookup(t *testing.T) {
	topo := newTopology([]Node{
		{ID: 1, CPUs: []int{2, 3}},
		{ID: 0, CPUs: []int{0, 1}},
	}, true)

	if topo.Nodes()[0].ID != 0 {
		t.Error("Nodes should be sorted by id")
	}
	if topo.NodeOfCPU(3) != 1 {
		t.Errorf("Expected cpu 3 on node 1, got %d", topo.NodeOfCPU(3))
	}
	if topo.NodeOfCPU(9) != NoNode {
		t.Error("Unknown cpu should map to NoNode")
	}
	if topo.NodeForWorker(3) != 1 {
		t.Errorf("Expected worker 3 on node 1, got %d", topo.NodeForWorker(3))
	}
}

func TestDiscoverNeverFails(t *testing.T) {
	topo := Discover()
	if topo == nil || topo.NumNodes() == 0 {
		t.Fatal("Discover should always return at least one node")
	}
}

func TestBindMemoryNoNode(t *testing.T) {
	if err := BindMemory(0, 4096, NoNode); err != nil {
		t.Errorf("Binding without node preference should be a no-op, got %v", err)
	}
}
