//go:build linux

package numa

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverFromSysfs(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("online", "0-1\n")
	write("node0/cpulist", "0-3\n")
	write("node1/cpulist", "4-7\n")

	topo := discoverFrom(root)
	if !topo.Known() {
		t.Fatal("Topology read from sysfs should be known")
	}
	if topo.NumNodes() != 2 {
		t.Errorf("Expected 2 nodes, got %d", topo.NumNodes())
	}
	if topo.NodeOfCPU(5) != 1 {
		t.Errorf("Expected cpu 5 on node 1, got %d", topo.NodeOfCPU(5))
	}
}

func TestDiscoverFromMissingDir(t *testing.T) {
	topo := discoverFrom(filepath.Join(t.TempDir(), "missing"))
	if topo.Known() {
		t.Error("Missing sysfs should yield unknown topology")
	}
}

func TestCurrentCPU(t *testing.T) {
	if CurrentCPU() < 0 {
		t.Error("getcpu should succeed on linux")
	}
}
