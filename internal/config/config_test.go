package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

// ============================================================================
// 默认值与解析
// ============================================================================

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid, got %v", err)
	}
	if cfg.Scheduler.TimeSlice.Std() != 10*time.Millisecond {
		t.Errorf("Expected 10ms time slice, got %s", cfg.Scheduler.TimeSlice)
	}
	if cfg.Stack.MaxBucket != 128*KiB {
		t.Errorf("Expected 128KiB max bucket, got %d", cfg.Stack.MaxBucket)
	}
}

func TestParsePartialKeepsDefaults(t *testing.T) {
	src := `
[scheduler]
workers = 3
time_slice = "250us"

[thread]
priority = "realtime"
policy = "cooperative"
`
	cfg, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Scheduler.Workers != 3 {
		t.Errorf("Expected 3 workers, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.TimeSlice.Std() != 250*time.Microsecond {
		t.Errorf("Expected 250us, got %s", cfg.Scheduler.TimeSlice)
	}
	if cfg.Thread.Priority != PriorityRealtime {
		t.Errorf("Expected realtime, got %s", cfg.Thread.Priority)
	}
	if cfg.Thread.Policy != PolicyCooperative {
		t.Errorf("Expected cooperative, got %s", cfg.Thread.Policy)
	}
	// 未出现的字段保留默认值
	if cfg.Scheduler.QueueCapacity != DefaultQueueCapacity {
		t.Errorf("Expected default queue capacity, got %d", cfg.Scheduler.QueueCapacity)
	}
	if !cfg.Stack.GuardPages {
		t.Error("guard_pages should default to true")
	}
}

func TestParseRejectsUnknownPriority(t *testing.T) {
	_, err := Parse([]byte("[thread]\npriority = \"urgent\"\n"))
	if err == nil {
		t.Fatal("Expected error for unknown priority")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.QueueCapacity = 100
	cfg.Stack.MinBucket = 3000
	cfg.Scheduler.TimeSlice = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if n := len(multierr.Errors(err)); n != 3 {
		t.Errorf("Expected 3 errors, got %d: %v", n, err)
	}
}

// ============================================================================
// 保存与查找
// ============================================================================

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := Default()
	cfg.Scheduler.Workers = 2
	cfg.Thread.Policy = PolicyPreemptive
	cfg.Scheduler.TimeSlice = Duration(2 * time.Millisecond)

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "# greenrt") {
		t.Error("Saved file should start with the comment header")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Scheduler.Workers != 2 || loaded.Thread.Policy != PolicyPreemptive {
		t.Errorf("Round trip mismatch: %+v", loaded.Scheduler)
	}
	if loaded.Scheduler.TimeSlice.Std() != 2*time.Millisecond {
		t.Errorf("Expected 2ms, got %s", loaded.Scheduler.TimeSlice)
	}
}

func TestFindConfigFileWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := Default().Save(filepath.Join(root, ConfigFileName)); err != nil {
		t.Fatal(err)
	}

	found := FindConfigFile(nested)
	want, _ := filepath.Abs(filepath.Join(root, ConfigFileName))
	if found != want {
		t.Errorf("Expected %s, got %s", want, found)
	}
}

func TestWorkerCount(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.Workers = 1000
	if cfg.WorkerCount() != MaxWorkers {
		t.Errorf("Expected clamp to %d, got %d", MaxWorkers, cfg.WorkerCount())
	}
	cfg.Scheduler.Workers = 0
	if cfg.WorkerCount() <= 0 {
		t.Error("Auto worker count should be positive")
	}
}
