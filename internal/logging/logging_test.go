package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tangzhangming/greenrt/internal/config"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greenrt.log")

	logger, err := New(config.Log{Level: "debug", Encoding: "json", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("scheduler registered")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "scheduler registered") {
		t.Errorf("Expected message in log file, got %q", data)
	}
	if !strings.Contains(string(data), `"logger":"greenrt"`) {
		t.Errorf("Expected named logger, got %q", data)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(config.Log{Level: "loud"}); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")

	logger, err := New(config.Log{Level: "warn", Outputs: []string{path}})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") {
		t.Error("Info message should be filtered at warn level")
	}
	if !strings.Contains(string(data), "shown") {
		t.Error("Warn message should be written")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Error("OrNop(nil) should return a logger")
	}
}
