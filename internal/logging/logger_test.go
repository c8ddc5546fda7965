package logging

import (
	"os"
	"path/filepath"
	"testing"
)

// resetState clears package-level logging state between tests.
func resetState() {
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	configLoaded = false
	config = loggingConfig{}
}

func TestInitializeWithoutConfigIsNoop(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if IsDebugMode() {
		t.Error("debug mode should be disabled without config")
	}

	// No logs directory should exist in production mode
	if _, err := os.Stat(filepath.Join(tempDir, ".helmsman", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not be created in production mode")
	}

	// Logging must be a silent no-op, not a crash
	Turn("this should go nowhere")
}

func TestCategoriesLogWhenDebugEnabled(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".helmsman")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configContent := `{
		"logging": {
			"level": "debug",
			"debug_mode": true
		}
	}`
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if !IsDebugMode() {
		t.Fatal("expected debug mode to be enabled")
	}

	Turn("turn message")
	Plan("plan message")
	Memory("memory message")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".helmsman", "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	if len(entries) < 3 {
		t.Errorf("expected at least 3 log files (boot, turn, plan, memory), got %d", len(entries))
	}
}

func TestCategoryFiltering(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".helmsman")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configContent := `{
		"logging": {
			"level": "debug",
			"debug_mode": true,
			"categories": {
				"turn": true,
				"plan": false
			}
		}
	}`
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if !IsCategoryEnabled(CategoryTurn) {
		t.Error("turn category should be enabled")
	}
	if IsCategoryEnabled(CategoryPlan) {
		t.Error("plan category should be disabled")
	}
	// Unlisted categories default to enabled in debug mode
	if !IsCategoryEnabled(CategoryMemory) {
		t.Error("unlisted category should default to enabled")
	}
}
