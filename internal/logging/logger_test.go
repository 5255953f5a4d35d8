package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, ".mcoda")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

func TestCategoriesCreateLogFiles(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `
logging:
  debug: true
  level: debug
`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Pipeline("run started")
	Librarian("assembling context")
	BuilderDebug("parsing patches")
	DocdexWarn("index stale")

	entries, err := os.ReadDir(filepath.Join(tempDir, ".mcoda", "logs"))
	if err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}

	found := map[string]bool{}
	for _, e := range entries {
		for _, cat := range []string{"pipeline", "librarian", "builder", "docdex"} {
			if strings.Contains(e.Name(), cat) {
				found[cat] = true
			}
		}
	}
	for _, cat := range []string{"pipeline", "librarian", "builder", "docdex"} {
		if !found[cat] {
			t.Errorf("expected log file for category %q, got entries %v", cat, entries)
		}
	}
}

func TestDisabledModeIsNoOp(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `
logging:
  debug: false
`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Pipeline("should not be written")

	if _, err := os.Stat(filepath.Join(tempDir, ".mcoda", "logs")); !os.IsNotExist(err) {
		t.Errorf("logs dir should not exist in production mode, stat err=%v", err)
	}
	if IsDebugMode() {
		t.Error("IsDebugMode should be false")
	}
}

func TestCategoryFilter(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `
logging:
  debug: true
  level: debug
  categories:
    pipeline: true
    critic: false
`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	if !IsCategoryEnabled(CategoryPipeline) {
		t.Error("pipeline category should be enabled")
	}
	if IsCategoryEnabled(CategoryCritic) {
		t.Error("critic category should be disabled")
	}
	// Unlisted categories default to enabled.
	if !IsCategoryEnabled(CategoryLanes) {
		t.Error("unlisted category should default to enabled")
	}
}

func TestJSONFormat(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `
logging:
  debug: true
  level: info
  json_format: true
`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	if !IsJSONFormat() {
		t.Fatal("JSON format should be enabled")
	}
	Get(CategoryVCS).Info("applied %d patches", 3)
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".mcoda", "logs"))
	if err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}
	var logPath string
	for _, e := range entries {
		if strings.Contains(e.Name(), "vcs") {
			logPath = filepath.Join(tempDir, ".mcoda", "logs", e.Name())
		}
	}
	if logPath == "" {
		t.Fatal("vcs log file not found")
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"cat":"vcs"`) {
		t.Errorf("expected JSON line with category, got: %s", data)
	}
	if !strings.Contains(string(data), "applied 3 patches") {
		t.Errorf("expected formatted message, got: %s", data)
	}
}

func TestReloadConfig(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `
logging:
  debug: false
`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	if IsDebugMode() {
		t.Fatal("debug should start disabled")
	}

	writeTestConfig(t, tempDir, `
logging:
  debug: true
  level: debug
`)
	if err := ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if !IsDebugMode() {
		t.Error("debug should be enabled after reload")
	}
}

func TestTimerStopWithThreshold(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `
logging:
  debug: true
  level: debug
`)
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	timer := StartTimer(CategoryLibrarian, "assemble")
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Millisecond)
	if elapsed < 5*time.Millisecond {
		t.Errorf("elapsed %v too short", elapsed)
	}
}

func TestRequestLoggerFields(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `
logging:
  debug: true
  level: debug
`)
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	rl := WithRequestID(CategoryPipeline, "run-123").WithField("job", "job-x")
	rl.Info("phase %s", "builder")
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(tempDir, ".mcoda", "logs"))
	var content string
	for _, e := range entries {
		if strings.Contains(e.Name(), "pipeline") {
			data, _ := os.ReadFile(filepath.Join(tempDir, ".mcoda", "logs", e.Name()))
			content = string(data)
		}
	}
	if !strings.Contains(content, "req:run-123") {
		t.Errorf("expected request id in log, got: %s", content)
	}
}
