package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Model.MaxDepth != 6 {
		t.Errorf("default max_depth: got %d", cfg.Model.MaxDepth)
	}
	if cfg.Model.LearningRate != 0.1 {
		t.Errorf("default learning_rate: got %f", cfg.Model.LearningRate)
	}
	if cfg.Model.TreesPerUpdate != 10 {
		t.Errorf("default trees_per_update: got %d", cfg.Model.TreesPerUpdate)
	}
	if cfg.Model.MaxTotalTrees != 2000 {
		t.Errorf("default max_total_trees: got %d", cfg.Model.MaxTotalTrees)
	}
	if cfg.Model.Objective != ObjectiveAbsoluteError {
		t.Errorf("default objective: got %s", cfg.Model.Objective)
	}
	if cfg.Model.SwapEveryNUpdates != 5 {
		t.Errorf("default swap_every_n_updates: got %d", cfg.Model.SwapEveryNUpdates)
	}
	if cfg.Buffer.Capacity != 10000 {
		t.Errorf("default buffer capacity: got %d", cfg.Buffer.Capacity)
	}
	if cfg.Buffer.WindowSize != 500 {
		t.Errorf("default window_size: got %d", cfg.Buffer.WindowSize)
	}
	if cfg.Predict.MaxPhysicalPredictions != 300 {
		t.Errorf("default max_physical_predictions: got %d", cfg.Predict.MaxPhysicalPredictions)
	}
	if cfg.Collector.MaxEntries != 500 {
		t.Errorf("default collector max_entries: got %d", cfg.Collector.MaxEntries)
	}
	if cfg.Optimizer.Blend != BlendReplace {
		t.Errorf("default blend: got %s", cfg.Optimizer.Blend)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
model:
  max_depth: 4
  learning_rate: 0.3
  trees_per_update: 2
  max_total_trees: 200
  objective: "reg:squarederror"
buffer:
  capacity: 2000
  window_size: 200
predict:
  max_physical_predictions: 100
optimizer:
  enabled: true
  blend: "geomean"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.MaxDepth != 4 {
		t.Errorf("max_depth: got %d", cfg.Model.MaxDepth)
	}
	if cfg.Model.LearningRate != 0.3 {
		t.Errorf("learning_rate: got %f", cfg.Model.LearningRate)
	}
	if cfg.Model.Objective != ObjectiveSquaredError {
		t.Errorf("objective: got %s", cfg.Model.Objective)
	}
	if cfg.Buffer.Capacity != 2000 {
		t.Errorf("buffer capacity: got %d", cfg.Buffer.Capacity)
	}
	if !cfg.Optimizer.Enabled || cfg.Optimizer.Blend != BlendGeomean {
		t.Errorf("optimizer: got %+v", cfg.Optimizer)
	}
	// Unset fields keep defaults.
	if cfg.Model.Subsample != 0.8 {
		t.Errorf("subsample default: got %f", cfg.Model.Subsample)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/cardlearn.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RL_MAX_DEPTH", "8")
	t.Setenv("RL_ETA", "0.05")
	t.Setenv("RL_TREES_PER_UPDATE", "3")
	t.Setenv("RL_MAX_TOTAL_TREES", "20")
	t.Setenv("RL_OBJECTIVE", "reg:squarederror")
	t.Setenv("RL_SWAP_EVERY_N_UPDATES", "1")
	t.Setenv("RL_SAMPLE_LOG", "/tmp/rl_samples.db")

	cfg := FromEnv()
	if cfg.Model.MaxDepth != 8 {
		t.Errorf("RL_MAX_DEPTH: got %d", cfg.Model.MaxDepth)
	}
	if cfg.Model.LearningRate != 0.05 {
		t.Errorf("RL_ETA: got %f", cfg.Model.LearningRate)
	}
	if cfg.Model.TreesPerUpdate != 3 {
		t.Errorf("RL_TREES_PER_UPDATE: got %d", cfg.Model.TreesPerUpdate)
	}
	if cfg.Model.MaxTotalTrees != 20 {
		t.Errorf("RL_MAX_TOTAL_TREES: got %d", cfg.Model.MaxTotalTrees)
	}
	if cfg.Model.Objective != ObjectiveSquaredError {
		t.Errorf("RL_OBJECTIVE: got %s", cfg.Model.Objective)
	}
	if cfg.Model.SwapEveryNUpdates != 1 {
		t.Errorf("RL_SWAP_EVERY_N_UPDATES: got %d", cfg.Model.SwapEveryNUpdates)
	}
	if cfg.SampleLog.Path != "/tmp/rl_samples.db" {
		t.Errorf("RL_SAMPLE_LOG: got %s", cfg.SampleLog.Path)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RL_ETA", "5.0")
	t.Setenv("RL_OBJECTIVE", "reg:gamma")
	cfg := FromEnv()
	if cfg.Model.LearningRate != 0.1 {
		t.Errorf("out-of-range eta should fall back: got %f", cfg.Model.LearningRate)
	}
	if cfg.Model.Objective != ObjectiveAbsoluteError {
		t.Errorf("unknown objective should fall back: got %s", cfg.Model.Objective)
	}
}
