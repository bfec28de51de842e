package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Predict   PredictConfig   `yaml:"predict"`
	Collector CollectorConfig `yaml:"collector"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	SampleLog SampleLogConfig `yaml:"sample_log"`
	Verbose   bool            `yaml:"verbose"`
}

type ModelConfig struct {
	MaxDepth          int     `yaml:"max_depth"`
	LearningRate      float64 `yaml:"learning_rate"`
	TreesPerUpdate    int     `yaml:"trees_per_update"`
	Subsample         float64 `yaml:"subsample"`
	ColsampleByTree   float64 `yaml:"colsample_bytree"`
	MinChildWeight    float64 `yaml:"min_child_weight"`
	MaxTotalTrees     int     `yaml:"max_total_trees"`
	Objective         string  `yaml:"objective"`
	Lambda            float64 `yaml:"lambda"`
	Alpha             float64 `yaml:"alpha"`
	Gamma             float64 `yaml:"gamma"`
	SwapEveryNUpdates int     `yaml:"swap_every_n_updates"`
}

type BufferConfig struct {
	Capacity        int `yaml:"capacity"`
	WindowSize      int `yaml:"window_size"`
	MinTrainSamples int `yaml:"min_train_samples"`
}

type PredictConfig struct {
	MaxPhysicalPredictions int `yaml:"max_physical_predictions"`
	MaxPlanningPredictions int `yaml:"max_planning_predictions"`
	CacheCapacity          int `yaml:"cache_capacity"`
}

type CollectorConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

type OptimizerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Blend   string `yaml:"blend"` // "replace" or "geomean"
}

type SampleLogConfig struct {
	Path string `yaml:"path"` // empty disables the sink
}

// Objectives understood by the booster.
const (
	ObjectiveAbsoluteError = "reg:absoluteerror"
	ObjectiveSquaredError  = "reg:squarederror"
)

const (
	BlendReplace = "replace"
	BlendGeomean = "geomean"
)

func Default() *Config {
	return &Config{
		Model: ModelConfig{
			MaxDepth:          6,
			LearningRate:      0.1,
			TreesPerUpdate:    10,
			Subsample:         0.8,
			ColsampleByTree:   0.8,
			MinChildWeight:    3,
			MaxTotalTrees:     2000,
			Objective:         ObjectiveAbsoluteError,
			Lambda:            1.0,
			Alpha:             0.0,
			Gamma:             0.0,
			SwapEveryNUpdates: 5,
		},
		Buffer: BufferConfig{
			Capacity:        10000,
			WindowSize:      500,
			MinTrainSamples: 10,
		},
		Predict: PredictConfig{
			MaxPhysicalPredictions: 300,
			MaxPlanningPredictions: 300,
			CacheCapacity:          5000,
		},
		Collector: CollectorConfig{
			MaxEntries: 500,
		},
		Optimizer: OptimizerConfig{
			Enabled: false,
			Blend:   BlendReplace,
		},
	}
}

// Load reads configuration from the given yaml file. With an empty path the
// default locations are tried and a missing file falls back to defaults.
// RL_* environment variables are applied last and win over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/cardlearn.yaml", "cardlearn.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, errors.Wrapf(err, "parse %s", p)
				}
				break
			}
		}
		applyEnv(cfg)
		applyDefaults(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", configPath)
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// FromEnv builds a config from defaults plus RL_* environment variables only.
func FromEnv() *Config {
	cfg := Default()
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	envInt("RL_MAX_DEPTH", &cfg.Model.MaxDepth)
	envFloat("RL_ETA", &cfg.Model.LearningRate)
	envInt("RL_TREES_PER_UPDATE", &cfg.Model.TreesPerUpdate)
	envFloat("RL_SUBSAMPLE", &cfg.Model.Subsample)
	envFloat("RL_COLSAMPLE_BYTREE", &cfg.Model.ColsampleByTree)
	envFloat("RL_MIN_CHILD_WEIGHT", &cfg.Model.MinChildWeight)
	envInt("RL_MAX_TOTAL_TREES", &cfg.Model.MaxTotalTrees)
	envString("RL_OBJECTIVE", &cfg.Model.Objective)
	envFloat("RL_LAMBDA", &cfg.Model.Lambda)
	envFloat("RL_ALPHA", &cfg.Model.Alpha)
	envFloat("RL_GAMMA", &cfg.Model.Gamma)
	envInt("RL_SWAP_EVERY_N_UPDATES", &cfg.Model.SwapEveryNUpdates)

	envString("RL_SAMPLE_LOG", &cfg.SampleLog.Path)
	envString("RL_BLEND", &cfg.Optimizer.Blend)
	envBool("RL_OPTIMIZER", &cfg.Optimizer.Enabled)
	envBool("RL_VERBOSE", &cfg.Verbose)
}

func applyDefaults(cfg *Config) {
	if cfg.Model.MaxDepth <= 0 {
		cfg.Model.MaxDepth = 6
	}
	if cfg.Model.LearningRate <= 0 || cfg.Model.LearningRate > 1 {
		cfg.Model.LearningRate = 0.1
	}
	if cfg.Model.TreesPerUpdate <= 0 {
		cfg.Model.TreesPerUpdate = 10
	}
	if cfg.Model.Subsample <= 0 || cfg.Model.Subsample > 1 {
		cfg.Model.Subsample = 0.8
	}
	if cfg.Model.ColsampleByTree <= 0 || cfg.Model.ColsampleByTree > 1 {
		cfg.Model.ColsampleByTree = 0.8
	}
	if cfg.Model.MinChildWeight < 0 {
		cfg.Model.MinChildWeight = 3
	}
	if cfg.Model.MaxTotalTrees <= 0 {
		cfg.Model.MaxTotalTrees = 2000
	}
	if cfg.Model.Objective != ObjectiveAbsoluteError && cfg.Model.Objective != ObjectiveSquaredError {
		cfg.Model.Objective = ObjectiveAbsoluteError
	}
	if cfg.Model.SwapEveryNUpdates <= 0 {
		cfg.Model.SwapEveryNUpdates = 5
	}
	if cfg.Buffer.Capacity <= 0 {
		cfg.Buffer.Capacity = 10000
	}
	if cfg.Buffer.WindowSize <= 0 {
		cfg.Buffer.WindowSize = 500
	}
	if cfg.Buffer.MinTrainSamples <= 0 {
		cfg.Buffer.MinTrainSamples = 10
	}
	if cfg.Predict.MaxPhysicalPredictions <= 0 {
		cfg.Predict.MaxPhysicalPredictions = 300
	}
	if cfg.Predict.MaxPlanningPredictions <= 0 {
		cfg.Predict.MaxPlanningPredictions = 300
	}
	if cfg.Predict.CacheCapacity <= 0 {
		cfg.Predict.CacheCapacity = 5000
	}
	if cfg.Collector.MaxEntries <= 0 {
		cfg.Collector.MaxEntries = 500
	}
	if cfg.Optimizer.Blend != BlendReplace && cfg.Optimizer.Blend != BlendGeomean {
		cfg.Optimizer.Blend = BlendReplace
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
