package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Dataset sources.
const (
	DatasetMnist  = "mnist"
	DatasetShards = "shards"
)

// Optimizers.
const (
	OptimizerAdam = "adam"
	OptimizerSGD  = "sgd"
)

// Config captures the runtime knobs for training, prediction and serving.
type Config struct {
	DataDir       string   `yaml:"data_dir"`
	BaseURL       string   `yaml:"base_url"`
	OutputDir     string   `yaml:"output_dir"`
	ModelName     string   `yaml:"model_name"`
	Dataset       string   `yaml:"dataset"`
	TrainRoots    []string `yaml:"train_roots"`
	ValidRoots    []string `yaml:"valid_roots"`
	Epochs        int      `yaml:"epochs"`
	BatchSize     int      `yaml:"batch_size"`
	Hidden        []int    `yaml:"hidden"`
	LearningRate  float64  `yaml:"learning_rate"`
	Optimizer     string   `yaml:"optimizer"`
	NumWorkers    int      `yaml:"num_workers"`
	Seed          int64    `yaml:"seed"`
	Limit         int      `yaml:"limit"`
	LogEvery      int      `yaml:"log_every"`
	HalfPrecision bool     `yaml:"half_precision"`
	ImagePath     string   `yaml:"image_path"`
	TopK          int      `yaml:"top_k"`
	Addr          string   `yaml:"addr"`
	AllowOrigins  []string `yaml:"allow_origins"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataDir      string
	OutputDir    string
	ModelName    string
	Dataset      string
	TrainRoots   []string
	ValidRoots   []string
	Epochs       int
	BatchSize    int
	LearningRate float64
	Optimizer    string
	NumWorkers   int
	Seed         int64
	Limit        int
	LogEvery     int
	ImagePath    string
	TopK         int
	Addr         string
}

// Default returns the configuration of the reference MNIST run.
func Default() *Config {
	return &Config{
		OutputDir:    "build/mlp",
		ModelName:    "mlpxxx",
		Dataset:      DatasetMnist,
		Epochs:       10,
		BatchSize:    64,
		Hidden:       []int{256, 128, 64},
		LearningRate: 0.001,
		Optimizer:    OptimizerAdam,
		NumWorkers:   4,
		Seed:         42,
		LogEvery:     50,
		ImagePath:    "build/img/2.jpg",
		TopK:         5,
		Addr:         "127.0.0.1:8080",
	}
}

// Load reads a YAML file on top of Default. It only parses; each command
// validates the fields it uses.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.ModelName != "" {
		c.ModelName = o.ModelName
	}
	if o.Dataset != "" {
		c.Dataset = o.Dataset
	}
	if len(o.TrainRoots) > 0 {
		c.TrainRoots = o.TrainRoots
	}
	if len(o.ValidRoots) > 0 {
		c.ValidRoots = o.ValidRoots
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Optimizer != "" {
		c.Optimizer = o.Optimizer
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Limit > 0 {
		c.Limit = o.Limit
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.ImagePath != "" {
		c.ImagePath = o.ImagePath
	}
	if o.TopK > 0 {
		c.TopK = o.TopK
	}
	if o.Addr != "" {
		c.Addr = o.Addr
	}
}

// ValidateModel checks the fields needed to build and load the model.
func (c *Config) ValidateModel() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir must be set")
	}
	if c.ModelName == "" {
		return errors.New("model_name must be set")
	}
	for _, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden sizes must be > 0 (got %v)", c.Hidden)
		}
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	return nil
}

// Validate verifies the config is runnable for training.
func (c *Config) Validate() error {
	if err := c.ValidateModel(); err != nil {
		return err
	}
	switch c.Dataset {
	case DatasetMnist:
	case DatasetShards:
		if len(c.TrainRoots) == 0 {
			return errors.New("dataset shards needs at least one train root")
		}
	default:
		return fmt.Errorf("unknown dataset %q (want %s or %s)", c.Dataset, DatasetMnist, DatasetShards)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %v)", c.LearningRate)
	}
	switch c.Optimizer {
	case OptimizerAdam, OptimizerSGD:
	default:
		return fmt.Errorf("unknown optimizer %q (want %s or %s)", c.Optimizer, OptimizerAdam, OptimizerSGD)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.Limit < 0 {
		return fmt.Errorf("limit must be >= 0 (got %d)", c.Limit)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	return nil
}
