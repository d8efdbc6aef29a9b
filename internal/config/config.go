package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	DefaultPodName       = "default"
	DefaultUser          = "unknown"
	DefaultMinimumFreeGB = 1
	DefaultDiffMethod    = "SIMPLE"
	DefaultLogLevel      = "info"
)

type Config struct {
	PodName       string `yaml:"podName"`
	User          string `yaml:"user"`
	RootDir       string `yaml:"rootDir"`
	MinimumFreeGB uint64 `yaml:"minimumFreeGB"`
	SyncWrites    bool   `yaml:"syncWrites"`
	DiffMethod    string `yaml:"diffMethod"`
	LogLevel      string `yaml:"logLevel"`
}

// Load reads the YAML file at path and fills in defaults for missing values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}
	config.ApplyDefaults()
	if _, err := config.Level(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) ApplyDefaults() {
	if c.PodName == "" {
		c.PodName = DefaultPodName
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.RootDir == "" {
		c.RootDir = filepath.Join(os.TempDir(), "pods")
	}
	if c.MinimumFreeGB == 0 {
		c.MinimumFreeGB = DefaultMinimumFreeGB
	}
	if c.DiffMethod == "" {
		c.DiffMethod = DefaultDiffMethod
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

func (c Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// PodDir is the directory holding the badger files of the configured pod.
func (c Config) PodDir() string {
	return filepath.Join(c.RootDir, c.PodName)
}

func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
