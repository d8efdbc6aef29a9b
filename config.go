package pods

import (
	"github.com/i5heu/ouroboros-pods/internal/config"
	"github.com/i5heu/ouroboros-pods/pkg/deltaLog"
	"github.com/i5heu/ouroboros-pods/pkg/merge"
	"github.com/i5heu/ouroboros-pods/pkg/monitor"
	"github.com/sirupsen/logrus"
)

// Config configures a pod handle.
type Config struct {
	Name    string
	User    string
	RootDir string // every pod lives in its own directory below RootDir
	// MinimumFreeGB is checked against the pod directory on Open.
	MinimumFreeGB int
	SyncWrites    bool
	// InMemory keeps the pod in memory only, mainly for tests.
	InMemory   bool
	DiffMethod deltaLog.DiffMethod
	// Merger resolves conflicting state files during a push. If nil, the
	// state file of the newer Version wins.
	Merger  merge.ObjectStateMerger
	Logger  *logrus.Logger
	Metrics *monitor.Metrics
}

// ConfigFromFile reads a YAML pod configuration.
func ConfigFromFile(path string) (Config, error) {
	c, err := config.Load(path)
	if err != nil {
		return Config{}, err
	}
	level, err := c.Level()
	if err != nil {
		return Config{}, err
	}

	logger := logrus.New()
	logger.SetLevel(level)

	return Config{
		Name:          c.PodName,
		User:          c.User,
		RootDir:       c.RootDir,
		MinimumFreeGB: int(c.MinimumFreeGB),
		SyncWrites:    c.SyncWrites,
		DiffMethod:    deltaLog.DiffMethod(c.DiffMethod),
		Logger:        logger,
	}, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = config.DefaultPodName
	}
	if c.User == "" {
		c.User = config.DefaultUser
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	if c.Metrics == nil {
		c.Metrics = monitor.New()
	}
}
