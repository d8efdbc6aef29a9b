// Package deltaLog records what changed between two state file snapshots.
// Delta logs are an audit trail: failing to compute one never fails the
// operation that asked for it.
package deltaLog

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/i5heu/ouroboros-pods/pkg/monitor"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

type DiffMethod string

const Simple DiffMethod = "SIMPLE"

// DiffStrategy computes the delta between two snapshots.
type DiffStrategy interface {
	Diff(from, to types.StateFileSet) (types.DeltaLog, error)
}

// Store persists delta logs; implemented by objectStore.ObjectStore.
type Store interface {
	PutDeltaLog(id string, log types.DeltaLog) error
	GetDeltaLog(id string) (types.DeltaLog, error)
}

type Config struct {
	Method  DiffMethod
	Logger  *logrus.Logger
	Metrics *monitor.Metrics
}

type Engine struct {
	store      Store
	method     DiffMethod
	strategies map[DiffMethod]DiffStrategy
	log        *logrus.Logger
	metrics    *monitor.Metrics
}

func NewEngine(store Store, config Config) *Engine {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Method == "" {
		config.Method = Simple
	}
	return &Engine{
		store:      store,
		method:     config.Method,
		strategies: map[DiffMethod]DiffStrategy{Simple: SimpleDiff{}},
		log:        config.Logger,
		metrics:    monitor.OrNew(config.Metrics),
	}
}

// Register adds or replaces the strategy used for method.
func (e *Engine) Register(method DiffMethod, strategy DiffStrategy) {
	e.strategies[method] = strategy
}

// Create diffs the two snapshots with the configured method and persists the
// result under a fresh id. On any failure an empty log is stored instead.
func (e *Engine) Create(from, to types.StateFileSet) string {
	return e.CreateWith(e.method, from, to)
}

func (e *Engine) CreateWith(method DiffMethod, from, to types.StateFileSet) string {
	id := uuid.NewString()

	log, err := e.diff(method, from, to)
	if err == nil {
		err = e.store.PutDeltaLog(id, log)
		if err == nil {
			return id
		}
	}

	e.metrics.DeltaLogFailures.Inc()
	e.log.WithError(err).WithField("method", method).Warn("Unable to create delta log for version graph nodes")

	id = uuid.NewString()
	if err := e.store.PutDeltaLog(id, types.DeltaLog{}); err != nil {
		e.log.WithError(err).Warn("Unable to persist empty delta log")
	}
	return id
}

func (e *Engine) diff(method DiffMethod, from, to types.StateFileSet) (log types.DeltaLog, err error) {
	strategy, ok := e.strategies[method]
	if !ok {
		return log, fmt.Errorf("unknown diff method %q: %w", method, types.ErrDiffComputationFailed)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v: %w", r, types.ErrDiffComputationFailed)
		}
	}()

	log, err = strategy.Diff(from, to)
	if err != nil {
		return log, fmt.Errorf("%w: %v", types.ErrDiffComputationFailed, err)
	}
	return log, nil
}

func (e *Engine) Get(id string) (types.DeltaLog, error) {
	return e.store.GetDeltaLog(id)
}

// SimpleDiff compares the snapshots as sets of logical files.
type SimpleDiff struct{}

func (SimpleDiff) Diff(from, to types.StateFileSet) (types.DeltaLog, error) {
	var log types.DeltaLog

	for _, ref := range to.Sorted() {
		old, ok := from.Find(ref)
		switch {
		case !ok:
			log.Added = append(log.Added, ref)
		case old.HashRef != ref.HashRef:
			log.Changed = append(log.Changed, types.StateFileChange{From: old, To: ref})
		}
	}
	for _, ref := range from.Sorted() {
		if _, ok := to.Find(ref); !ok {
			log.Removed = append(log.Removed, ref)
		}
	}
	return log, nil
}
