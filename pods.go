// Package pods versions snapshots of emulated cloud-service state.
//
// A pod is a version space: numbered Versions, each a complete set of state
// files, connected by chains of Revisions. State files are attached to the
// open revision (the expansion point) of the HEAD Version, sealed by Commit
// and turned into a new Version by Push.
package pods

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/i5heu/ouroboros-pods/internal/keyValStore"
	"github.com/i5heu/ouroboros-pods/pkg/commitEngine"
	"github.com/i5heu/ouroboros-pods/pkg/deltaLog"
	"github.com/i5heu/ouroboros-pods/pkg/merge"
	"github.com/i5heu/ouroboros-pods/pkg/monitor"
	"github.com/i5heu/ouroboros-pods/pkg/objectStore"
	"github.com/i5heu/ouroboros-pods/pkg/pushEngine"
	"github.com/i5heu/ouroboros-pods/pkg/refStore"
	"github.com/i5heu/ouroboros-pods/pkg/remote"
	"github.com/i5heu/ouroboros-pods/pkg/revisionGraph"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

const initComment = "Init version"

// Pod is an open pod. All operations are serialized.
type Pod struct {
	mu      sync.Mutex
	ctx     types.PodContext
	log     *logrus.Logger
	metrics *monitor.Metrics

	kv     *keyValStore.KeyValStore
	store  *objectStore.ObjectStore
	graph  *revisionGraph.Graph
	deltas *deltaLog.Engine
	commit *commitEngine.CommitEngine
	push   *pushEngine.PushEngine
	remote *remote.Remote
}

// Open opens (or creates) the storage of the configured pod. A new pod still
// needs Init or InitRemote before it can be used.
func Open(conf Config) (*Pod, error) {
	conf.applyDefaults()
	podCtx := types.PodContext{Name: conf.Name, User: conf.User, RootDir: conf.RootDir}

	storeConfig := keyValStore.StoreConfig{
		MinimumFreeSpace: conf.MinimumFreeGB,
		SyncWrites:       conf.SyncWrites,
		InMemory:         conf.InMemory,
		Logger:           conf.Logger,
		Metrics:          conf.Metrics,
	}
	if !conf.InMemory {
		if conf.RootDir == "" {
			return nil, errors.New("no root directory configured")
		}
		dir := podDir(conf.RootDir, conf.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating pod directory: %w", err)
		}
		storeConfig.Paths = []string{dir}
	}

	kv, err := keyValStore.NewKeyValStore(storeConfig)
	if err != nil {
		return nil, fmt.Errorf("error creating KeyValStore: %w", err)
	}

	store := objectStore.New(kv, conf.Logger)
	graph := revisionGraph.New(store, refStore.New(kv, conf.Logger), conf.Logger)
	deltas := deltaLog.NewEngine(store, deltaLog.Config{Method: conf.DiffMethod, Logger: conf.Logger, Metrics: conf.Metrics})
	merger := merge.NewEngine(store, merge.Config{Merger: conf.Merger, Logger: conf.Logger, Metrics: conf.Metrics})

	p := &Pod{
		ctx:     podCtx,
		log:     conf.Logger,
		metrics: conf.Metrics,
		kv:      kv,
		store:   store,
		graph:   graph,
		deltas:  deltas,
		commit:  commitEngine.New(graph, deltas, commitEngine.Config{Pod: podCtx, Logger: conf.Logger, Metrics: conf.Metrics}),
		push:    pushEngine.New(graph, merger, deltas, pushEngine.Config{Pod: podCtx, Logger: conf.Logger, Metrics: conf.Metrics}),
		remote:  remote.New(graph, remote.Config{User: conf.User, Logger: conf.Logger}),
	}

	p.log.WithFields(logrus.Fields{
		"pod":      podCtx.Name,
		"user":     podCtx.User,
		"inMemory": conf.InMemory,
	}).Debug("Opened pod")
	return p, nil
}

func (p *Pod) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kv.Close()
}

func (p *Pod) Context() types.PodContext { return p.ctx }

// Metrics exposes the counters of this pod, e.g. for a promhttp handler.
func (p *Pod) Metrics() *monitor.Metrics { return p.metrics }

// Init creates Version 0 with an empty chain. Initializing an existing pod
// returns ErrPodExists and changes nothing.
func (p *Pod) Init() (types.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	initialized, err := p.graph.Refs().Initialized()
	if err != nil {
		return types.Version{}, err
	}
	if initialized {
		p.log.WithField("pod", p.ctx.Name).Warn("Pod already exists")
		return types.Version{}, fmt.Errorf("pod %s: %w", p.ctx.Name, types.ErrPodExists)
	}

	root := types.NewOpenRevision(types.NilHash, p.ctx.User, 0)
	v := types.Version{
		Creator:    p.ctx.User,
		Comment:    initComment,
		StateFiles: types.NewStateFileSet(),
	}
	v.HashRef = v.ContentHash()
	v.ActiveRevisionPtr = root.Key()
	v.AddOutgoing(root.Key())

	if err := p.store.Put([]types.Revision{root.Node()}, []types.Version{v}); err != nil {
		return types.Version{}, fmt.Errorf("error persisting initial version: %w", err)
	}
	if err := p.graph.Refs().Publish(types.VersionRef{VersionNumber: 0, Hash: v.HashRef}); err != nil {
		return types.Version{}, err
	}

	p.log.WithFields(logrus.Fields{
		"pod":  p.ctx.Name,
		"hash": v.HashRef.Short(),
	}).Info("Initialized pod")
	return v, nil
}

func (p *Pod) Commit(ctx context.Context, message string) (types.SealedRevision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commit.Commit(ctx, message)
}

func (p *Pod) Push(ctx context.Context, comment string, threeWay bool) (types.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.push.Push(ctx, comment, threeWay)
}

func (p *Pod) PushOverwrite(ctx context.Context, versionNumber uint64, comment string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.push.PushOverwrite(ctx, versionNumber, comment)
}

// SetActiveVersion moves HEAD to the given Version, optionally committing
// the current expansion point first.
func (p *Pod) SetActiveVersion(ctx context.Context, versionNumber uint64, commitBefore bool) (types.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.graph.Refs().Lookup(versionNumber); err != nil {
		p.log.WithField("version", versionNumber).Info("Version not found")
		return types.Version{}, err
	}
	if commitBefore {
		if _, err := p.commit.Commit(ctx, ""); err != nil {
			return types.Version{}, err
		}
	}
	return p.graph.Activate(versionNumber, p.ctx.User)
}

func podDir(root, name string) string {
	return filepath.Join(root, name)
}
