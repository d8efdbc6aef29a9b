// Package pushEngine finalizes the open revision chain of the HEAD version
// into a new numbered Version.
package pushEngine

import (
	"context"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-pods/pkg/deltaLog"
	"github.com/i5heu/ouroboros-pods/pkg/merge"
	"github.com/i5heu/ouroboros-pods/pkg/monitor"
	"github.com/i5heu/ouroboros-pods/pkg/objectStore"
	"github.com/i5heu/ouroboros-pods/pkg/revisionGraph"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

// FinalizingCommitMessage is the message of the commit that seals a chain on push.
const FinalizingCommitMessage = "Finalizing commit"

type Config struct {
	Pod     types.PodContext
	Logger  *logrus.Logger
	Metrics *monitor.Metrics
}

type PushEngine struct {
	pod     types.PodContext
	graph   *revisionGraph.Graph
	merger  *merge.Engine
	deltas  *deltaLog.Engine
	log     *logrus.Logger
	metrics *monitor.Metrics
}

func New(graph *revisionGraph.Graph, merger *merge.Engine, deltas *deltaLog.Engine, config Config) *PushEngine {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	return &PushEngine{
		pod:     config.Pod,
		graph:   graph,
		merger:  merger,
		deltas:  deltas,
		log:     config.Logger,
		metrics: monitor.OrNew(config.Metrics),
	}
}

// Push seals the expansion point and creates Version MAX+1 from it. When HEAD
// is behind MAX the expansion point state is merged with MAX first. Nodes and
// references are written in one transaction.
func (p *PushEngine) Push(ctx context.Context, comment string, threeWay bool) (types.Version, error) {
	if err := ctx.Err(); err != nil {
		return types.Version{}, err
	}

	chain, err := p.graph.ResolveHeadChain()
	if err != nil {
		return types.Version{}, fmt.Errorf("error resolving expansion point: %w", err)
	}
	open, head := chain.Tip, chain.Version

	maxVersion, err := p.graph.MaxVersion()
	if err != nil {
		return types.Version{}, fmt.Errorf("error loading max version: %w", err)
	}

	newActive := types.NewOpenRevision(types.NilHash, open.Creator(), 0)

	state := chain.State()
	if head.VersionNumber != maxVersion.VersionNumber {
		state, err = p.mergeWithMax(head, maxVersion, state, threeWay)
		if err != nil {
			return types.Version{}, err
		}
	}

	sealed := open.Seal()
	newVersion := types.Version{
		ParentPtr:            maxVersion.HashRef,
		Creator:              open.Creator(),
		Comment:              comment,
		ActiveRevisionPtr:    newActive.Key(),
		OutgoingRevisionPtrs: []types.Hash{newActive.Key()},
		IncomingRevisionPtr:  sealed.Hash(),
		StateFiles:           state,
		VersionNumber:        maxVersion.VersionNumber + 1,
	}
	newVersion.HashRef = newVersion.ContentHash()

	deltaLogPtr := p.deltas.Create(chain.StateBeforeTip(), newVersion.StateFiles)
	sealed = sealed.WithCommit(types.Commit{
		TailPtr:     sealed.Hash(),
		HeadPtr:     newVersion.HashRef,
		Message:     FinalizingCommitMessage,
		DeltaLogPtr: deltaLogPtr,
	})

	store := p.graph.Store()
	batch := store.NewBatch()
	if parent, ok := chain.Parent(); ok {
		batch.PutRevision(parent.WithCommitHead(sealed.Hash()).Node())
	} else {
		objectStore.RepointVersion(&head, open.Key(), sealed.Hash())
	}
	head.ActiveRevisionPtr = types.NilHash

	batch.PutVersion(head)
	batch.MoveRevision(open.Key(), sealed.Node())
	batch.PutRevision(newActive.Node())
	batch.PutVersion(newVersion)

	ref := types.VersionRef{VersionNumber: newVersion.VersionNumber, Hash: newVersion.HashRef}
	if err := p.graph.Refs().StagePublish(batch.KV(), ref); err != nil {
		return types.Version{}, fmt.Errorf("error updating references: %w", err)
	}
	if err := store.Commit(batch); err != nil {
		return types.Version{}, fmt.Errorf("error persisting push: %w", err)
	}

	err = p.graph.Refs().AppendVersionLog(types.VersionLogEntry{
		Author:         open.Creator(),
		VersionNumber:  newVersion.VersionNumber,
		RevisionID:     newActive.RID(),
		RevisionNumber: newActive.RevisionNumber(),
	})
	if err != nil {
		p.log.WithError(err).Warn("Unable to update version log")
	}

	p.metrics.Pushes.Inc()
	p.log.WithFields(logrus.Fields{
		"pod":        p.pod.Name,
		"from":       head.VersionNumber,
		"version":    newVersion.VersionNumber,
		"hash":       newVersion.HashRef.Short(),
		"stateFiles": newVersion.StateFiles.Len(),
		"merged":     head.VersionNumber != maxVersion.VersionNumber,
	}).Info("Pushed version")

	return newVersion, nil
}

// mergeWithMax folds MAX into the expansion point state. The Version right
// before HEAD serves as common ancestor of a three-way merge.
func (p *PushEngine) mergeWithMax(head, maxVersion types.Version, state types.StateFileSet, threeWay bool) (types.StateFileSet, error) {
	var ancestor types.StateFileSet
	if threeWay && head.VersionNumber > 1 {
		ancestorVersion, err := p.graph.VersionByNumber(head.VersionNumber - 1)
		switch {
		case err == nil:
			ancestor = ancestorVersion.StateFiles
		case errors.Is(err, types.ErrNotFound):
			p.log.WithField("version", head.VersionNumber-1).Warn("Common ancestor not found, falling back to two-way merge")
		default:
			return nil, fmt.Errorf("error loading common ancestor: %w", err)
		}
	}

	p.log.WithFields(logrus.Fields{
		"head":     head.VersionNumber,
		"max":      maxVersion.VersionNumber,
		"threeWay": ancestor != nil,
	}).Debug("Merging expansion point with max version")

	merged, err := p.merger.Merge(maxVersion.StateFiles, state, ancestor, threeWay)
	if err != nil {
		return nil, fmt.Errorf("error merging with version %d: %w", maxVersion.VersionNumber, err)
	}
	return merged, nil
}

// PushOverwrite replaces the state of an existing Version with the expansion
// point state. The Version keeps its number and key.
func (p *PushEngine) PushOverwrite(ctx context.Context, versionNumber uint64, comment string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chain, err := p.graph.ResolveHeadChain()
	if err != nil {
		return fmt.Errorf("error resolving expansion point: %w", err)
	}

	maxRef, err := p.graph.Refs().Max()
	if err != nil {
		return fmt.Errorf("error loading max version: %w", err)
	}
	if versionNumber > maxRef.VersionNumber {
		p.log.WithFields(logrus.Fields{
			"version": versionNumber,
			"max":     maxRef.VersionNumber,
		}).Debug("Attempted to overwrite a non existing version")
		return fmt.Errorf("version %d is beyond max version %d: %w", versionNumber, maxRef.VersionNumber, types.ErrVersionNumberInvalid)
	}

	version, err := p.graph.VersionByNumber(versionNumber)
	if err != nil {
		return fmt.Errorf("error loading version %d: %w", versionNumber, err)
	}

	version.StateFiles = chain.State()
	version.Comment = comment
	if _, err := p.graph.Store().PutVersion(version); err != nil {
		return fmt.Errorf("error persisting version %d: %w", versionNumber, err)
	}

	p.log.WithFields(logrus.Fields{
		"pod":        p.pod.Name,
		"version":    versionNumber,
		"stateFiles": version.StateFiles.Len(),
	}).Info("Overwrote version")
	return nil
}
