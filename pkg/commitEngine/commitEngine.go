// Package commitEngine seals the expansion point of the HEAD version and opens
// the next revision of its chain.
package commitEngine

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-pods/pkg/deltaLog"
	"github.com/i5heu/ouroboros-pods/pkg/monitor"
	"github.com/i5heu/ouroboros-pods/pkg/revisionGraph"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Pod     types.PodContext
	Logger  *logrus.Logger
	Metrics *monitor.Metrics
}

type CommitEngine struct {
	pod     types.PodContext
	graph   *revisionGraph.Graph
	deltas  *deltaLog.Engine
	log     *logrus.Logger
	metrics *monitor.Metrics
}

func New(graph *revisionGraph.Graph, deltas *deltaLog.Engine, config Config) *CommitEngine {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	return &CommitEngine{
		pod:     config.Pod,
		graph:   graph,
		deltas:  deltas,
		log:     config.Logger,
		metrics: monitor.OrNew(config.Metrics),
	}
}

// Commit seals the current expansion point and returns it. Commits without
// attached state files are allowed.
func (c *CommitEngine) Commit(ctx context.Context, message string) (types.SealedRevision, error) {
	if err := ctx.Err(); err != nil {
		return types.SealedRevision{}, err
	}

	chain, err := c.graph.ResolveHeadChain()
	if err != nil {
		return types.SealedRevision{}, fmt.Errorf("error resolving expansion point: %w", err)
	}
	open, head := chain.Tip, chain.Version

	store := c.graph.Store()
	batch := store.NewBatch()
	sealed := open.Seal()

	var referencedBy *types.Version
	if parent, ok := chain.Parent(); ok {
		parent = parent.WithCommitHead(sealed.Hash())
		batch.PutRevision(parent.Node())
	} else {
		// the chain root is referenced by the version itself
		referencedBy = &head
	}

	deltaLogPtr := c.deltas.Create(chain.StateBeforeTip(), chain.State())

	next := types.NewOpenRevision(sealed.Hash(), sealed.Creator(), sealed.RevisionNumber()+1)
	sealed = sealed.WithCommit(types.Commit{
		TailPtr:     sealed.Hash(),
		HeadPtr:     next.Key(),
		Message:     message,
		DeltaLogPtr: deltaLogPtr,
	})

	batch.RekeyRevision(open.Key(), sealed.Node(), referencedBy)
	batch.PutRevision(next.Node())
	if err := store.Commit(batch); err != nil {
		return types.SealedRevision{}, fmt.Errorf("error persisting commit: %w", err)
	}

	err = c.graph.Refs().AppendVersionLog(types.VersionLogEntry{
		Author:         next.Creator(),
		VersionNumber:  head.VersionNumber,
		RevisionID:     next.RID(),
		RevisionNumber: next.RevisionNumber(),
	})
	if err != nil {
		c.log.WithError(err).Warn("Unable to update version log")
	}

	c.metrics.Commits.Inc()
	c.log.WithFields(logrus.Fields{
		"pod":        c.pod.Name,
		"version":    head.VersionNumber,
		"revision":   sealed.RevisionNumber(),
		"hash":       sealed.Hash().Short(),
		"stateFiles": sealed.StateFiles().Len(),
	}).Info("Committed revision")

	return sealed, nil
}
