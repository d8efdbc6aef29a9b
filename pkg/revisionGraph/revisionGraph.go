// Package revisionGraph navigates Versions and their revision chains.
package revisionGraph

import (
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-pods/pkg/objectStore"
	"github.com/i5heu/ouroboros-pods/pkg/refStore"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

type Graph struct {
	store *objectStore.ObjectStore
	refs  *refStore.RefStore
	log   *logrus.Logger
}

func New(store *objectStore.ObjectStore, refs *refStore.RefStore, logger *logrus.Logger) *Graph {
	if logger == nil {
		logger = logrus.New()
	}
	return &Graph{store: store, refs: refs, log: logger}
}

func (g *Graph) Store() *objectStore.ObjectStore { return g.store }
func (g *Graph) Refs() *refStore.RefStore        { return g.refs }

func (g *Graph) Head() (types.Version, error) {
	ref, err := g.refs.Head()
	if err != nil {
		return types.Version{}, err
	}
	return g.store.GetVersion(ref.Hash)
}

func (g *Graph) MaxVersion() (types.Version, error) {
	ref, err := g.refs.Max()
	if err != nil {
		return types.Version{}, err
	}
	return g.store.GetVersion(ref.Hash)
}

func (g *Graph) VersionByNumber(number uint64) (types.Version, error) {
	h, err := g.refs.Lookup(number)
	if err != nil {
		return types.Version{}, err
	}
	return g.store.GetVersion(h)
}

// Chain is the open revision chain of a Version: the sealed revisions from
// the root on, followed by the expansion point.
type Chain struct {
	Version types.Version
	Sealed  []types.SealedRevision
	Tip     types.OpenRevision
}

// State is the snapshot at the expansion point: the Version's state files
// with every revision of the chain applied in order.
func (c Chain) State() types.StateFileSet {
	state := c.StateBeforeTip()
	for _, ref := range c.Tip.StateFiles() {
		state.Put(ref)
	}
	return state
}

// StateBeforeTip is the snapshot at the parent of the expansion point.
func (c Chain) StateBeforeTip() types.StateFileSet {
	state := types.NewStateFileSet()
	if c.Version.StateFiles != nil {
		state = c.Version.StateFiles.Clone()
	}
	for _, sealed := range c.Sealed {
		for _, ref := range sealed.StateFiles() {
			state.Put(ref)
		}
	}
	return state
}

// Parent is the sealed revision right before the expansion point.
func (c Chain) Parent() (types.SealedRevision, bool) {
	if len(c.Sealed) == 0 {
		return types.SealedRevision{}, false
	}
	return c.Sealed[len(c.Sealed)-1], true
}

// ResolveChain follows the commit links of v's active chain to the revision
// that still accepts state files.
func (g *Graph) ResolveChain(v types.Version) (Chain, error) {
	chain := Chain{Version: v}
	if !v.HasOpenChain() {
		return chain, fmt.Errorf("version %d has no open revision chain: %w", v.VersionNumber, types.ErrCorruptGraph)
	}

	visited := make(map[types.Hash]struct{})
	next := v.ActiveRevisionPtr
	for {
		if _, seen := visited[next]; seen {
			return chain, fmt.Errorf("cycle at revision %s: %w", next.Short(), types.ErrCorruptGraph)
		}
		visited[next] = struct{}{}

		r, err := g.store.GetRevision(next)
		if errors.Is(err, types.ErrNotFound) {
			return chain, fmt.Errorf("dangling pointer to revision %s: %w", next.Short(), types.ErrCorruptGraph)
		}
		if err != nil {
			return chain, err
		}

		if r.AssocCommit == nil {
			open, err := types.AsOpen(r)
			if err != nil {
				return chain, fmt.Errorf("terminal revision %s is sealed: %w", next.Short(), types.ErrCorruptGraph)
			}
			chain.Tip = open
			return chain, nil
		}

		sealed, ok := types.AsSealed(r)
		if !ok {
			return chain, fmt.Errorf("committed revision %s is not sealed: %w", next.Short(), types.ErrCorruptGraph)
		}
		chain.Sealed = append(chain.Sealed, sealed)
		next = r.AssocCommit.HeadPtr
	}
}

func (g *Graph) ResolveExpansionPoint(v types.Version) (types.OpenRevision, error) {
	chain, err := g.ResolveChain(v)
	if err != nil {
		return types.OpenRevision{}, err
	}
	return chain.Tip, nil
}

// ResolveHeadChain resolves the open chain of the HEAD version.
func (g *Graph) ResolveHeadChain() (Chain, error) {
	head, err := g.Head()
	if err != nil {
		return Chain{}, fmt.Errorf("error loading head: %w", err)
	}
	return g.ResolveChain(head)
}

// ResolveHeadExpansionPoint resolves the expansion point of the HEAD version.
func (g *Graph) ResolveHeadExpansionPoint() (types.OpenRevision, types.Version, error) {
	chain, err := g.ResolveHeadChain()
	if err != nil {
		return types.OpenRevision{}, types.Version{}, err
	}
	return chain.Tip, chain.Version, nil
}

// AttachStateFile adds ref to the open revision, replacing a congruent file,
// and persists the revision.
func (g *Graph) AttachStateFile(rev *types.OpenRevision, ref types.StateFileRef) error {
	rev.AttachStateFile(ref)
	if _, err := g.store.PutRevision(rev.Node()); err != nil {
		return fmt.Errorf("error persisting expansion point: %w", err)
	}
	g.log.WithFields(logrus.Fields{
		"revision":  rev.RevisionNumber(),
		"stateFile": ref.String(),
	}).Debug("Attached state file")
	return nil
}

// SealedParent loads the parent of a revision; ok is false for chain roots.
func (g *Graph) SealedParent(parent types.Hash) (types.SealedRevision, bool, error) {
	if parent.IsNil() {
		return types.SealedRevision{}, false, nil
	}
	r, err := g.store.GetRevision(parent)
	if errors.Is(err, types.ErrNotFound) {
		return types.SealedRevision{}, false, fmt.Errorf("dangling parent %s: %w", parent.Short(), types.ErrCorruptGraph)
	}
	if err != nil {
		return types.SealedRevision{}, false, err
	}
	sealed, ok := types.AsSealed(r)
	if !ok {
		return types.SealedRevision{}, false, fmt.Errorf("parent %s is not sealed: %w", parent.Short(), types.ErrCorruptGraph)
	}
	return sealed, true, nil
}

// History returns the chain that produced v, newest revision first.
func (g *Graph) History(v types.Version) ([]types.SealedRevision, error) {
	var history []types.SealedRevision
	visited := make(map[types.Hash]struct{})

	next := v.IncomingRevisionPtr
	for !next.IsNil() {
		if _, seen := visited[next]; seen {
			return nil, fmt.Errorf("cycle at revision %s: %w", next.Short(), types.ErrCorruptGraph)
		}
		visited[next] = struct{}{}

		sealed, _, err := g.SealedParent(next)
		if err != nil {
			return nil, err
		}
		history = append(history, sealed)
		next = sealed.ParentPtr()
	}
	return history, nil
}

// Activate moves HEAD to the Version with the given number. A Version whose
// chain was finalized by a push gets a new empty chain owned by creator.
func (g *Graph) Activate(number uint64, creator string) (types.Version, error) {
	v, err := g.VersionByNumber(number)
	if err != nil {
		return types.Version{}, fmt.Errorf("error loading version %d: %w", number, err)
	}

	head, err := g.refs.Head()
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return types.Version{}, fmt.Errorf("error loading head: %w", err)
	}
	if head.Hash == v.HashRef && v.HasOpenChain() {
		return v, nil
	}

	batch := g.store.NewBatch()
	v = openChain(batch, v, creator)
	g.refs.StageHead(batch.KV(), types.VersionRef{VersionNumber: number, Hash: v.HashRef})
	if err := g.store.Commit(batch); err != nil {
		return types.Version{}, fmt.Errorf("error activating version %d: %w", number, err)
	}

	g.log.WithFields(logrus.Fields{
		"version": number,
		"hash":    v.HashRef.Short(),
	}).Debug("Activated version")
	return v, nil
}

// Restore replaces the references of the pod with known and activates its
// highest Version. References and the opened chain are written together.
func (g *Graph) Restore(known []types.VersionRef, creator string) (types.Version, error) {
	if len(known) == 0 {
		return types.Version{}, fmt.Errorf("no versions to restore: %w", types.ErrNotFound)
	}
	top := types.SortVersionRefs(known)[0]
	v, err := g.store.GetVersion(top.Hash)
	if err != nil {
		return types.Version{}, fmt.Errorf("error loading version %d: %w", top.VersionNumber, err)
	}
	if v.VersionNumber != top.VersionNumber {
		return types.Version{}, fmt.Errorf("version %s has number %d, listed as %d: %w",
			top.Hash.Short(), v.VersionNumber, top.VersionNumber, types.ErrCorruptGraph)
	}

	batch := g.store.NewBatch()
	v = openChain(batch, v, creator)
	if err := g.refs.StageRestore(batch.KV(), known, top); err != nil {
		return types.Version{}, err
	}
	if err := g.store.Commit(batch); err != nil {
		return types.Version{}, fmt.Errorf("error restoring references: %w", err)
	}

	g.log.WithFields(logrus.Fields{
		"known": len(known),
		"head":  top.VersionNumber,
	}).Debug("Restored references")
	return v, nil
}

// openChain starts a new empty chain on v unless it already has one.
func openChain(batch *objectStore.Batch, v types.Version, creator string) types.Version {
	if v.HasOpenChain() {
		return v
	}
	root := types.NewOpenRevision(types.NilHash, creator, 0)
	v.ActiveRevisionPtr = root.Key()
	v.AddOutgoing(root.Key())
	batch.PutRevision(root.Node())
	batch.PutVersion(v)
	return v
}

// ChainOrigin returns the Version a revision chain was started from, given
// the chain's root revision.
func (g *Graph) ChainOrigin(root types.Hash) (types.Version, bool, error) {
	versions, err := g.store.ListVersions()
	if err != nil {
		return types.Version{}, false, err
	}
	for _, v := range versions {
		for _, o := range v.OutgoingRevisionPtrs {
			if o == root {
				return v, true, nil
			}
		}
	}
	return types.Version{}, false, nil
}
