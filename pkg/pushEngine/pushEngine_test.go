package pushEngine

import (
	"context"
	"testing"

	"github.com/i5heu/ouroboros-pods/internal/keyValStore"
	"github.com/i5heu/ouroboros-pods/pkg/commitEngine"
	"github.com/i5heu/ouroboros-pods/pkg/deltaLog"
	"github.com/i5heu/ouroboros-pods/pkg/merge"
	"github.com/i5heu/ouroboros-pods/pkg/objectStore"
	"github.com/i5heu/ouroboros-pods/pkg/refStore"
	"github.com/i5heu/ouroboros-pods/pkg/revisionGraph"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	graph  *revisionGraph.Graph
	store  *objectStore.ObjectStore
	commit *commitEngine.CommitEngine
	push   *PushEngine
}

func setup(t *testing.T, merger merge.ObjectStateMerger) *fixture {
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	store := objectStore.New(kv, nil)
	graph := revisionGraph.New(store, refStore.New(kv, nil), nil)

	root := types.NewOpenRevision(types.NilHash, "alice", 0)
	v := types.Version{Creator: "alice", Comment: "Init version", StateFiles: types.NewStateFileSet()}
	v.HashRef = v.ContentHash()
	v.ActiveRevisionPtr = root.Key()
	v.AddOutgoing(root.Key())
	require.NoError(t, store.Put([]types.Revision{root.Node()}, []types.Version{v}))
	require.NoError(t, graph.Refs().Publish(types.VersionRef{VersionNumber: 0, Hash: v.HashRef}))

	deltas := deltaLog.NewEngine(store, deltaLog.Config{})
	mergeEngine := merge.NewEngine(store, merge.Config{Merger: merger})
	return &fixture{
		graph:  graph,
		store:  store,
		commit: commitEngine.New(graph, deltas, commitEngine.Config{}),
		push:   New(graph, mergeEngine, deltas, Config{}),
	}
}

func (f *fixture) attach(t *testing.T, name, content string) types.StateFileRef {
	h, err := f.store.PutBlob([]byte(content))
	require.NoError(t, err)
	ref := types.StateFileRef{HashRef: h, RelPath: "sqs/us-east-1", FileName: name, Size: int64(len(content)), Service: "sqs", Region: "us-east-1"}

	open, _, err := f.graph.ResolveHeadExpansionPoint()
	require.NoError(t, err)
	require.NoError(t, f.graph.AttachStateFile(&open, ref))
	return ref
}

func (f *fixture) setHead(t *testing.T, number uint64) {
	_, err := f.graph.Activate(number, "bob")
	require.NoError(t, err)
}

func (f *fixture) content(t *testing.T, state types.StateFileSet, name string) string {
	ref, ok := state.Find(types.StateFileRef{RelPath: "sqs/us-east-1", FileName: name, Service: "sqs", Region: "us-east-1"})
	require.True(t, ok, "missing %s", name)
	data, err := f.store.GetBlob(ref.HashRef)
	require.NoError(t, err)
	return string(data)
}

func TestPush_CreatesNextVersion(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	f1 := f.attach(t, "queues", "q1")
	_, err := f.commit.Commit(ctx, "c1")
	require.NoError(t, err)

	v1, err := f.push.Push(ctx, "first", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1.VersionNumber)
	assert.Equal(t, v1.ContentHash(), v1.HashRef)
	assert.True(t, v1.StateFiles.Equal(types.NewStateFileSet(f1)))

	head, err := f.graph.Refs().Head()
	require.NoError(t, err)
	max, err := f.graph.Refs().Max()
	require.NoError(t, err)
	assert.Equal(t, types.VersionRef{VersionNumber: 1, Hash: v1.HashRef}, head)
	assert.Equal(t, head, max)

	v0, err := f.graph.VersionByNumber(0)
	require.NoError(t, err)
	assert.False(t, v0.HasOpenChain())
	assert.Equal(t, v0.HashRef, v1.ParentPtr)

	// the finalizing commit of the old chain points at the new version
	history, err := f.graph.History(v1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	last, ok := history[0].Commit()
	require.True(t, ok)
	assert.Equal(t, FinalizingCommitMessage, last.Message)
	assert.Equal(t, v1.HashRef, last.HeadPtr)

	// the new version has a fresh, empty chain
	chain, err := f.graph.ResolveChain(v1)
	require.NoError(t, err)
	assert.Empty(t, chain.Sealed)
	assert.Zero(t, chain.Tip.RevisionNumber())
	assert.Zero(t, chain.Tip.StateFiles().Len())

	refs, err := f.graph.Refs().LoadVersionReferences()
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, uint64(1), refs[0].VersionNumber)
}

func TestPush_RepushKeepsState(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	f1 := f.attach(t, "queues", "q1")
	_, err := f.commit.Commit(ctx, "c1")
	require.NoError(t, err)
	_, err = f.push.Push(ctx, "p1", false)
	require.NoError(t, err)

	v2, err := f.push.Push(ctx, "p2", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2.VersionNumber)
	assert.True(t, v2.StateFiles.Equal(types.NewStateFileSet(f1)))
}

func TestPush_UncommittedFilesAreIncluded(t *testing.T) {
	f := setup(t, nil)
	f.attach(t, "queues", "q1")

	v1, err := f.push.Push(context.Background(), "direct", false)
	require.NoError(t, err)
	assert.Equal(t, "q1", f.content(t, v1.StateFiles, "queues"))

	// a root expansion point is referenced by the version itself
	v0, err := f.graph.VersionByNumber(0)
	require.NoError(t, err)
	require.Len(t, v0.OutgoingRevisionPtrs, 1)
	sealed, err := f.store.GetRevision(v0.OutgoingRevisionPtrs[0])
	require.NoError(t, err)
	assert.True(t, sealed.Sealed)
}

func TestPush_MergesWhenBehindMax(t *testing.T) {
	f := setup(t, merge.MergerFunc(func(dst, src, ancestor []byte) ([]byte, error) {
		return []byte(string(dst) + "+" + string(src)), nil
	}))
	ctx := context.Background()

	f.attach(t, "queues", "base")
	_, err := f.push.Push(ctx, "v1", false)
	require.NoError(t, err)

	f.attach(t, "queues", "theirs")
	f.attach(t, "topics", "t1")
	_, err = f.push.Push(ctx, "v2", false)
	require.NoError(t, err)

	f.setHead(t, 1)
	f.attach(t, "queues", "ours")
	f.attach(t, "buckets", "b1")
	v3, err := f.push.Push(ctx, "v3", false)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), v3.VersionNumber)
	assert.Equal(t, 3, v3.StateFiles.Len())
	assert.Equal(t, "ours+theirs", f.content(t, v3.StateFiles, "queues"))
	assert.Equal(t, "t1", f.content(t, v3.StateFiles, "topics"))
	assert.Equal(t, "b1", f.content(t, v3.StateFiles, "buckets"))

	v2, err := f.graph.VersionByNumber(2)
	require.NoError(t, err)
	assert.Equal(t, v2.HashRef, v3.ParentPtr)
}

func TestPush_ThreeWayTakesOneSidedChange(t *testing.T) {
	calls := 0
	f := setup(t, merge.MergerFunc(func(dst, src, ancestor []byte) ([]byte, error) {
		calls++
		return dst, nil
	}))
	ctx := context.Background()

	f.attach(t, "queues", "base")
	_, err := f.push.Push(ctx, "v1", false)
	require.NoError(t, err)
	_, err = f.push.Push(ctx, "v2", false)
	require.NoError(t, err)
	f.attach(t, "queues", "theirs")
	_, err = f.push.Push(ctx, "v3", false)
	require.NoError(t, err)

	// HEAD at 2 leaves queues untouched, so the change of v3 wins
	f.setHead(t, 2)
	v4, err := f.push.Push(ctx, "v4", true)
	require.NoError(t, err)
	assert.Equal(t, "theirs", f.content(t, v4.StateFiles, "queues"))
	assert.Zero(t, calls)
}

func TestPushOverwrite(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	f.attach(t, "queues", "q1")
	v1, err := f.push.Push(ctx, "v1", false)
	require.NoError(t, err)

	f.attach(t, "queues", "q2")
	require.NoError(t, f.push.PushOverwrite(ctx, 1, "rewritten"))

	got, err := f.graph.VersionByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, v1.HashRef, got.HashRef)
	assert.Equal(t, "rewritten", got.Comment)
	assert.Equal(t, "q2", f.content(t, got.StateFiles, "queues"))

	max, err := f.graph.Refs().Max()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), max.VersionNumber)
}

func TestPushOverwrite_BeyondMax(t *testing.T) {
	f := setup(t, nil)
	err := f.push.PushOverwrite(context.Background(), 5, "nope")
	assert.ErrorIs(t, err, types.ErrVersionNumberInvalid)
}

func TestPush_CollaboratorFailureLeavesGraphUntouched(t *testing.T) {
	fail := false
	f := setup(t, merge.MergerFunc(func(dst, src, ancestor []byte) ([]byte, error) {
		if fail {
			return nil, assert.AnError
		}
		return src, nil
	}))
	ctx := context.Background()

	f.attach(t, "queues", "a")
	_, err := f.push.Push(ctx, "v1", false)
	require.NoError(t, err)
	f.attach(t, "queues", "b")
	_, err = f.push.Push(ctx, "v2", false)
	require.NoError(t, err)

	f.setHead(t, 1)
	f.attach(t, "queues", "c")
	fail = true
	_, err = f.push.Push(ctx, "v3", false)
	assert.ErrorIs(t, err, types.ErrMergeCollaboratorFailed)

	max, err := f.graph.Refs().Max()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), max.VersionNumber)
	_, _, err = f.graph.ResolveHeadExpansionPoint()
	assert.NoError(t, err)
}

func TestPush_TakenNumberLeavesGraphUntouched(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	ref := f.attach(t, "queues", "a")
	b := f.store.NewBatch()
	f.graph.Refs().StageKnown(b.KV(), types.VersionRef{VersionNumber: 1, Hash: types.RandomHash()})
	require.NoError(t, f.store.Commit(b))

	_, err := f.push.Push(ctx, "v1", false)
	assert.ErrorIs(t, err, types.ErrVersionNumberInvalid)

	head, err := f.graph.Refs().Head()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), head.VersionNumber)

	open, _, err := f.graph.ResolveHeadExpansionPoint()
	require.NoError(t, err)
	got, ok := open.StateFiles().Find(ref)
	require.True(t, ok)
	assert.Equal(t, ref.HashRef, got.HashRef)
}
