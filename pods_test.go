package pods

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/i5heu/ouroboros-pods/pkg/merge"
	"github.com/i5heu/ouroboros-pods/pkg/pushEngine"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPod(t *testing.T, merger merge.ObjectStateMerger) *Pod {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.WarnLevel)

	p, err := Open(Config{Name: "test", User: "alice", InMemory: true, Merger: merger, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	_, err = p.Init()
	require.NoError(t, err)
	return p
}

func addQueue(t *testing.T, p *Pod, fileName, content string) types.StateFileRef {
	ref, err := p.AddStateFile("api_states/sqs", fileName, "sqs", "us-east-1", types.Mergeable, []byte(content))
	require.NoError(t, err)
	return ref
}

func readState(t *testing.T, p *Pod, v types.Version, fileName string) string {
	ref, ok := v.StateFiles.Find(types.StateFileRef{RelPath: "api_states/sqs", FileName: fileName, Service: "sqs", Region: "us-east-1"})
	require.True(t, ok, "missing %s", fileName)
	data, err := p.ReadStateFile(ref)
	require.NoError(t, err)
	return string(data)
}

func TestPod_InitCommitPushPush(t *testing.T) {
	p := openTestPod(t, nil)
	ctx := context.Background()

	f1 := addQueue(t, p, "queues", `{"orders":{}}`)
	_, err := p.Commit(ctx, "msg")
	require.NoError(t, err)

	v1, err := p.Push(ctx, "v1", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1.VersionNumber)
	assert.True(t, v1.StateFiles.Equal(types.NewStateFileSet(f1)))

	maxVersion, err := p.GetMaxVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), maxVersion.VersionNumber)

	v2, err := p.Push(ctx, "v2", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2.VersionNumber)
	assert.True(t, v2.StateFiles.Equal(types.NewStateFileSet(f1)))

	refs, err := p.LoadVersionReferences()
	require.NoError(t, err)
	require.Len(t, refs, 3)
	for i, ref := range refs {
		assert.Equal(t, uint64(2-i), ref.VersionNumber)
	}
}

func TestPod_InitTwice(t *testing.T) {
	p := openTestPod(t, nil)
	_, err := p.Init()
	assert.ErrorIs(t, err, types.ErrPodExists)

	head, err := p.GetHead()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), head.VersionNumber)
	assert.Equal(t, initComment, head.Comment)
}

func TestPod_PushesBehindMaxMerge(t *testing.T) {
	p := openTestPod(t, merge.MergerFunc(func(dst, src, ancestor []byte) ([]byte, error) {
		return append(append(dst, '|'), src...), nil
	}))
	ctx := context.Background()

	addQueue(t, p, "queues", "base")
	_, err := p.Push(ctx, "v1", false)
	require.NoError(t, err)

	addQueue(t, p, "queues", "theirs")
	addQueue(t, p, "topics", "only-theirs")
	_, err = p.Push(ctx, "v2", false)
	require.NoError(t, err)

	_, err = p.SetActiveVersion(ctx, 1, false)
	require.NoError(t, err)
	addQueue(t, p, "queues", "ours")
	addQueue(t, p, "subscriptions", "only-ours")
	v3, err := p.Push(ctx, "v3", false)
	require.NoError(t, err)

	assert.Equal(t, "ours|theirs", readState(t, p, v3, "queues"))
	assert.Equal(t, "only-theirs", readState(t, p, v3, "topics"))
	assert.Equal(t, "only-ours", readState(t, p, v3, "subscriptions"))

	_, err = p.SetActiveVersion(ctx, 1, false)
	require.NoError(t, err)
	addQueue(t, p, "buckets", "late")
	v4, err := p.Push(ctx, "v4", false)
	require.NoError(t, err)

	assert.Equal(t, uint64(4), v4.VersionNumber)
	assert.Equal(t, 4, v4.StateFiles.Len())
	assert.Equal(t, "late", readState(t, p, v4, "buckets"))
	assert.Equal(t, "only-ours", readState(t, p, v4, "subscriptions"))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.Metrics().Merges.WithLabelValues("two_way")))
}

func TestPod_SetActiveVersion(t *testing.T) {
	p := openTestPod(t, nil)
	ctx := context.Background()

	addQueue(t, p, "queues", "q1")
	_, err := p.Push(ctx, "v1", false)
	require.NoError(t, err)

	_, err = p.SetActiveVersion(ctx, 9, false)
	assert.ErrorIs(t, err, types.ErrNotFound)

	addQueue(t, p, "queues", "q2")
	v0, err := p.SetActiveVersion(ctx, 0, true)
	require.NoError(t, err)
	assert.True(t, v0.HasOpenChain())

	head, err := p.GetHead()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), head.VersionNumber)

	// the pending edit on version 1 was committed before switching
	commits, err := p.ListVersionCommits(1)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	v1, err := p.GetVersionByNumber(1)
	require.NoError(t, err)
	open, err := p.ListStateFiles(v1.OutgoingRevisionPtrs[0])
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestPod_ListVersionCommits(t *testing.T) {
	p := openTestPod(t, nil)
	ctx := context.Background()

	addQueue(t, p, "queues", "a")
	_, err := p.Commit(ctx, "first")
	require.NoError(t, err)
	addQueue(t, p, "queues", "b")
	_, err = p.Commit(ctx, "second")
	require.NoError(t, err)
	_, err = p.Push(ctx, "v1", false)
	require.NoError(t, err)

	commits, err := p.ListVersionCommits(1)
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, pushEngine.FinalizingCommitMessage, commits[0].Message)
	assert.Equal(t, "Revision-1", commits[0].From)
	assert.Equal(t, "second", commits[1].Message)
	assert.Equal(t, "first", commits[2].Message)
	assert.Equal(t, "Version-0", commits[2].From)

	log, err := p.GetDeltaLog(commits[1].DeltaLogPtr)
	require.NoError(t, err)
	require.Len(t, log.Changed, 1)

	entries, err := p.VersionLog()
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	versions, err := p.ListVersions()
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Contains(t, versions[0], "Version-1")
}

func TestPod_ListVersionCommitsAfterMergedPush(t *testing.T) {
	p := openTestPod(t, nil)
	ctx := context.Background()

	addQueue(t, p, "queues", "a")
	_, err := p.Push(ctx, "v1", false)
	require.NoError(t, err)
	addQueue(t, p, "queues", "b")
	_, err = p.Push(ctx, "v2", false)
	require.NoError(t, err)

	_, err = p.SetActiveVersion(ctx, 1, false)
	require.NoError(t, err)
	addQueue(t, p, "topics", "c")
	_, err = p.Commit(ctx, "on top of one")
	require.NoError(t, err)
	v3, err := p.Push(ctx, "v3", false)
	require.NoError(t, err)
	require.Equal(t, uint64(3), v3.VersionNumber)

	commits, err := p.ListVersionCommits(3)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "on top of one", commits[1].Message)
	assert.Equal(t, "Version-1", commits[1].From)
}

func TestPod_PushOverwrite(t *testing.T) {
	p := openTestPod(t, nil)
	ctx := context.Background()

	addQueue(t, p, "queues", "q1")
	_, err := p.Push(ctx, "v1", false)
	require.NoError(t, err)
	addQueue(t, p, "queues", "fixed")
	require.NoError(t, p.PushOverwrite(ctx, 1, "v1 fixed"))

	v1, err := p.GetVersionByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, "v1 fixed", v1.Comment)
	assert.Equal(t, "fixed", readState(t, p, v1, "queues"))

	assert.ErrorIs(t, p.PushOverwrite(ctx, 2, "nope"), types.ErrVersionNumberInvalid)
}

func TestPod_MaterializeAndExport(t *testing.T) {
	p := openTestPod(t, nil)
	ctx := context.Background()

	addQueue(t, p, "queues", "q1")
	_, err := p.AddStateFile("api_states/s3", "buckets", "s3", "eu-west-1", types.Opaque, []byte("b1"))
	require.NoError(t, err)
	_, err = p.Push(ctx, "v1", false)
	require.NoError(t, err)

	dir := t.TempDir()
	written, err := p.MaterializeVersion(ctx, 1, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	data, err := os.ReadFile(filepath.Join(dir, "sqs", "us-east-1", "api_states", "sqs", "queues"))
	require.NoError(t, err)
	assert.Equal(t, "q1", string(data))

	var buf bytes.Buffer
	require.NoError(t, p.ExportVersion(ctx, 1, &buf))

	other := openTestPod(t, nil)
	refs, err := other.ImportStateArchive(ctx, &buf, types.Mergeable)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	v1, err := other.Push(ctx, "imported", false)
	require.NoError(t, err)
	assert.Equal(t, "q1", readState(t, other, v1, "queues"))
}

func TestPod_MaterializeSkipsMissingBlobs(t *testing.T) {
	p := openTestPod(t, nil)
	ctx := context.Background()

	addQueue(t, p, "queues", "q1")
	open, _, err := p.graph.ResolveHeadExpansionPoint()
	require.NoError(t, err)
	missing := types.StateFileRef{HashRef: types.HashBytes([]byte("gone")), RelPath: "api_states/sqs", FileName: "topics", Service: "sqs", Region: "us-east-1"}
	require.NoError(t, p.graph.AttachStateFile(&open, missing))
	_, err = p.Push(ctx, "v1", false)
	require.NoError(t, err)

	written, err := p.MaterializeVersion(ctx, 1, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().MaterializeFailures))
}

func TestPod_RemoteRoundTrip(t *testing.T) {
	origin := openTestPod(t, nil)
	ctx := context.Background()
	addQueue(t, origin, "queues", "q1")
	v1, err := origin.Push(ctx, "v1", false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, origin.ExportVersionSpace(ctx, &buf))

	clone, err := Open(Config{Name: "clone", User: "bob", InMemory: true})
	require.NoError(t, err)
	defer clone.Close()
	head, err := clone.InitRemote(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, v1.HashRef, head.HashRef)
	assert.Equal(t, "q1", readState(t, clone, head, "queues"))
}

func TestPod_OnDisk(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	p, err := Open(Config{Name: "orders", User: "alice", RootDir: root})
	require.NoError(t, err)
	_, err = p.Init()
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "api_states", "sqs", "us-east-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queues"), []byte("q1"), 0o644))
	ref, err := p.AddStateFileFromFS(dir, "queues", "sqs", "us-east-1", types.Mergeable)
	require.NoError(t, err)
	assert.Equal(t, "sqs/us-east-1", ref.RelPath)
	_, err = p.Push(ctx, "v1", false)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	pods, err := ListPods(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, pods)

	require.NoError(t, RenamePod(root, "orders", "archive"))
	assert.ErrorIs(t, RenamePod(root, "missing", "archive"), types.ErrPodExists)

	reopened, err := Open(Config{Name: "archive", User: "alice", RootDir: root})
	require.NoError(t, err)
	defer reopened.Close()
	v1, err := reopened.GetVersionByNumber(1)
	require.NoError(t, err)
	files, err := reopened.ListStateFiles(v1.HashRef)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, ref, files[0])
}

func TestRelativeStatePath(t *testing.T) {
	assert.Equal(t, "sqs/us-east-1", relativeStatePath("/tmp/x/api_states/sqs/us-east-1"))
	assert.Equal(t, "data", relativeStatePath("/var/data"))
}
