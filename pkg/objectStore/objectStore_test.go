package objectStore

import (
	"bytes"
	"testing"

	"github.com/i5heu/ouroboros-pods/internal/keyValStore"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestObjectStore(t testing.TB) *ObjectStore {
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return New(kv, nil)
}

func TestBlob_RoundTrip(t *testing.T) {
	s := newTestObjectStore(t)

	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 64*1024).Draw(rt, "data")

		h, err := s.PutBlob(data)
		if err != nil {
			rt.Fatalf("put: %v", err)
		}
		if h != types.HashBytes(data) {
			rt.Fatalf("key is not the content hash")
		}
		got, err := s.GetBlob(h)
		if err != nil {
			rt.Fatalf("get: %v", err)
		}
		if !bytes.Equal(got, data) {
			rt.Fatalf("payload differs")
		}
	})
}

func TestBlob_LargeAndDeduplicated(t *testing.T) {
	s := newTestObjectStore(t)
	data := bytes.Repeat([]byte("queue message body "), 200000)

	h1, err := s.PutBlob(data)
	require.NoError(t, err)
	h2, err := s.PutBlob(data)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	got, err := s.GetBlob(h1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBlob_NotFound(t *testing.T) {
	s := newTestObjectStore(t)
	_, err := s.GetBlob(types.HashBytes([]byte("missing")))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRevision_PutGet(t *testing.T) {
	s := newTestObjectStore(t)
	open := types.NewOpenRevision(types.NilHash, "alice", 0)
	open.AttachStateFile(types.StateFileRef{HashRef: types.HashBytes([]byte("x")), RelPath: "sqs/us-east-1", FileName: "queues", Service: "sqs", Region: "us-east-1"})

	key, err := s.PutRevision(open.Node())
	require.NoError(t, err)
	assert.Equal(t, open.Key(), key)

	got, err := s.GetRevision(key)
	require.NoError(t, err)
	assert.Equal(t, open.Node().ContentHash(), got.ContentHash())

	_, err = s.GetRevision(types.RandomHash())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestBatchRekeyRevision_UpdatesVersion(t *testing.T) {
	s := newTestObjectStore(t)
	open := types.NewOpenRevision(types.NilHash, "alice", 0)
	v := types.Version{
		HashRef:           types.RandomHash(),
		ActiveRevisionPtr: open.Key(),
		StateFiles:        types.NewStateFileSet(),
	}
	v.AddOutgoing(open.Key())
	require.NoError(t, s.Put([]types.Revision{open.Node()}, []types.Version{v}))

	sealed := open.Seal()
	b := s.NewBatch()
	b.RekeyRevision(open.Key(), sealed.Node(), &v)
	require.NoError(t, s.Commit(b))

	exists, err := s.RevisionExists(open.Key())
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := s.GetRevision(sealed.Hash())
	require.NoError(t, err)
	assert.Equal(t, sealed.Hash(), got.HashRef)

	gotVersion, err := s.GetVersion(v.HashRef)
	require.NoError(t, err)
	assert.Equal(t, sealed.Hash(), gotVersion.ActiveRevisionPtr)
	assert.Equal(t, []types.Hash{sealed.Hash()}, gotVersion.OutgoingRevisionPtrs)
}

func TestBatchRekeyRevision_WithoutVersion(t *testing.T) {
	s := newTestObjectStore(t)
	open := types.NewOpenRevision(types.RandomHash(), "alice", 3)
	_, err := s.PutRevision(open.Node())
	require.NoError(t, err)

	sealed := open.Seal()
	b := s.NewBatch()
	b.RekeyRevision(open.Key(), sealed.Node(), nil)
	require.NoError(t, s.Commit(b))

	exists, err := s.RevisionExists(sealed.Hash())
	require.NoError(t, err)
	assert.True(t, exists)
	versions, err := s.ListVersions()
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestDeltaLog_PutGet(t *testing.T) {
	s := newTestObjectStore(t)
	log := types.DeltaLog{Added: []types.StateFileRef{{HashRef: types.HashBytes([]byte("a")), FileName: "a"}}}
	require.NoError(t, s.PutDeltaLog("id-1", log))

	got, err := s.GetDeltaLog("id-1")
	require.NoError(t, err)
	assert.Equal(t, log, got)

	_, err = s.GetDeltaLog("id-2")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEntries_ExportImport(t *testing.T) {
	src := newTestObjectStore(t)
	dst := newTestObjectStore(t)

	h, err := src.PutBlob([]byte("payload"))
	require.NoError(t, err)
	v := types.Version{HashRef: types.RandomHash(), StateFiles: types.NewStateFileSet(), VersionNumber: 3}
	_, err = src.PutVersion(v)
	require.NoError(t, err)

	entries, err := src.ExportEntries()
	require.NoError(t, err)

	imported, err := dst.ImportEntries(entries)
	require.NoError(t, err)
	assert.Equal(t, len(entries), imported)

	again, err := dst.ImportEntries(entries)
	require.NoError(t, err)
	assert.Zero(t, again)

	got, err := dst.GetBlob(h)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	versions, err := dst.ListVersions()
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, uint64(3), versions[0].VersionNumber)

	_, err = dst.ImportEntries([]Entry{{Key: []byte("Ref:HEAD"), Value: []byte("x")}})
	assert.Error(t, err)
}
