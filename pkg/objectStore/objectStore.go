// Package objectStore is the content addressed store for graph nodes, state
// file payloads and delta logs. Everything lives in one badger instance and is
// separated by key prefix.
package objectStore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-pods/internal/binaryCoder"
	"github.com/i5heu/ouroboros-pods/internal/keyValStore"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	RevisionPrefix = "Revision:"
	VersionPrefix  = "Version:"
	BlobPrefix     = "Blob:"
	ChunkPrefix    = "Chunk:"
	DeltaLogPrefix = "DeltaLog:"
)

// GraphPrefixes are all prefixes owned by the object store.
var GraphPrefixes = []string{RevisionPrefix, VersionPrefix, BlobPrefix, ChunkPrefix, DeltaLogPrefix}

func GenerateKeyFromPrefixAndHash(prefix string, hash types.Hash) []byte {
	return append([]byte(prefix), []byte(hash.String())...)
}

func RevisionKey(h types.Hash) []byte { return GenerateKeyFromPrefixAndHash(RevisionPrefix, h) }
func VersionKey(h types.Hash) []byte  { return GenerateKeyFromPrefixAndHash(VersionPrefix, h) }
func BlobKey(h types.Hash) []byte     { return GenerateKeyFromPrefixAndHash(BlobPrefix, h) }
func ChunkKey(h types.Hash) []byte    { return GenerateKeyFromPrefixAndHash(ChunkPrefix, h) }
func DeltaLogKey(id string) []byte    { return []byte(DeltaLogPrefix + id) }

type ObjectStore struct {
	kv  *keyValStore.KeyValStore
	log *logrus.Logger
}

func New(kv *keyValStore.KeyValStore, logger *logrus.Logger) *ObjectStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &ObjectStore{kv: kv, log: logger}
}

func (s *ObjectStore) read(key []byte, what string) ([]byte, error) {
	data, err := s.kv.Read(key)
	if errors.Is(err, keyValStore.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s %s: %w", what, key, types.ErrNotFound)
	}
	return data, err
}

func (s *ObjectStore) GetRevision(h types.Hash) (types.Revision, error) {
	data, err := s.read(RevisionKey(h), "revision")
	if err != nil {
		return types.Revision{}, err
	}
	return binaryCoder.ByteToRevision(data)
}

func (s *ObjectStore) GetVersion(h types.Hash) (types.Version, error) {
	data, err := s.read(VersionKey(h), "version")
	if err != nil {
		return types.Version{}, err
	}
	return binaryCoder.ByteToVersion(data)
}

// PutRevision stores the node under its current key, which may still be provisional.
func (s *ObjectStore) PutRevision(r types.Revision) (types.Hash, error) {
	return r.HashRef, s.kv.Write(RevisionKey(r.HashRef), binaryCoder.RevisionToByte(r))
}

func (s *ObjectStore) PutVersion(v types.Version) (types.Hash, error) {
	return v.HashRef, s.kv.Write(VersionKey(v.HashRef), binaryCoder.VersionToByte(v))
}

func (s *ObjectStore) RevisionExists(h types.Hash) (bool, error) {
	return s.kv.Exists(RevisionKey(h))
}

func (s *ObjectStore) VersionExists(h types.Hash) (bool, error) {
	return s.kv.Exists(VersionKey(h))
}

// Batch groups node writes so that an operation persists all of them or none.
type Batch struct {
	b keyValStore.Batch
}

func (s *ObjectStore) NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) PutRevision(r types.Revision) {
	b.b.Set(RevisionKey(r.HashRef), binaryCoder.RevisionToByte(r))
}

func (b *Batch) PutVersion(v types.Version) {
	b.b.Set(VersionKey(v.HashRef), binaryCoder.VersionToByte(v))
}

// MoveRevision stores r under its (sealed) key and drops the provisional one.
func (b *Batch) MoveRevision(old types.Hash, r types.Revision) {
	if old != r.HashRef {
		b.b.Delete(RevisionKey(old))
	}
	b.PutRevision(r)
}

// RekeyRevision stores r under its sealed key and drops old. When referencedBy
// is set, its chain pointers move from old to the new key and it is written
// with the batch.
func (b *Batch) RekeyRevision(old types.Hash, r types.Revision, referencedBy *types.Version) {
	b.MoveRevision(old, r)
	if referencedBy != nil {
		RepointVersion(referencedBy, old, r.HashRef)
		b.PutVersion(*referencedBy)
	}
}

// KV exposes the underlying batch so that references can be staged into the
// same transaction.
func (b *Batch) KV() *keyValStore.Batch {
	return &b.b
}

func (s *ObjectStore) Commit(b *Batch) error {
	return s.kv.CommitBatch(&b.b)
}

// Put writes revisions and versions in one batch.
func (s *ObjectStore) Put(revisions []types.Revision, versions []types.Version) error {
	b := s.NewBatch()
	for _, r := range revisions {
		b.PutRevision(r)
	}
	for _, v := range versions {
		b.PutVersion(v)
	}
	return s.Commit(b)
}

// RepointVersion rewrites the chain pointers of v from old to new.
func RepointVersion(v *types.Version, old, new types.Hash) {
	if v.ActiveRevisionPtr == old {
		v.ActiveRevisionPtr = new
	}
	v.ReplaceOutgoing(old, new)
}

// ListVersions returns every stored Version, in key order.
func (s *ObjectStore) ListVersions() ([]types.Version, error) {
	items, err := s.kv.GetItemsWithPrefix([]byte(VersionPrefix))
	if err != nil {
		return nil, err
	}
	versions := make([]types.Version, 0, len(items))
	for _, item := range items {
		v, err := binaryCoder.ByteToVersion(item[1])
		if err != nil {
			return nil, fmt.Errorf("error decoding %s: %w", item[0], err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (s *ObjectStore) PutDeltaLog(id string, log types.DeltaLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("error encoding delta log: %w", err)
	}
	return s.kv.Write(DeltaLogKey(id), data)
}

func (s *ObjectStore) GetDeltaLog(id string) (types.DeltaLog, error) {
	var log types.DeltaLog
	data, err := s.read(DeltaLogKey(id), "delta log")
	if err != nil {
		return log, err
	}
	if err := json.Unmarshal(data, &log); err != nil {
		return log, fmt.Errorf("error decoding delta log %s: %w", id, err)
	}
	return log, nil
}
