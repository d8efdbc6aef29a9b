package objectStore

import (
	"fmt"
	"strings"

	"github.com/i5heu/ouroboros-pods/internal/binaryCoder"
	"github.com/i5heu/ouroboros-pods/internal/keyValStore"
	"github.com/i5heu/ouroboros-pods/pkg/types"
)

// Entry is a raw key/value pair of the store, used to move a version space
// between pods.
type Entry struct {
	Key   []byte
	Value []byte
}

// ExportEntries returns every node, blob, chunk and delta log.
func (s *ObjectStore) ExportEntries() ([]Entry, error) {
	var entries []Entry
	for _, prefix := range GraphPrefixes {
		items, err := s.kv.GetItemsWithPrefix([]byte(prefix))
		if err != nil {
			return nil, fmt.Errorf("error exporting %s: %w", prefix, err)
		}
		for _, item := range items {
			entries = append(entries, Entry{Key: item[0], Value: item[1]})
		}
	}
	return entries, nil
}

// ImportEntries writes entries that are not present yet and returns how many
// were written. Keys outside the object store prefixes are rejected.
func (s *ObjectStore) ImportEntries(entries []Entry) (int, error) {
	keys := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if !isGraphKey(string(e.Key)) {
			return 0, fmt.Errorf("refusing to import foreign key %q", e.Key)
		}
		keys = append(keys, e.Key)
	}

	existsMap, err := s.kv.BatchCheckKeyExistence(keys)
	if err != nil {
		return 0, err
	}

	var b keyValStore.Batch
	for _, e := range entries {
		if existsMap[string(e.Key)] {
			continue
		}
		existsMap[string(e.Key)] = true
		b.Set(e.Key, e.Value)
	}
	imported := b.Len()
	if err := s.kv.CommitBatch(&b); err != nil {
		return 0, err
	}
	return imported, nil
}

// VersionsIn decodes the Versions contained in entries.
func VersionsIn(entries []Entry) ([]types.Version, error) {
	var versions []types.Version
	for _, e := range entries {
		if !strings.HasPrefix(string(e.Key), VersionPrefix) {
			continue
		}
		v, err := binaryCoder.ByteToVersion(e.Value)
		if err != nil {
			return nil, fmt.Errorf("error decoding %s: %w", e.Key, err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func isGraphKey(key string) bool {
	for _, prefix := range GraphPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
