// Package refStore keeps the named pointers of a pod: HEAD, MAX and the
// append-only KNOWN list, plus the commit history log.
package refStore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/i5heu/ouroboros-pods/internal/keyValStore"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	headKey     = "Ref:HEAD"
	maxKey      = "Ref:MAX"
	knownPrefix = "Ref:KNOWN:"
	logPrefix   = "VerLog:"
)

// Prefixes are all key prefixes owned by the reference store.
var Prefixes = []string{"Ref:", logPrefix}

type RefStore struct {
	kv  *keyValStore.KeyValStore
	log *logrus.Logger
}

func New(kv *keyValStore.KeyValStore, logger *logrus.Logger) *RefStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &RefStore{kv: kv, log: logger}
}

func knownKey(number uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", knownPrefix, number))
}

func encodeRef(ref types.VersionRef) []byte {
	return []byte(fmt.Sprintf("%d:%s", ref.VersionNumber, ref.Hash))
}

func decodeRef(b []byte) (types.VersionRef, error) {
	number, hash, ok := strings.Cut(string(b), ":")
	if !ok {
		return types.VersionRef{}, fmt.Errorf("malformed version reference %q", b)
	}
	n, err := strconv.ParseUint(number, 10, 64)
	if err != nil {
		return types.VersionRef{}, fmt.Errorf("malformed version number %q: %w", number, err)
	}
	h, err := types.HashFromString(hash)
	if err != nil {
		return types.VersionRef{}, err
	}
	return types.VersionRef{VersionNumber: n, Hash: h}, nil
}

func (r *RefStore) readRef(key string) (types.VersionRef, error) {
	data, err := r.kv.Read([]byte(key))
	if errors.Is(err, keyValStore.ErrKeyNotFound) {
		return types.VersionRef{}, fmt.Errorf("reference %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return types.VersionRef{}, err
	}
	return decodeRef(data)
}

func (r *RefStore) Head() (types.VersionRef, error) {
	return r.readRef(headKey)
}

func (r *RefStore) Max() (types.VersionRef, error) {
	return r.readRef(maxKey)
}

// Initialized reports whether HEAD was ever written.
func (r *RefStore) Initialized() (bool, error) {
	return r.kv.Exists([]byte(headKey))
}

// Publish moves HEAD and MAX to ref and appends it to KNOWN in one transaction.
func (r *RefStore) Publish(ref types.VersionRef) error {
	var b keyValStore.Batch
	if err := r.StagePublish(&b, ref); err != nil {
		return err
	}
	if err := r.kv.CommitBatch(&b); err != nil {
		return fmt.Errorf("error publishing version %d: %w", ref.VersionNumber, err)
	}

	r.log.WithFields(logrus.Fields{
		"version": ref.VersionNumber,
		"hash":    ref.Hash.Short(),
	}).Debug("Published version")
	return nil
}

// StagePublish adds the writes of Publish to b, so that they land in the same
// transaction as the nodes ref points at.
func (r *RefStore) StagePublish(b *keyValStore.Batch, ref types.VersionRef) error {
	exists, err := r.kv.Exists(knownKey(ref.VersionNumber))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("version %d already known: %w", ref.VersionNumber, types.ErrVersionNumberInvalid)
	}
	b.Set([]byte(headKey), encodeRef(ref))
	b.Set([]byte(maxKey), encodeRef(ref))
	b.Set(knownKey(ref.VersionNumber), []byte(ref.Hash.String()))
	return nil
}

func (r *RefStore) StageHead(b *keyValStore.Batch, ref types.VersionRef) {
	b.Set([]byte(headKey), encodeRef(ref))
}

// StageRestore adds the writes that replace KNOWN with known and point MAX at
// its highest and HEAD at head. KNOWN entries left by an earlier attempt are
// dropped. Nothing is staged when known is invalid.
func (r *RefStore) StageRestore(b *keyValStore.Batch, known []types.VersionRef, head types.VersionRef) error {
	if len(known) == 0 {
		return fmt.Errorf("no versions to restore: %w", types.ErrNotFound)
	}
	byNumber := make(map[uint64]types.Hash, len(known))
	for _, ref := range known {
		if h, ok := byNumber[ref.VersionNumber]; ok && h != ref.Hash {
			return fmt.Errorf("version %d listed twice: %w", ref.VersionNumber, types.ErrVersionNumberInvalid)
		}
		byNumber[ref.VersionNumber] = ref.Hash
	}
	if h, ok := byNumber[head.VersionNumber]; !ok || h != head.Hash {
		return fmt.Errorf("head version %d is not known: %w", head.VersionNumber, types.ErrVersionNumberInvalid)
	}

	stale, err := r.LoadVersionReferences()
	if err != nil {
		return err
	}
	for _, ref := range stale {
		if _, ok := byNumber[ref.VersionNumber]; !ok {
			b.Delete(knownKey(ref.VersionNumber))
		}
	}

	sorted := types.SortVersionRefs(known)
	for _, ref := range sorted {
		b.Set(knownKey(ref.VersionNumber), []byte(ref.Hash.String()))
	}
	b.Set([]byte(maxKey), encodeRef(sorted[0]))
	b.Set([]byte(headKey), encodeRef(head))
	return nil
}

// StageKnown appends ref to KNOWN within b.
func (r *RefStore) StageKnown(b *keyValStore.Batch, ref types.VersionRef) {
	b.Set(knownKey(ref.VersionNumber), []byte(ref.Hash.String()))
}

func (r *RefStore) StageMax(b *keyValStore.Batch, ref types.VersionRef) {
	b.Set([]byte(maxKey), encodeRef(ref))
}

// LoadVersionReferences returns the KNOWN list ordered by version number,
// highest first.
func (r *RefStore) LoadVersionReferences() ([]types.VersionRef, error) {
	items, err := r.kv.GetItemsWithPrefix([]byte(knownPrefix))
	if err != nil {
		return nil, err
	}
	refs := make([]types.VersionRef, 0, len(items))
	for _, item := range items {
		n, err := strconv.ParseUint(strings.TrimPrefix(string(item[0]), knownPrefix), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed known key %q: %w", item[0], err)
		}
		h, err := types.HashFromString(string(item[1]))
		if err != nil {
			return nil, err
		}
		refs = append(refs, types.VersionRef{VersionNumber: n, Hash: h})
	}
	return types.SortVersionRefs(refs), nil
}

// Lookup resolves a version number through the KNOWN list.
func (r *RefStore) Lookup(number uint64) (types.Hash, error) {
	data, err := r.kv.Read(knownKey(number))
	if errors.Is(err, keyValStore.ErrKeyNotFound) {
		return types.NilHash, fmt.Errorf("version %d: %w", number, types.ErrNotFound)
	}
	if err != nil {
		return types.NilHash, err
	}
	return types.HashFromString(string(data))
}

func (r *RefStore) AppendVersionLog(entry types.VersionLogEntry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error encoding version log entry: %w", err)
	}
	key := fmt.Sprintf("%s%020d:%s", logPrefix, entry.Time.UnixNano(), types.ShortUID())
	return r.kv.Write([]byte(key), data)
}

// VersionLog returns the history log, oldest entry first.
func (r *RefStore) VersionLog() ([]types.VersionLogEntry, error) {
	items, err := r.kv.GetItemsWithPrefix([]byte(logPrefix))
	if err != nil {
		return nil, err
	}
	entries := make([]types.VersionLogEntry, 0, len(items))
	for _, item := range items {
		var entry types.VersionLogEntry
		if err := json.Unmarshal(item[1], &entry); err != nil {
			return nil, fmt.Errorf("error decoding version log entry %s: %w", item[0], err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
