package objectStore

import (
	"bytes"
	"fmt"

	"github.com/i5heu/ouroboros-pods/internal/binaryCoder"
	"github.com/i5heu/ouroboros-pods/internal/keyValStore"
	"github.com/i5heu/ouroboros-pods/pkg/buzhashChunker"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/i5heu/ouroboros-pods/pkg/workerPool"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz/lzma"
)

// compressPool compresses the chunks of new blobs.
var compressPool = workerPool.NewWorkerPool(workerPool.Config{})

// PutBlob stores a state file payload and returns its content hash. Chunks
// already present are not written again.
func (s *ObjectStore) PutBlob(data []byte) (types.Hash, error) {
	h := types.HashBytes(data)

	exists, err := s.BlobExists(h)
	if err != nil {
		return h, err
	}
	if exists {
		return h, nil
	}

	chunks, err := buzhashChunker.ChunkBytes(data)
	if err != nil {
		return h, fmt.Errorf("error chunking blob: %w", err)
	}

	keys := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		keys = append(keys, ChunkKey(c.Hash))
	}
	existsMap, err := s.kv.BatchCheckKeyExistence(keys)
	if err != nil {
		return h, fmt.Errorf("error checking chunk existence: %w", err)
	}

	manifest := binaryCoder.BlobManifest{Size: int64(len(data))}
	room := workerPool.NewRoom[[]byte](compressPool, len(chunks))
	var newKeys [][]byte
	for i, c := range chunks {
		manifest.Chunks = append(manifest.Chunks, c.Hash)
		if existsMap[string(keys[i])] {
			continue
		}
		existsMap[string(keys[i])] = true
		newKeys = append(newKeys, keys[i])
		chunk := c.Data
		room.NewTask(func() ([]byte, error) { return compressWithLzma(chunk) })
	}
	compressed, err := room.Collect()
	if err != nil {
		return h, fmt.Errorf("error compressing chunk: %w", err)
	}

	var b keyValStore.Batch
	for i, key := range newKeys {
		b.Set(key, compressed[i])
	}
	written := len(newKeys)
	b.Set(BlobKey(h), binaryCoder.BlobManifestToByte(manifest))

	if err := s.kv.CommitBatch(&b); err != nil {
		return h, err
	}

	s.log.WithFields(logrus.Fields{
		"blob":       h.Short(),
		"size":       len(data),
		"chunks":     len(chunks),
		"new chunks": written,
	}).Debug("Stored blob")
	return h, nil
}

func (s *ObjectStore) BlobExists(h types.Hash) (bool, error) {
	return s.kv.Exists(BlobKey(h))
}

// GetBlob reassembles a payload and checks it against its hash.
func (s *ObjectStore) GetBlob(h types.Hash) ([]byte, error) {
	data, err := s.read(BlobKey(h), "blob")
	if err != nil {
		return nil, err
	}
	manifest, err := binaryCoder.ByteToBlobManifest(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(int(manifest.Size))
	for _, c := range manifest.Chunks {
		compressed, err := s.read(ChunkKey(c), "chunk")
		if err != nil {
			return nil, fmt.Errorf("error reading blob %s: %w", h.Short(), err)
		}
		chunk, err := decompressWithLzma(compressed)
		if err != nil {
			return nil, fmt.Errorf("error decompressing chunk %s: %w", c.Short(), err)
		}
		buf.Write(chunk)
	}

	if types.HashBytes(buf.Bytes()) != h {
		return nil, fmt.Errorf("blob %s does not match its hash", h.Short())
	}
	return buf.Bytes(), nil
}

func compressWithLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(data)
	if err != nil {
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressWithLzma(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
