// Package buzhashChunker splits state file payloads into content defined
// chunks so that small edits of large files only store the changed chunks.
package buzhashChunker

import (
	"bytes"
	"crypto/sha512"
	"fmt"
	"io"
	"runtime"
	"sync"

	chunker "github.com/ipfs/boxo/chunker"
	"github.com/i5heu/ouroboros-pods/pkg/types"
)

type ChunkData struct {
	Hash types.Hash // SHA-512 of Data
	Data []byte
}

func (c ChunkData) String() string {
	return fmt.Sprintf("ChunkData{Hash: %s, Data(length): %d}", c.Hash.Short(), len(c.Data))
}

// ChunkBytes chunks data and hashes the chunks on all CPUs. The result keeps
// the order of the input.
func ChunkBytes(data []byte) ([]ChunkData, error) {
	bz := chunker.NewBuzhash(bytes.NewReader(data))

	var raw [][]byte
	for {
		chunk, err := bz.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading chunk: %w", err)
		}
		raw = append(raw, chunk)
	}

	chunks := make([]ChunkData, len(raw))
	workerLimit := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, chunk := range raw {
		wg.Add(1)
		workerLimit <- struct{}{}
		go func(i int, chunk []byte) {
			defer wg.Done()
			chunks[i] = ChunkData{Hash: sha512.Sum512(chunk), Data: chunk}
			<-workerLimit
		}(i, chunk)
	}
	wg.Wait()

	return chunks, nil
}
