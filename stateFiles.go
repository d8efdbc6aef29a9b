package pods

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

// statesDir is the directory below which service state is persisted on disk.
// AddStateFileFromFS uses the path below it as relative path.
const statesDir = "api_states"

// AddStateFile stores data and attaches it to the expansion point of HEAD.
// A congruent state file already attached is replaced.
func (p *Pod) AddStateFile(relPath, fileName, service, region string, kind types.PayloadKind, data []byte) (types.StateFileRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addStateFile(relPath, fileName, service, region, kind, data)
}

func (p *Pod) addStateFile(relPath, fileName, service, region string, kind types.PayloadKind, data []byte) (types.StateFileRef, error) {
	h, err := p.store.PutBlob(data)
	if err != nil {
		return types.StateFileRef{}, fmt.Errorf("error storing state file: %w", err)
	}
	ref := types.StateFileRef{
		HashRef:  h,
		RelPath:  relPath,
		FileName: fileName,
		Size:     int64(len(data)),
		Service:  service,
		Region:   region,
		Kind:     kind,
	}

	open, _, err := p.graph.ResolveHeadExpansionPoint()
	if err != nil {
		return types.StateFileRef{}, fmt.Errorf("error resolving expansion point: %w", err)
	}
	if err := p.graph.AttachStateFile(&open, ref); err != nil {
		return types.StateFileRef{}, err
	}
	return ref, nil
}

// AddStateFileFromFS reads dir/fileName and attaches it. The relative path is
// the part of dir below an api_states directory, or the last element of dir.
func (p *Pod) AddStateFileFromFS(dir, fileName, service, region string, kind types.PayloadKind) (types.StateFileRef, error) {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		return types.StateFileRef{}, fmt.Errorf("error reading state file: %w", err)
	}
	return p.AddStateFile(relativeStatePath(dir), fileName, service, region, kind, data)
}

func relativeStatePath(dir string) string {
	slashed := filepath.ToSlash(filepath.Clean(dir))
	if _, rel, ok := strings.Cut(slashed, statesDir+"/"); ok {
		return rel
	}
	return filepath.Base(dir)
}

// ListStateFiles returns the state files of the Revision or Version stored
// under key.
func (p *Pod) ListStateFiles(key types.Hash) ([]types.StateFileRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.store.GetRevision(key)
	if err == nil {
		return r.StateFiles.Sorted(), nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	v, err := p.store.GetVersion(key)
	if err != nil {
		p.log.WithField("key", key.Short()).Debug("No version or revision associated to key")
		return nil, err
	}
	return v.StateFiles.Sorted(), nil
}

// ReadStateFile returns the payload of ref.
func (p *Pod) ReadStateFile(ref types.StateFileRef) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := p.store.GetBlob(ref.HashRef)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"stateFile": ref.String(),
		}).Warn("No state file found")
		return nil, err
	}
	return data, nil
}
