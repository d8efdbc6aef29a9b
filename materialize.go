package pods

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/i5heu/ouroboros-pods/pkg/archive"
	"github.com/i5heu/ouroboros-pods/pkg/remote"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

// MaterializeVersion writes the state files of a Version below dir and
// returns how many were written. A state file that cannot be written is
// logged and skipped.
func (p *Pod) MaterializeVersion(ctx context.Context, versionNumber uint64, dir string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, err := p.graph.VersionByNumber(versionNumber)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, ref := range v.StateFiles.Sorted() {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := p.materialize(ref, dir); err != nil {
			p.metrics.MaterializeFailures.Inc()
			p.log.WithError(err).WithFields(logrus.Fields{
				"version":   versionNumber,
				"stateFile": ref.String(),
			}).Warn("Failed to materialize state file")
			continue
		}
		written++
	}

	p.log.WithFields(logrus.Fields{
		"version": versionNumber,
		"dir":     dir,
		"written": written,
		"total":   v.StateFiles.Len(),
	}).Info("Materialized version")
	return written, nil
}

func (p *Pod) materialize(ref types.StateFileRef, dir string) error {
	data, err := p.store.GetBlob(ref.HashRef)
	if err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.FromSlash(archive.StatePath(ref)))
	if !strings.HasPrefix(dst, filepath.Clean(dir)+string(filepath.Separator)) {
		return fmt.Errorf("state file path %q leaves the target directory", archive.StatePath(ref))
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// ExportVersion writes the state files of a Version to w as a state archive.
func (p *Pod) ExportVersion(ctx context.Context, versionNumber uint64, w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, err := p.graph.VersionByNumber(versionNumber)
	if err != nil {
		return err
	}
	return archive.WriteStateArchive(ctx, w, v.StateFiles, p.store)
}

// ImportStateArchive attaches every file of a state archive to the expansion
// point of HEAD. Members must be laid out as service/region/relPath/fileName.
func (p *Pod) ImportStateArchive(ctx context.Context, r io.Reader, kind types.PayloadKind) ([]types.StateFileRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	files, err := archive.ReadStateArchive(ctx, r)
	if err != nil {
		return nil, err
	}

	refs := make([]types.StateFileRef, 0, len(files))
	for _, f := range files {
		parts := strings.Split(f.Path, "/")
		if len(parts) < 3 {
			return refs, fmt.Errorf("unexpected state archive member %q", f.Path)
		}
		service, region, fileName := parts[0], parts[1], parts[len(parts)-1]
		relPath := strings.Join(parts[2:len(parts)-1], "/")

		ref, err := p.addStateFile(relPath, fileName, service, region, kind, f.Data)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// ExportVersionSpace writes the whole version space to w.
func (p *Pod) ExportVersionSpace(ctx context.Context, w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote.Export(ctx, w)
}

// InitRemote fills this empty pod from a version space written by
// ExportVersionSpace.
func (p *Pod) InitRemote(ctx context.Context, r io.Reader) (types.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote.InitRemote(ctx, r)
}

func (p *Pod) MergeFromRemote(ctx context.Context, r io.Reader) (remote.MergeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote.MergeFromRemote(ctx, r)
}
