// Package merge reconciles two state file snapshots when a push starts from a
// Version that is behind MAX. Conflicts are settled file by file; the
// structural merge of one payload is delegated to an ObjectStateMerger.
package merge

import (
	"fmt"

	"github.com/i5heu/ouroboros-pods/pkg/monitor"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

// ObjectStateMerger merges the payload of one resource. ancestor is nil for
// a two-way merge.
type ObjectStateMerger interface {
	MergeObjectState(dst, src, ancestor []byte) ([]byte, error)
}

type MergerFunc func(dst, src, ancestor []byte) ([]byte, error)

func (f MergerFunc) MergeObjectState(dst, src, ancestor []byte) ([]byte, error) {
	return f(dst, src, ancestor)
}

// PreferSource resolves every conflict in favour of the incoming side.
type PreferSource struct{}

func (PreferSource) MergeObjectState(dst, src, ancestor []byte) ([]byte, error) {
	return src, nil
}

// BlobStore is the part of the object store the merge needs.
type BlobStore interface {
	GetBlob(h types.Hash) ([]byte, error)
	PutBlob(data []byte) (types.Hash, error)
}

// Strategy decides the winner for a logical file present on both sides.
type Strategy interface {
	Mode() string
	Resolve(e *Engine, src, dst types.StateFileRef, ancestor types.StateFileSet) (types.StateFileRef, error)
}

type Config struct {
	Merger  ObjectStateMerger
	Logger  *logrus.Logger
	Metrics *monitor.Metrics
}

type Engine struct {
	blobs   BlobStore
	merger  ObjectStateMerger
	log     *logrus.Logger
	metrics *monitor.Metrics
}

func NewEngine(blobs BlobStore, config Config) *Engine {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Merger == nil {
		config.Merger = PreferSource{}
	}
	return &Engine{
		blobs:   blobs,
		merger:  config.Merger,
		log:     config.Logger,
		metrics: monitor.OrNew(config.Metrics),
	}
}

// Merge folds src into dst. A three-way merge is used when requested and an
// ancestor snapshot is given.
func (e *Engine) Merge(src, dst, ancestor types.StateFileSet, threeWay bool) (types.StateFileSet, error) {
	var strategy Strategy = TwoWay{}
	if threeWay && ancestor != nil {
		strategy = ThreeWay{}
	}
	return e.MergeWith(strategy, src, dst, ancestor)
}

func (e *Engine) MergeTwo(src, dst types.StateFileSet) (types.StateFileSet, error) {
	return e.MergeWith(TwoWay{}, src, dst, nil)
}

func (e *Engine) MergeThree(src, dst, ancestor types.StateFileSet) (types.StateFileSet, error) {
	return e.MergeWith(ThreeWay{}, src, dst, ancestor)
}

// MergeWith returns the union of both sides. Files only in dst are kept,
// files only in src are added, and files on both sides are resolved by strategy.
func (e *Engine) MergeWith(strategy Strategy, src, dst, ancestor types.StateFileSet) (types.StateFileSet, error) {
	e.metrics.Merges.WithLabelValues(strategy.Mode()).Inc()
	result := dst.Clone()

	for _, s := range src.Sorted() {
		d, ok := dst.Find(s)
		if !ok {
			result.Put(s)
			continue
		}
		merged, err := strategy.Resolve(e, s, d, ancestor)
		if err != nil {
			return nil, err
		}
		result.Put(merged)
	}

	e.log.WithFields(logrus.Fields{
		"mode":   strategy.Mode(),
		"src":    src.Len(),
		"dst":    dst.Len(),
		"result": result.Len(),
	}).Debug("Merged state files")
	return result, nil
}

// settled covers the cases that need no collaborator: equal content, or an
// opaque payload on either side, where dst stays.
func settled(src, dst types.StateFileRef) bool {
	return src.HashRef == dst.HashRef || src.Kind == types.Opaque || dst.Kind == types.Opaque
}

// collaborate hands both payloads (and the ancestor's, if any) to the merger
// and stores the result as a new blob.
func (e *Engine) collaborate(src, dst types.StateFileRef, ancestor *types.StateFileRef) (types.StateFileRef, error) {
	dstData, err := e.blobs.GetBlob(dst.HashRef)
	if err != nil {
		return dst, fmt.Errorf("error loading %s: %w", dst, err)
	}
	srcData, err := e.blobs.GetBlob(src.HashRef)
	if err != nil {
		return dst, fmt.Errorf("error loading %s: %w", src, err)
	}
	var ancestorData []byte
	if ancestor != nil {
		ancestorData, err = e.blobs.GetBlob(ancestor.HashRef)
		if err != nil {
			return dst, fmt.Errorf("error loading %s: %w", ancestor, err)
		}
	}

	e.metrics.CollaboratorCalls.Inc()
	merged, err := e.merger.MergeObjectState(dstData, srcData, ancestorData)
	if err != nil {
		return dst, fmt.Errorf("merging %s: %w: %w", dst, types.ErrMergeCollaboratorFailed, err)
	}

	h, err := e.blobs.PutBlob(merged)
	if err != nil {
		return dst, fmt.Errorf("error storing merged %s: %w", dst, err)
	}
	result := dst
	result.HashRef = h
	result.Size = int64(len(merged))
	return result, nil
}

type TwoWay struct{}

func (TwoWay) Mode() string { return "two_way" }

func (TwoWay) Resolve(e *Engine, src, dst types.StateFileRef, _ types.StateFileSet) (types.StateFileRef, error) {
	if settled(src, dst) {
		return dst, nil
	}
	return e.collaborate(src, dst, nil)
}

// ThreeWay uses the ancestor to tell a one-sided change from a conflict.
type ThreeWay struct{}

func (ThreeWay) Mode() string { return "three_way" }

func (ThreeWay) Resolve(e *Engine, src, dst types.StateFileRef, ancestor types.StateFileSet) (types.StateFileRef, error) {
	if settled(src, dst) {
		return dst, nil
	}
	a, ok := ancestor.Find(dst)
	if !ok {
		return TwoWay{}.Resolve(e, src, dst, nil)
	}
	switch {
	case dst.HashRef == a.HashRef:
		return src, nil
	case src.HashRef == a.HashRef:
		return dst, nil
	}
	return e.collaborate(src, dst, &a)
}
