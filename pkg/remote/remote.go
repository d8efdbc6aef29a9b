// Package remote moves the version space of a pod between stores as
// version-space archives.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/i5heu/ouroboros-pods/pkg/archive"
	"github.com/i5heu/ouroboros-pods/pkg/objectStore"
	"github.com/i5heu/ouroboros-pods/pkg/revisionGraph"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/sirupsen/logrus"
)

type Config struct {
	User   string
	Logger *logrus.Logger
}

type Remote struct {
	graph *revisionGraph.Graph
	user  string
	log   *logrus.Logger
}

func New(graph *revisionGraph.Graph, config Config) *Remote {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	return &Remote{graph: graph, user: config.User, log: config.Logger}
}

// MergeResult summarizes what a merge brought into the local pod.
type MergeResult struct {
	Imported   int
	Registered []types.VersionRef
	// Conflicts are remote Versions whose number is already taken locally by
	// a different Version. They are stored but not registered.
	Conflicts []types.VersionRef
}

// Export writes every object store entry and the KNOWN list of the pod to w.
func (r *Remote) Export(ctx context.Context, w io.Writer) error {
	entries, err := r.graph.Store().ExportEntries()
	if err != nil {
		return err
	}
	known, err := r.graph.Refs().LoadVersionReferences()
	if err != nil {
		return fmt.Errorf("error loading known versions: %w", err)
	}
	if err := archive.WriteVersionSpace(ctx, w, archive.VersionSpace{Entries: entries, Known: known}); err != nil {
		return fmt.Errorf("error writing version space: %w", err)
	}
	r.log.WithFields(logrus.Fields{
		"entries": len(entries),
		"known":   len(known),
	}).Debug("Exported version space")
	return nil
}

// InitRemote fills an empty pod from a version-space archive. KNOWN is taken
// over from the archive and HEAD and MAX point at its highest Version. The
// references are written in one transaction after every entry was imported.
func (r *Remote) InitRemote(ctx context.Context, src io.Reader) (types.Version, error) {
	initialized, err := r.graph.Refs().Initialized()
	if err != nil {
		return types.Version{}, err
	}
	if initialized {
		return types.Version{}, types.ErrPodExists
	}

	space, err := r.read(ctx, src)
	if err != nil {
		return types.Version{}, err
	}
	if len(space.known) == 0 {
		return types.Version{}, fmt.Errorf("version space contains no versions: %w", types.ErrNotFound)
	}

	imported, err := r.graph.Store().ImportEntries(space.entries)
	if err != nil {
		return types.Version{}, fmt.Errorf("error importing version space: %w", err)
	}

	head, err := r.graph.Restore(space.known, r.user)
	if err != nil {
		return types.Version{}, fmt.Errorf("error registering versions: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"entries":  imported,
		"versions": len(space.known),
		"head":     head.VersionNumber,
	}).Info("Initialized pod from remote")
	return head, nil
}

// MergeFromRemote imports the entries missing locally and registers remote
// Versions whose number is not known yet. MAX moves when a higher number
// arrives; HEAD stays.
func (r *Remote) MergeFromRemote(ctx context.Context, src io.Reader) (MergeResult, error) {
	var result MergeResult

	space, err := r.read(ctx, src)
	if err != nil {
		return result, err
	}

	result.Imported, err = r.graph.Store().ImportEntries(space.entries)
	if err != nil {
		return result, fmt.Errorf("error importing version space: %w", err)
	}

	maxRef, err := r.graph.Refs().Max()
	if err != nil {
		return result, fmt.Errorf("error loading max version: %w", err)
	}

	batch := r.graph.Store().NewBatch()
	newMax := maxRef
	for _, ref := range space.known {
		known, err := r.graph.Refs().Lookup(ref.VersionNumber)
		switch {
		case err == nil && known == ref.Hash:
			continue
		case err == nil:
			r.log.WithFields(logrus.Fields{
				"version": ref.VersionNumber,
				"local":   known.Short(),
				"remote":  ref.Hash.Short(),
			}).Warn("Remote version number already taken locally")
			result.Conflicts = append(result.Conflicts, ref)
			continue
		case !errors.Is(err, types.ErrNotFound):
			return result, err
		}

		r.graph.Refs().StageKnown(batch.KV(), ref)
		result.Registered = append(result.Registered, ref)
		if ref.VersionNumber > newMax.VersionNumber {
			newMax = ref
		}
	}
	if newMax != maxRef {
		r.graph.Refs().StageMax(batch.KV(), newMax)
	}
	if err := r.graph.Store().Commit(batch); err != nil {
		return MergeResult{Imported: result.Imported}, fmt.Errorf("error registering versions: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"entries":    result.Imported,
		"registered": len(result.Registered),
		"conflicts":  len(result.Conflicts),
		"max":        newMax.VersionNumber,
	}).Info("Merged version space from remote")
	return result, nil
}

type versionSpace struct {
	entries []objectStore.Entry
	// known holds one reference per version number, highest first.
	known []types.VersionRef
}

// read decodes an archive and checks that its KNOWN list points at Versions
// the archive carries.
func (r *Remote) read(ctx context.Context, src io.Reader) (versionSpace, error) {
	space, err := archive.ReadVersionSpace(ctx, src)
	if err != nil {
		return versionSpace{}, fmt.Errorf("error reading version space: %w", err)
	}
	versions, err := objectStore.VersionsIn(space.Entries)
	if err != nil {
		return versionSpace{}, err
	}

	known := space.Known
	if len(known) == 0 {
		known = lineage(versions)
	}

	byHash := make(map[types.Hash]types.Version, len(versions))
	for _, v := range versions {
		byHash[v.HashRef] = v
	}
	numbers := make(map[uint64]struct{}, len(known))
	for _, ref := range known {
		v, ok := byHash[ref.Hash]
		if !ok || v.VersionNumber != ref.VersionNumber {
			return versionSpace{}, fmt.Errorf("known version %d (%s) is not in the archive: %w",
				ref.VersionNumber, ref.Hash.Short(), types.ErrCorruptGraph)
		}
		if _, dup := numbers[ref.VersionNumber]; dup {
			return versionSpace{}, fmt.Errorf("version %d listed twice: %w", ref.VersionNumber, types.ErrVersionNumberInvalid)
		}
		numbers[ref.VersionNumber] = struct{}{}
	}

	known = append([]types.VersionRef(nil), known...)
	sort.Slice(known, func(i, j int) bool {
		return known[i].VersionNumber > known[j].VersionNumber
	})
	return versionSpace{entries: space.Entries, known: known}, nil
}

// lineage picks one Version per number for archives without a KNOWN list by
// following ParentPtr down from the highest Version. Ties on the highest
// number go to the smallest hash.
func lineage(versions []types.Version) []types.VersionRef {
	if len(versions) == 0 {
		return nil
	}
	sorted := append([]types.Version(nil), versions...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].VersionNumber != sorted[j].VersionNumber {
			return sorted[i].VersionNumber > sorted[j].VersionNumber
		}
		return sorted[i].HashRef.String() < sorted[j].HashRef.String()
	})

	byHash := make(map[types.Hash]types.Version, len(sorted))
	for _, v := range sorted {
		byHash[v.HashRef] = v
	}

	var known []types.VersionRef
	seen := make(map[uint64]struct{})
	for v, ok := sorted[0], true; ok; v, ok = byHash[v.ParentPtr] {
		if _, dup := seen[v.VersionNumber]; dup {
			break
		}
		seen[v.VersionNumber] = struct{}{}
		known = append(known, types.VersionRef{VersionNumber: v.VersionNumber, Hash: v.HashRef})
		if v.ParentPtr.IsNil() {
			break
		}
	}
	return known
}
