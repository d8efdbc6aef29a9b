package pods

import (
	"fmt"

	"github.com/i5heu/ouroboros-pods/pkg/types"
)

func (p *Pod) GetHead() (types.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.Head()
}

func (p *Pod) GetMaxVersion() (types.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.MaxVersion()
}

func (p *Pod) GetVersionByNumber(versionNumber uint64) (types.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.VersionByNumber(versionNumber)
}

// LoadVersionReferences returns all known Versions, highest number first.
func (p *Pod) LoadVersionReferences() ([]types.VersionRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.Refs().LoadVersionReferences()
}

// ListVersions describes every known Version, highest number first.
func (p *Pod) ListVersions() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	refs, err := p.graph.Refs().LoadVersionReferences()
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(refs))
	for _, ref := range refs {
		v, err := p.store.GetVersion(ref.Hash)
		if err != nil {
			return nil, fmt.Errorf("error loading version %d: %w", ref.VersionNumber, err)
		}
		result = append(result, v.Info())
	}
	return result, nil
}

// CommitInfo describes one commit on the path that produced a Version.
type CommitInfo struct {
	From        string
	To          string
	Revision    types.Hash
	Message     string
	DeltaLogPtr string
}

func (c CommitInfo) String() string {
	return fmt.Sprintf("%s -> %s (%s): %q, delta log %s", c.From, c.To, c.Revision.Short(), c.Message, c.DeltaLogPtr)
}

// ListVersionCommits lists the commits of the chain that produced the given
// Version, newest first.
func (p *Pod) ListVersionCommits(versionNumber uint64) ([]CommitInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, err := p.graph.VersionByNumber(versionNumber)
	if err != nil {
		return nil, err
	}
	history, err := p.graph.History(v)
	if err != nil {
		return nil, err
	}

	// the chain root was started from whatever Version HEAD was at the time
	rootFrom := "Empty state"
	if len(history) > 0 {
		origin, ok, err := p.graph.ChainOrigin(history[len(history)-1].Hash())
		if err != nil {
			return nil, err
		}
		if ok {
			rootFrom = fmt.Sprintf("Version-%d", origin.VersionNumber)
		}
	}

	result := make([]CommitInfo, 0, len(history))
	for _, sealed := range history {
		commit, ok := sealed.Commit()
		if !ok {
			return nil, fmt.Errorf("revision %s has no commit: %w", sealed.Hash().Short(), types.ErrCorruptGraph)
		}
		n := sealed.RevisionNumber()
		from := rootFrom
		if n != 0 {
			from = fmt.Sprintf("Revision-%d", n-1)
		}
		result = append(result, CommitInfo{
			From:        from,
			To:          fmt.Sprintf("Revision-%d", n),
			Revision:    sealed.Hash(),
			Message:     commit.Message,
			DeltaLogPtr: commit.DeltaLogPtr,
		})
	}
	return result, nil
}

// GetDeltaLog loads the delta log referenced by a commit.
func (p *Pod) GetDeltaLog(id string) (types.DeltaLog, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deltas.Get(id)
}

func (p *Pod) VersionLog() ([]types.VersionLogEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.Refs().VersionLog()
}
