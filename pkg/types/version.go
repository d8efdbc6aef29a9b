package types

import (
	"bytes"
	"crypto/sha512"
	"fmt"
	"sort"
	"time"
)

// Version is a numbered snapshot of the pod state.
type Version struct {
	HashRef              Hash
	ParentPtr            Hash
	Creator              string
	Comment              string
	ActiveRevisionPtr    Hash
	OutgoingRevisionPtrs []Hash
	IncomingRevisionPtr  Hash
	StateFiles           StateFileSet
	VersionNumber        uint64
}

// ContentHash is computed once when the Version is created and stays its key.
func (v Version) ContentHash() Hash {
	var buffer bytes.Buffer
	writeUint64(&buffer, v.VersionNumber)
	buffer.Write(v.ParentPtr[:])
	writeString(&buffer, v.Creator)
	writeString(&buffer, v.Comment)
	buffer.Write(v.IncomingRevisionPtr[:])
	v.StateFiles.writeTo(&buffer)
	return sha512.Sum512(buffer.Bytes())
}

func (v Version) HasOpenChain() bool {
	return !v.ActiveRevisionPtr.IsNil()
}

// AddOutgoing records a revision chain that started from this Version.
func (v *Version) AddOutgoing(h Hash) {
	for _, o := range v.OutgoingRevisionPtrs {
		if o == h {
			return
		}
	}
	v.OutgoingRevisionPtrs = append(v.OutgoingRevisionPtrs, h)
}

// ReplaceOutgoing swaps a provisional revision key for its sealed one.
func (v *Version) ReplaceOutgoing(old, new Hash) {
	for i, o := range v.OutgoingRevisionPtrs {
		if o == old {
			v.OutgoingRevisionPtrs[i] = new
			return
		}
	}
	v.OutgoingRevisionPtrs = append(v.OutgoingRevisionPtrs, new)
}

func (v Version) Info() string {
	return fmt.Sprintf("Version-%d (%s) by %s: %q, %d state files", v.VersionNumber, v.HashRef.Short(), v.Creator, v.Comment, v.StateFiles.Len())
}

// VersionRef is one entry of the KNOWN list.
type VersionRef struct {
	VersionNumber uint64
	Hash          Hash
}

// SortVersionRefs orders refs by version number descending and drops
// duplicate numbers, keeping the last one seen.
func SortVersionRefs(refs []VersionRef) []VersionRef {
	byNumber := make(map[uint64]Hash, len(refs))
	for _, ref := range refs {
		byNumber[ref.VersionNumber] = ref.Hash
	}
	result := make([]VersionRef, 0, len(byNumber))
	for number, h := range byNumber {
		result = append(result, VersionRef{VersionNumber: number, Hash: h})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].VersionNumber > result[j].VersionNumber
	})
	return result
}

// VersionLogEntry is one line of the commit history log.
type VersionLogEntry struct {
	Author         string    `json:"author"`
	VersionNumber  uint64    `json:"versionNumber"`
	RevisionID     string    `json:"revisionId"`
	RevisionNumber uint64    `json:"revisionNumber"`
	Time           time.Time `json:"time"`
}

// StateFileChange is a logical file whose content hash differs between two states.
type StateFileChange struct {
	From StateFileRef `json:"from"`
	To   StateFileRef `json:"to"`
}

// DeltaLog is the persisted difference between two snapshots.
type DeltaLog struct {
	Added   []StateFileRef    `json:"added,omitempty"`
	Removed []StateFileRef    `json:"removed,omitempty"`
	Changed []StateFileChange `json:"changed,omitempty"`
}

func (d DeltaLog) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}
