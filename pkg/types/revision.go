package types

import (
	"bytes"
	"crypto/sha512"
)

// Commit records that the revision at TailPtr was sealed and work continues at
// HeadPtr (the next open revision, or the Version a push produced).
type Commit struct {
	TailPtr     Hash
	HeadPtr     Hash
	Message     string
	DeltaLogPtr string
}

// Revision is the stored form of one link in a Version's chain of edits.
// Code outside the storage layer works with OpenRevision and SealedRevision.
type Revision struct {
	HashRef        Hash
	ParentPtr      Hash
	Creator        string
	RID            string
	RevisionNumber uint64
	StateFiles     StateFileSet
	AssocCommit    *Commit
	Sealed         bool
}

// ContentHash covers state files, parent, creator, rid and revision number.
// The commit link and the key itself are not part of it.
func (r Revision) ContentHash() Hash {
	var buffer bytes.Buffer
	r.StateFiles.writeTo(&buffer)
	buffer.Write(r.ParentPtr[:])
	writeString(&buffer, r.Creator)
	writeString(&buffer, r.RID)
	writeUint64(&buffer, r.RevisionNumber)
	return sha512.Sum512(buffer.Bytes())
}

func (r Revision) IsRoot() bool {
	return r.ParentPtr.IsNil()
}

// OpenRevision is the expansion point: mutable and keyed by a provisional hash.
type OpenRevision struct {
	node Revision
}

func NewOpenRevision(parent Hash, creator string, revisionNumber uint64) OpenRevision {
	return OpenRevision{node: Revision{
		HashRef:        RandomHash(),
		ParentPtr:      parent,
		Creator:        creator,
		RID:            ShortUID(),
		RevisionNumber: revisionNumber,
		StateFiles:     NewStateFileSet(),
	}}
}

// AsOpen wraps a stored node; it fails for sealed or committed revisions.
func AsOpen(r Revision) (OpenRevision, error) {
	if r.Sealed || r.AssocCommit != nil {
		return OpenRevision{}, ErrRevisionSealed
	}
	if r.StateFiles == nil {
		r.StateFiles = NewStateFileSet()
	}
	return OpenRevision{node: r}, nil
}

func (o OpenRevision) Key() Hash                { return o.node.HashRef }
func (o OpenRevision) ParentPtr() Hash          { return o.node.ParentPtr }
func (o OpenRevision) Creator() string          { return o.node.Creator }
func (o OpenRevision) RID() string              { return o.node.RID }
func (o OpenRevision) RevisionNumber() uint64   { return o.node.RevisionNumber }
func (o OpenRevision) StateFiles() StateFileSet { return o.node.StateFiles.Clone() }
func (o OpenRevision) Node() Revision           { return o.node }

// AttachStateFile replaces a congruent state file or adds a new one.
func (o *OpenRevision) AttachStateFile(ref StateFileRef) {
	o.node.StateFiles.Put(ref)
}

// Seal freezes the revision under its content hash.
func (o OpenRevision) Seal() SealedRevision {
	node := o.node
	node.StateFiles = node.StateFiles.Clone()
	node.HashRef = node.ContentHash()
	node.Sealed = true
	return SealedRevision{node: node}
}

// SealedRevision is immutable content addressed by its content hash. Only the
// commit link to the following node may change.
type SealedRevision struct {
	node Revision
}

// AsSealed wraps a stored node that was sealed before.
func AsSealed(r Revision) (SealedRevision, bool) {
	if !r.Sealed {
		return SealedRevision{}, false
	}
	return SealedRevision{node: r}, true
}

func (s SealedRevision) Hash() Hash               { return s.node.HashRef }
func (s SealedRevision) ParentPtr() Hash          { return s.node.ParentPtr }
func (s SealedRevision) Creator() string          { return s.node.Creator }
func (s SealedRevision) RID() string              { return s.node.RID }
func (s SealedRevision) RevisionNumber() uint64   { return s.node.RevisionNumber }
func (s SealedRevision) StateFiles() StateFileSet { return s.node.StateFiles.Clone() }

func (s SealedRevision) Commit() (Commit, bool) {
	if s.node.AssocCommit == nil {
		return Commit{}, false
	}
	return *s.node.AssocCommit, true
}

func (s SealedRevision) Node() Revision {
	node := s.node
	if node.AssocCommit != nil {
		c := *node.AssocCommit
		node.AssocCommit = &c
	}
	return node
}

// WithCommit returns a copy linked to the given commit.
func (s SealedRevision) WithCommit(c Commit) SealedRevision {
	node := s.node
	node.AssocCommit = &c
	return SealedRevision{node: node}
}

// WithCommitHead moves the head of an existing commit link.
func (s SealedRevision) WithCommitHead(head Hash) SealedRevision {
	c, ok := s.Commit()
	if !ok {
		c = Commit{TailPtr: s.node.HashRef}
	}
	c.HeadPtr = head
	return s.WithCommit(c)
}

// Verify reports whether the key still matches the content.
func (s SealedRevision) Verify() bool {
	return s.node.HashRef == s.node.ContentHash()
}
