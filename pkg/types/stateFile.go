package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// PayloadKind tells the merge step whether a state file can be merged
// structurally or has to be replaced as a whole.
type PayloadKind uint8

const (
	Mergeable PayloadKind = iota
	Opaque
)

func (k PayloadKind) String() string {
	switch k {
	case Mergeable:
		return "Mergeable"
	case Opaque:
		return "Opaque"
	}
	return "Unknown"
}

// StateFileRef points to one state file blob in the object store.
type StateFileRef struct {
	HashRef  Hash
	RelPath  string
	FileName string
	Size     int64
	Service  string
	Region   string
	Kind     PayloadKind
}

// Congruent reports whether both refs describe the same logical file,
// ignoring content.
func (s StateFileRef) Congruent(other StateFileRef) bool {
	return s.RelPath == other.RelPath &&
		s.FileName == other.FileName &&
		s.Service == other.Service &&
		s.Region == other.Region
}

// LogicalKey identifies the logical file, equal for congruent refs.
func (s StateFileRef) LogicalKey() string {
	return s.Service + "\x00" + s.Region + "\x00" + s.RelPath + "\x00" + s.FileName
}

func (s StateFileRef) String() string {
	return fmt.Sprintf("%s/%s/%s/%s (%s, %d bytes)", s.Service, s.Region, s.RelPath, s.FileName, s.HashRef.Short(), s.Size)
}

func (s StateFileRef) writeTo(buffer *bytes.Buffer) {
	buffer.Write(s.HashRef[:])
	writeString(buffer, s.RelPath)
	writeString(buffer, s.FileName)
	writeUint64(buffer, uint64(s.Size))
	writeString(buffer, s.Service)
	writeString(buffer, s.Region)
	buffer.WriteByte(byte(s.Kind))
}

// StateFileSet holds at most one ref per logical file.
type StateFileSet map[string]StateFileRef

func NewStateFileSet(refs ...StateFileRef) StateFileSet {
	set := make(StateFileSet, len(refs))
	for _, ref := range refs {
		set.Put(ref)
	}
	return set
}

// Put replaces a congruent entry or adds the ref.
func (s StateFileSet) Put(ref StateFileRef) {
	s[ref.LogicalKey()] = ref
}

func (s StateFileSet) Remove(ref StateFileRef) {
	delete(s, ref.LogicalKey())
}

// Find returns the entry congruent to ref.
func (s StateFileSet) Find(ref StateFileRef) (StateFileRef, bool) {
	found, ok := s[ref.LogicalKey()]
	return found, ok
}

func (s StateFileSet) Len() int {
	return len(s)
}

func (s StateFileSet) Clone() StateFileSet {
	clone := make(StateFileSet, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// Equal compares logical files and their content hashes.
func (s StateFileSet) Equal(other StateFileSet) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		o, ok := other[k]
		if !ok || o != v {
			return false
		}
	}
	return true
}

// Sorted returns the refs in a stable order, used for hashing and encoding.
func (s StateFileSet) Sorted() []StateFileRef {
	refs := make([]StateFileRef, 0, len(s))
	for _, ref := range s {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].LogicalKey() != refs[j].LogicalKey() {
			return refs[i].LogicalKey() < refs[j].LogicalKey()
		}
		return bytes.Compare(refs[i].HashRef[:], refs[j].HashRef[:]) < 0
	})
	return refs
}

func (s StateFileSet) writeTo(buffer *bytes.Buffer) {
	refs := s.Sorted()
	writeUint64(buffer, uint64(len(refs)))
	for _, ref := range refs {
		ref.writeTo(buffer)
	}
}

func writeString(buffer *bytes.Buffer, s string) {
	writeUint64(buffer, uint64(len(s)))
	buffer.WriteString(s)
}

func writeUint64(buffer *bytes.Buffer, v uint64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	buffer.Write(b)
}
