// Package binaryCoder encodes graph nodes in the protobuf wire format. The
// field numbers below are the schema; never reuse a removed number.
package binaryCoder

import (
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-pods/pkg/types"
	"google.golang.org/protobuf/encoding/protowire"
)

var errMalformed = errors.New("malformed node encoding")

// StateFileRef
const (
	sfHash protowire.Number = iota + 1
	sfRelPath
	sfFileName
	sfSize
	sfService
	sfRegion
	sfKind
)

// Commit
const (
	cmTail protowire.Number = iota + 1
	cmHead
	cmMessage
	cmDeltaLog
)

// Revision
const (
	rvHash protowire.Number = iota + 1
	rvParent
	rvCreator
	rvRID
	rvNumber
	rvStateFile
	rvCommit
	rvSealed
)

// Version
const (
	vsHash protowire.Number = iota + 1
	vsParent
	vsCreator
	vsComment
	vsActive
	vsOutgoing
	vsIncoming
	vsStateFile
	vsNumber
)

// BlobManifest
const (
	bmSize protowire.Number = iota + 1
	bmChunk
)

// BlobManifest lists the chunks a state file payload was split into.
type BlobManifest struct {
	Size   int64
	Chunks []types.Hash
}

func appendHash(b []byte, num protowire.Number, h types.Hash) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, h[:])
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func encodeStateFile(s types.StateFileRef) []byte {
	var b []byte
	b = appendHash(b, sfHash, s.HashRef)
	b = appendString(b, sfRelPath, s.RelPath)
	b = appendString(b, sfFileName, s.FileName)
	b = appendVarint(b, sfSize, uint64(s.Size))
	b = appendString(b, sfService, s.Service)
	b = appendString(b, sfRegion, s.Region)
	b = appendVarint(b, sfKind, uint64(s.Kind))
	return b
}

func encodeCommit(c types.Commit) []byte {
	var b []byte
	b = appendHash(b, cmTail, c.TailPtr)
	b = appendHash(b, cmHead, c.HeadPtr)
	b = appendString(b, cmMessage, c.Message)
	b = appendString(b, cmDeltaLog, c.DeltaLogPtr)
	return b
}

func RevisionToByte(r types.Revision) []byte {
	var b []byte
	b = appendHash(b, rvHash, r.HashRef)
	b = appendHash(b, rvParent, r.ParentPtr)
	b = appendString(b, rvCreator, r.Creator)
	b = appendString(b, rvRID, r.RID)
	b = appendVarint(b, rvNumber, r.RevisionNumber)
	for _, sf := range r.StateFiles.Sorted() {
		b = appendMessage(b, rvStateFile, encodeStateFile(sf))
	}
	if r.AssocCommit != nil {
		b = appendMessage(b, rvCommit, encodeCommit(*r.AssocCommit))
	}
	b = appendVarint(b, rvSealed, protowire.EncodeBool(r.Sealed))
	return b
}

func VersionToByte(v types.Version) []byte {
	var b []byte
	b = appendHash(b, vsHash, v.HashRef)
	b = appendHash(b, vsParent, v.ParentPtr)
	b = appendString(b, vsCreator, v.Creator)
	b = appendString(b, vsComment, v.Comment)
	b = appendHash(b, vsActive, v.ActiveRevisionPtr)
	for _, o := range v.OutgoingRevisionPtrs {
		b = appendHash(b, vsOutgoing, o)
	}
	b = appendHash(b, vsIncoming, v.IncomingRevisionPtr)
	for _, sf := range v.StateFiles.Sorted() {
		b = appendMessage(b, vsStateFile, encodeStateFile(sf))
	}
	b = appendVarint(b, vsNumber, v.VersionNumber)
	return b
}

func BlobManifestToByte(m BlobManifest) []byte {
	var b []byte
	b = appendVarint(b, bmSize, uint64(m.Size))
	for _, c := range m.Chunks {
		b = appendHash(b, bmChunk, c)
	}
	return b
}

// field is one decoded wire field; only the member matching its type is set.
type field struct {
	num    protowire.Number
	varint uint64
	bytes  []byte
}

func decodeFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				b = b[n:]
				continue
			}
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

func toHash(b []byte) (types.Hash, error) {
	var h types.Hash
	if err := h.HashFromBytes(b); err != nil {
		return h, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return h, nil
}

func decodeStateFile(b []byte) (types.StateFileRef, error) {
	var s types.StateFileRef
	fields, err := decodeFields(b)
	if err != nil {
		return s, err
	}
	for _, f := range fields {
		switch f.num {
		case sfHash:
			if s.HashRef, err = toHash(f.bytes); err != nil {
				return s, err
			}
		case sfRelPath:
			s.RelPath = string(f.bytes)
		case sfFileName:
			s.FileName = string(f.bytes)
		case sfSize:
			s.Size = int64(f.varint)
		case sfService:
			s.Service = string(f.bytes)
		case sfRegion:
			s.Region = string(f.bytes)
		case sfKind:
			s.Kind = types.PayloadKind(f.varint)
		}
	}
	return s, nil
}

func decodeCommit(b []byte) (types.Commit, error) {
	var c types.Commit
	fields, err := decodeFields(b)
	if err != nil {
		return c, err
	}
	for _, f := range fields {
		switch f.num {
		case cmTail:
			if c.TailPtr, err = toHash(f.bytes); err != nil {
				return c, err
			}
		case cmHead:
			if c.HeadPtr, err = toHash(f.bytes); err != nil {
				return c, err
			}
		case cmMessage:
			c.Message = string(f.bytes)
		case cmDeltaLog:
			c.DeltaLogPtr = string(f.bytes)
		}
	}
	return c, nil
}

func ByteToRevision(b []byte) (types.Revision, error) {
	r := types.Revision{StateFiles: types.NewStateFileSet()}
	fields, err := decodeFields(b)
	if err != nil {
		return r, fmt.Errorf("error decoding Revision: %w", err)
	}
	for _, f := range fields {
		switch f.num {
		case rvHash:
			r.HashRef, err = toHash(f.bytes)
		case rvParent:
			r.ParentPtr, err = toHash(f.bytes)
		case rvCreator:
			r.Creator = string(f.bytes)
		case rvRID:
			r.RID = string(f.bytes)
		case rvNumber:
			r.RevisionNumber = f.varint
		case rvStateFile:
			var sf types.StateFileRef
			sf, err = decodeStateFile(f.bytes)
			r.StateFiles.Put(sf)
		case rvCommit:
			var c types.Commit
			c, err = decodeCommit(f.bytes)
			r.AssocCommit = &c
		case rvSealed:
			r.Sealed = protowire.DecodeBool(f.varint)
		}
		if err != nil {
			return r, fmt.Errorf("error decoding Revision: %w", err)
		}
	}
	return r, nil
}

func ByteToVersion(b []byte) (types.Version, error) {
	v := types.Version{StateFiles: types.NewStateFileSet()}
	fields, err := decodeFields(b)
	if err != nil {
		return v, fmt.Errorf("error decoding Version: %w", err)
	}
	for _, f := range fields {
		switch f.num {
		case vsHash:
			v.HashRef, err = toHash(f.bytes)
		case vsParent:
			v.ParentPtr, err = toHash(f.bytes)
		case vsCreator:
			v.Creator = string(f.bytes)
		case vsComment:
			v.Comment = string(f.bytes)
		case vsActive:
			v.ActiveRevisionPtr, err = toHash(f.bytes)
		case vsOutgoing:
			var h types.Hash
			h, err = toHash(f.bytes)
			v.OutgoingRevisionPtrs = append(v.OutgoingRevisionPtrs, h)
		case vsIncoming:
			v.IncomingRevisionPtr, err = toHash(f.bytes)
		case vsStateFile:
			var sf types.StateFileRef
			sf, err = decodeStateFile(f.bytes)
			v.StateFiles.Put(sf)
		case vsNumber:
			v.VersionNumber = f.varint
		}
		if err != nil {
			return v, fmt.Errorf("error decoding Version: %w", err)
		}
	}
	return v, nil
}

func ByteToBlobManifest(b []byte) (BlobManifest, error) {
	var m BlobManifest
	fields, err := decodeFields(b)
	if err != nil {
		return m, fmt.Errorf("error decoding BlobManifest: %w", err)
	}
	for _, f := range fields {
		switch f.num {
		case bmSize:
			m.Size = int64(f.varint)
		case bmChunk:
			h, err := toHash(f.bytes)
			if err != nil {
				return m, fmt.Errorf("error decoding BlobManifest: %w", err)
			}
			m.Chunks = append(m.Chunks, h)
		}
	}
	return m, nil
}
