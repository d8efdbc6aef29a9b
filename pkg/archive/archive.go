// Package archive writes and reads xz compressed tar streams of pod state.
//
// A state archive holds the materialized files of one Version, laid out as
// <service>/<region>/<relPath>/<fileName>. A version-space archive holds the
// raw object store entries and the KNOWN list of a pod and is used to sync
// pods.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/i5heu/ouroboros-pods/pkg/objectStore"
	"github.com/i5heu/ouroboros-pods/pkg/types"
	"github.com/ulikunitz/xz"
)

const (
	entriesDir  = "entries"
	knownMember = "refs/known"
)

type BlobReader interface {
	GetBlob(h types.Hash) ([]byte, error)
}

// File is one regular file of a state archive.
type File struct {
	Path string
	Data []byte
}

// StatePath is the archive path of a state file.
func StatePath(ref types.StateFileRef) string {
	return path.Join(ref.Service, ref.Region, ref.RelPath, ref.FileName)
}

// WriteStateArchive writes the payloads of files to w, sorted by path.
func WriteStateArchive(ctx context.Context, w io.Writer, files types.StateFileSet, blobs BlobReader) error {
	return write(w, func(tw *tar.Writer) error {
		for _, ref := range files.Sorted() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := blobs.GetBlob(ref.HashRef)
			if err != nil {
				return fmt.Errorf("error loading %s: %w", ref, err)
			}
			if err := writeFile(tw, StatePath(ref), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func ReadStateArchive(ctx context.Context, r io.Reader) ([]File, error) {
	var files []File
	err := read(r, func(name string, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		files = append(files, File{Path: name, Data: data})
		return nil
	})
	return files, err
}

// VersionSpace is the content of a version-space archive.
type VersionSpace struct {
	Entries []objectStore.Entry
	// Known is the KNOWN list of the exporting pod. It is empty for archives
	// that were written without one.
	Known []types.VersionRef
}

// WriteVersionSpace writes raw object store entries and the KNOWN list to w.
func WriteVersionSpace(ctx context.Context, w io.Writer, space VersionSpace) error {
	return write(w, func(tw *tar.Writer) error {
		if len(space.Known) > 0 {
			if err := writeFile(tw, knownMember, encodeKnown(space.Known)); err != nil {
				return err
			}
		}
		for _, e := range space.Entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := writeFile(tw, path.Join(entriesDir, string(e.Key)), e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func ReadVersionSpace(ctx context.Context, r io.Reader) (VersionSpace, error) {
	var space VersionSpace
	err := read(r, func(name string, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == knownMember {
			known, err := decodeKnown(data)
			if err != nil {
				return err
			}
			space.Known = known
			return nil
		}
		key, ok := strings.CutPrefix(name, entriesDir+"/")
		if !ok || key == "" {
			return fmt.Errorf("unexpected archive member %q", name)
		}
		space.Entries = append(space.Entries, objectStore.Entry{Key: []byte(key), Value: data})
		return nil
	})
	return space, err
}

// encodeKnown writes one "<number> <hash>" line per reference.
func encodeKnown(known []types.VersionRef) []byte {
	var b strings.Builder
	for _, ref := range known {
		fmt.Fprintf(&b, "%d %s\n", ref.VersionNumber, ref.Hash)
	}
	return []byte(b.String())
}

func decodeKnown(data []byte) ([]types.VersionRef, error) {
	var known []types.VersionRef
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		number, hash, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("malformed known reference %q", line)
		}
		n, err := strconv.ParseUint(number, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed version number %q: %w", number, err)
		}
		h, err := types.HashFromString(hash)
		if err != nil {
			return nil, err
		}
		known = append(known, types.VersionRef{VersionNumber: n, Hash: h})
	}
	return known, nil
}

func write(w io.Writer, body func(tw *tar.Writer) error) error {
	xzWriter, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("error creating xz writer: %w", err)
	}
	tw := tar.NewWriter(xzWriter)

	if err := body(tw); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("error closing tar writer: %w", err)
	}
	if err := xzWriter.Close(); err != nil {
		return fmt.Errorf("error closing xz writer: %w", err)
	}
	return nil
}

func writeFile(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  time.Unix(0, 0),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("error writing header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("error writing %s: %w", name, err)
	}
	return nil
}

func read(r io.Reader, visit func(name string, data []byte) error) error {
	xzReader, err := xz.NewReader(r)
	if err != nil {
		return fmt.Errorf("error creating xz reader: %w", err)
	}
	tr := tar.NewReader(xzReader)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("error reading %s: %w", header.Name, err)
		}
		if err := visit(header.Name, data); err != nil {
			return err
		}
	}
}
