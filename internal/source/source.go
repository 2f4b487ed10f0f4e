// Package source locates and opens export files by file type.
//
// Files are named <prefix><FILE_TYPE>.TXT and may carry a compression
// suffix (.gz, .bz2, .xz, .zst). They can live in a local directory or an
// S3-compatible bucket.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when no file exists for a file type.
var ErrNotFound = errors.New("source file not found")

// dataExt is the extension of uncompressed export files.
const dataExt = ".TXT"

// Info describes one file in a source.
type Info struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Source is a flat namespace of files.
type Source interface {
	// Open returns the raw (possibly compressed) contents of name.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Stat returns ErrNotFound if name does not exist.
	Stat(ctx context.Context, name string) (Info, error)
	// List returns every file whose name starts with prefix, sorted by name.
	List(ctx context.Context, prefix string) ([]Info, error)
	// Location describes where files come from, for logs.
	Location() string
}

// FileName returns the uncompressed export name for a file type.
func FileName(prefix, fileType string) string {
	return prefix + fileType + dataExt
}

// candidates lists the names tried for a file type, uncompressed first.
func candidates(prefix, fileType string) []string {
	base := FileName(prefix, fileType)
	names := []string{base}
	for _, c := range []Compression{Gzip, Bzip2, XZ, Zstd} {
		names = append(names, base+c.Extension())
	}
	return names
}

// Locate finds the file for fileType, trying the plain name and then each
// compressed variant. It agrees with Discover: any name Discover reports for
// fileType is found.
func Locate(ctx context.Context, src Source, prefix, fileType string) (Info, error) {
	for _, name := range candidates(prefix, fileType) {
		info, err := src.Stat(ctx, name)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Info{}, fmt.Errorf("stat %s: %w", name, err)
		}
	}

	// Names such as APPR_INFO.txt or APPR_INFO.TXT.GZ only show up in a listing.
	avail, err := Discover(ctx, src, prefix)
	if err != nil {
		return Info{}, err
	}
	for _, a := range avail {
		if a.FileType == fileType {
			return a.File, nil
		}
	}
	return Info{}, fmt.Errorf("%w: %s in %s", ErrNotFound, FileName(prefix, fileType), src.Location())
}

// OpenFile locates fileType and returns a decompressed stream with its Info.
func OpenFile(ctx context.Context, src Source, prefix, fileType string) (io.ReadCloser, Info, error) {
	info, err := Locate(ctx, src, prefix, fileType)
	if err != nil {
		return nil, Info{}, err
	}

	raw, err := src.Open(ctx, info.Name)
	if err != nil {
		return nil, Info{}, fmt.Errorf("open %s: %w", info.Name, err)
	}

	rc, err := Decompress(raw, DetectCompression(info.Name))
	if err != nil {
		_ = raw.Close()
		return nil, Info{}, fmt.Errorf("open %s: %w", info.Name, err)
	}
	return rc, info, nil
}

// Available is a file type found in a source.
type Available struct {
	FileType string `json:"fileType"`
	File     Info   `json:"file"`
}

// Discover lists the file types present in src for prefix. When a type has
// several variants the uncompressed one wins.
func Discover(ctx context.Context, src Source, prefix string) ([]Available, error) {
	files, err := src.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", src.Location(), err)
	}

	found := make(map[string]Available)
	for _, f := range files {
		fileType, compressed, ok := parseName(prefix, f.Name)
		if !ok {
			continue
		}
		if prev, seen := found[fileType]; seen && (compressed || DetectCompression(prev.File.Name) == None) {
			continue
		}
		found[fileType] = Available{FileType: fileType, File: f}
	}

	out := make([]Available, 0, len(found))
	for _, a := range found {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileType < out[j].FileType })
	return out, nil
}

// parseName extracts the file type from <prefix><TYPE>.TXT[.ext].
func parseName(prefix, name string) (fileType string, compressed bool, ok bool) {
	if !strings.HasPrefix(name, prefix) {
		return "", false, false
	}
	rest := strings.TrimPrefix(name, prefix)

	c := DetectCompression(rest)
	if c != None {
		rest = rest[:len(rest)-len(c.Extension())]
		compressed = true
	}
	if len(rest) <= len(dataExt) || !strings.EqualFold(rest[len(rest)-len(dataExt):], dataExt) {
		return "", false, false
	}
	return rest[:len(rest)-len(dataExt)], compressed, true
}
