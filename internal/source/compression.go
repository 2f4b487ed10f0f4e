package source

import (
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression identifies a file's compression by suffix.
type Compression int

const (
	None Compression = iota
	Gzip
	Bzip2
	XZ
	Zstd
)

// Extension returns the suffix for c, or "" for None.
func (c Compression) Extension() string {
	switch c {
	case Gzip:
		return ".gz"
	case Bzip2:
		return ".bz2"
	case XZ:
		return ".xz"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

func (c Compression) String() string {
	if c == None {
		return "none"
	}
	return strings.TrimPrefix(c.Extension(), ".")
}

// DetectCompression detects the compression type from a file name.
func DetectCompression(name string) Compression {
	name = strings.ToLower(name)
	switch {
	case strings.HasSuffix(name, ".gz"):
		return Gzip
	case strings.HasSuffix(name, ".bz2"):
		return Bzip2
	case strings.HasSuffix(name, ".xz"):
		return XZ
	case strings.HasSuffix(name, ".zst"):
		return Zstd
	default:
		return None
	}
}

// readCloser closes the decompressor and then the raw stream.
type readCloser struct {
	io.Reader
	closers []func() error
}

func (r *readCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decompress wraps raw with a decompressor for c. Closing the result closes raw.
func Decompress(raw io.ReadCloser, c Compression) (io.ReadCloser, error) {
	switch c {
	case None:
		return raw, nil

	case Gzip:
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return &readCloser{Reader: gz, closers: []func() error{gz.Close, raw.Close}}, nil

	case Bzip2:
		return &readCloser{Reader: bzip2.NewReader(raw), closers: []func() error{raw.Close}}, nil

	case XZ:
		xr, err := xz.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("create xz reader: %w", err)
		}
		return &readCloser{Reader: xr, closers: []func() error{raw.Close}}, nil

	case Zstd:
		dec, err := zstd.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return &readCloser{Reader: dec, closers: []func() error{
			func() error { dec.Close(); return nil },
			raw.Close,
		}}, nil

	default:
		return nil, fmt.Errorf("unsupported compression: %v", c)
	}
}
