package fixedwidth

// reader.go turns a raw byte stream into decoded text lines:
//
//   - LookupEncoding resolves layout encoding names to x/text decoders
//   - CountingReader tracks bytes consumed for progress reporting
//   - lineReader strips a leading BOM and enforces a maximum line size

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultMaxLineBytes bounds a single line. Longer lines are dropped.
const DefaultMaxLineBytes = 1 << 20

var errLineTooLong = errors.New("line exceeds maximum length")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// encodingAliases covers names the WHATWG index maps differently than the
// exporting systems mean them.
var encodingAliases = map[string]encoding.Encoding{
	"":           unicode.UTF8,
	"utf8":       unicode.UTF8,
	"utf-8":      unicode.UTF8,
	"latin-1":    charmap.ISO8859_1,
	"latin1":     charmap.ISO8859_1,
	"iso-8859-1": charmap.ISO8859_1,
	"iso8859-1":  charmap.ISO8859_1,
	"cp1252":     charmap.Windows1252,
}

// LookupEncoding resolves an encoding name. Unknown names are an error.
func LookupEncoding(name string) (encoding.Encoding, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if enc, ok := encodingAliases[key]; ok {
		return enc, nil
	}
	if enc, err := htmlindex.Get(key); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(key)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return enc, nil
}

// decodeReader wraps r so it yields UTF-8. Bytes that are invalid in the
// source encoding become U+FFFD rather than errors.
func decodeReader(r io.Reader, enc encoding.Encoding) io.Reader {
	if enc == nil {
		enc = unicode.UTF8
	}
	return transform.NewReader(r, enc.NewDecoder())
}

// CountingReader wraps an io.Reader to track bytes read.
// Progress may be read from another goroutine.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 { return r.read.Load() }

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	p := int(r.read.Load() * 100 / r.Total)
	if p > 100 {
		p = 100
	}
	return p
}

// lineReader yields lines without their terminators.
type lineReader struct {
	r          *bufio.Reader
	max        int
	buf        []byte
	bomChecked bool
}

func newLineReader(r io.Reader, max int) *lineReader {
	if max <= 0 {
		max = DefaultMaxLineBytes
	}
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024), max: max}
}

// next returns the next line. A line longer than max is consumed and
// reported with errLineTooLong so the caller can drop it and continue.
// io.EOF is returned once no lines remain.
func (lr *lineReader) next() (string, error) {
	if !lr.bomChecked {
		lr.bomChecked = true
		if head, _ := lr.r.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
			_, _ = lr.r.Discard(len(utf8BOM))
		}
	}

	lr.buf = lr.buf[:0]
	tooLong := false
	for {
		chunk, err := lr.r.ReadSlice('\n')
		if !tooLong {
			if len(lr.buf)+len(chunk) > lr.max+2 {
				tooLong = true
				lr.buf = lr.buf[:0]
			} else {
				lr.buf = append(lr.buf, chunk...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && (len(lr.buf) > 0 || tooLong) {
				break
			}
			return "", err
		}
		break
	}

	if tooLong {
		return "", errLineTooLong
	}

	line := lr.buf
	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return string(line), nil
}
