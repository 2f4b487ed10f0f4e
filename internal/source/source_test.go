package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const prefix = "2025-01-01_APPRAISAL_"

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func xzBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "2025-01-01_APPRAISAL_INFO.TXT", FileName(prefix, "INFO"))
}

func TestDetectCompression(t *testing.T) {
	tests := []struct {
		name string
		want Compression
	}{
		{"A.TXT", None},
		{"A.TXT.gz", Gzip},
		{"A.TXT.GZ", Gzip},
		{"A.TXT.bz2", Bzip2},
		{"A.TXT.xz", XZ},
		{"A.TXT.zst", Zstd},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectCompression(tt.name), tt.name)
	}
}

func TestOpenFileCompressed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, prefix+"AGENT.TXT", []byte("plain\n"))
	writeFile(t, dir, prefix+"ENTITY.TXT.gz", gzipBytes(t, "gzipped\n"))
	writeFile(t, dir, prefix+"INFO.TXT.xz", xzBytes(t, "xz data\n"))
	writeFile(t, dir, prefix+"UDI.TXT.zst", zstdBytes(t, "zstd data\n"))

	src, err := NewDir(dir)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		fileType string
		want     string
	}{
		{"AGENT", "plain\n"},
		{"ENTITY", "gzipped\n"},
		{"INFO", "xz data\n"},
		{"UDI", "zstd data\n"},
	}
	for _, tt := range tests {
		t.Run(tt.fileType, func(t *testing.T) {
			rc, info, err := OpenFile(ctx, src, prefix, tt.fileType)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(info.Name, FileName(prefix, tt.fileType)))
			assert.Equal(t, tt.want, readAll(t, rc))
		})
	}

	_, _, err = OpenFile(ctx, src, prefix, "LAWSUIT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenFileCorruptGzip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, prefix+"AGENT.TXT.gz", []byte("not gzip"))
	src, err := NewDir(dir)
	require.NoError(t, err)

	_, _, err = OpenFile(context.Background(), src, prefix, "AGENT")
	assert.ErrorContains(t, err, "gzip")
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, prefix+"AGENT.TXT", nil)
	writeFile(t, dir, prefix+"AGENT.TXT.gz", gzipBytes(t, ""))
	writeFile(t, dir, prefix+"ENTITY.TXT.gz", gzipBytes(t, ""))
	writeFile(t, dir, prefix+"INFO.txt", nil)
	writeFile(t, dir, prefix+"README.md", nil)
	writeFile(t, dir, "OTHER_AGENT.TXT", nil)
	require.NoError(t, os.Mkdir(filepath.Join(dir, prefix+"DIR.TXT"), 0o755))

	src, err := NewDir(dir)
	require.NoError(t, err)

	got, err := Discover(context.Background(), src, prefix)
	require.NoError(t, err)

	var fileTypes []string
	for _, a := range got {
		fileTypes = append(fileTypes, a.FileType)
	}
	assert.Equal(t, []string{"AGENT", "ENTITY", "INFO"}, fileTypes)
	assert.Equal(t, prefix+"AGENT.TXT", got[0].File.Name, "uncompressed variant wins")
}

func TestLocateMatchesDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, prefix+"INFO.txt", []byte("lower\n"))
	writeFile(t, dir, prefix+"ENTITY.TXT.GZ", gzipBytes(t, "upper gz\n"))

	src, err := NewDir(dir)
	require.NoError(t, err)
	ctx := context.Background()

	avail, err := Discover(ctx, src, prefix)
	require.NoError(t, err)
	require.Len(t, avail, 2)

	for _, a := range avail {
		rc, info, err := OpenFile(ctx, src, prefix, a.FileType)
		require.NoError(t, err, a.FileType)
		assert.Equal(t, a.File.Name, info.Name)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.NotEmpty(t, data)
	}

	_, err = Locate(ctx, src, prefix, "AGENT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewDirMissing(t *testing.T) {
	_, err := NewDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestDirRejectsPaths(t *testing.T) {
	src, err := NewDir(t.TempDir())
	require.NoError(t, err)
	_, err = src.Open(context.Background(), "../etc/passwd")
	assert.Error(t, err)
}

// fakeS3 serves objects from memory, paging List results two at a time.
type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data))), LastModified: aws.Time(time.Unix(0, 0))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := start + 2
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	return out, nil
}

func TestBucketSource(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{
		"exports/" + prefix + "AGENT.TXT":      []byte("agent\n"),
		"exports/" + prefix + "ENTITY.TXT.gz":  gzipBytes(t, "entity\n"),
		"exports/" + prefix + "INFO.TXT":       []byte("info\n"),
		"exports/nested/" + prefix + "UDI.TXT": []byte("udi\n"),
	}}
	src := newBucket(fake, "appraisal", "exports")
	ctx := context.Background()

	assert.Equal(t, "s3://appraisal/exports", src.Location())

	rc, info, err := OpenFile(ctx, src, prefix, "ENTITY")
	require.NoError(t, err)
	assert.Equal(t, prefix+"ENTITY.TXT.gz", info.Name)
	assert.Equal(t, "entity\n", readAll(t, rc))

	got, err := Discover(ctx, src, prefix)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "AGENT", got[0].FileType)
	assert.Equal(t, "INFO", got[2].FileType)

	_, err = src.Stat(ctx, prefix+"LAWSUIT.TXT")
	assert.ErrorIs(t, err, ErrNotFound)
}
