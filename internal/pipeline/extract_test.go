package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalSourceSkipsExisting(t *testing.T) {
	in := t.TempDir()
	raw := filepath.Join(t.TempDir(), "raw")
	require.NoError(t, os.MkdirAll(raw, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(in, "a.jpg"), []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "b.PNG"), []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "c.gif"), []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(raw, "a.jpg"), []byte("old"), 0o644))

	n, err := NewLocalSource(in, zap.NewNop()).Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(filepath.Join(raw, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data), "existing raw files are not overwritten")

	_, err = os.Stat(filepath.Join(raw, "b.PNG"))
	assert.NoError(t, err)
}

type fakeObjectStore struct {
	objects []minio.ObjectInfo
	fetched []string
	getErr  error
}

func (f *fakeObjectStore) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(f.objects))
	for _, o := range f.objects {
		ch <- o
	}
	close(ch)
	return ch
}

func (f *fakeObjectStore) FGetObject(ctx context.Context, bucket, object, filePath string, opts minio.GetObjectOptions) error {
	if f.getErr != nil {
		return f.getErr
	}
	f.fetched = append(f.fetched, object)
	return os.WriteFile(filePath, []byte(object), 0o644)
}

func TestS3SourceDownloadsImages(t *testing.T) {
	raw := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(raw, "seen.jpg"), []byte("x"), 0o644))

	store := &fakeObjectStore{objects: []minio.ObjectInfo{
		{Key: "batch/2025/new.jpg"},
		{Key: "batch/2025/seen.jpg"},
		{Key: "batch/2025/manifest.json"},
	}}
	n, err := NewS3Source(store, "images", "batch/", zap.NewNop()).Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"batch/2025/new.jpg"}, store.fetched)
}

func TestS3SourceListError(t *testing.T) {
	store := &fakeObjectStore{objects: []minio.ObjectInfo{{Err: errors.New("access denied")}}}
	_, err := NewS3Source(store, "images", "", zap.NewNop()).Extract(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "access denied")
}
