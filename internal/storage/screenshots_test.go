package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket, key, contentType string
	body                     []byte
}

type fakeObjects struct {
	exists  bool
	made    []string
	puts    []putCall
	putErr  error
	listing []minio.ObjectInfo
	listed  string
}

func (f *fakeObjects) BucketExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	body, _ := io.ReadAll(r)
	f.puts = append(f.puts, putCall{bucket: bucket, key: key, contentType: opts.ContentType, body: body})
	return minio.UploadInfo{Bucket: bucket, Key: key}, nil
}

func (f *fakeObjects) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.listed = opts.Prefix
	ch := make(chan minio.ObjectInfo, len(f.listing))
	for _, o := range f.listing {
		ch <- o
	}
	close(ch)
	return ch
}

func TestScreenshotStore_Put(t *testing.T) {
	objects := &fakeObjects{}
	store := newScreenshotStore(objects, "diag", "/screenshots/")
	store.now = func() time.Time { return time.Unix(1700000000, 0) }
	campaignID, submissionID := uuid.New(), uuid.New()

	uri, err := store.Put(context.Background(), campaignID, submissionID, []byte{0xff, 0xd8, 0xff})

	require.NoError(t, err)
	require.Len(t, objects.puts, 1)
	want := "screenshots/" + campaignID.String() + "/" + submissionID.String() + "-1700000000.jpg"
	assert.Equal(t, want, objects.puts[0].key)
	assert.Equal(t, "image/jpeg", objects.puts[0].contentType)
	assert.Equal(t, "s3://diag/"+want, uri)
}

func TestScreenshotStore_PutPNG(t *testing.T) {
	objects := &fakeObjects{}
	store := newScreenshotStore(objects, "diag", "shots")

	_, err := store.Put(context.Background(), uuid.New(), uuid.New(), []byte("\x89PNG\r\n"))

	require.NoError(t, err)
	assert.Equal(t, "image/png", objects.puts[0].contentType)
	assert.True(t, strings.HasSuffix(objects.puts[0].key, ".png"))
}

func TestScreenshotStore_PutErrors(t *testing.T) {
	store := newScreenshotStore(&fakeObjects{putErr: errors.New("access denied")}, "diag", "shots")

	_, err := store.Put(context.Background(), uuid.New(), uuid.New(), []byte{1})
	assert.ErrorContains(t, err, "access denied")

	_, err = store.Put(context.Background(), uuid.New(), uuid.New(), nil)
	assert.Error(t, err)
}

func TestScreenshotStore_EnsureBucket(t *testing.T) {
	objects := &fakeObjects{}
	store := newScreenshotStore(objects, "diag", "shots")
	require.NoError(t, store.EnsureBucket(context.Background()))
	assert.Equal(t, []string{"diag"}, objects.made)

	objects = &fakeObjects{exists: true}
	store = newScreenshotStore(objects, "diag", "shots")
	require.NoError(t, store.EnsureBucket(context.Background()))
	assert.Empty(t, objects.made)
}

func TestScreenshotStore_Health(t *testing.T) {
	store := newScreenshotStore(&fakeObjects{exists: true}, "diag", "shots")
	assert.NoError(t, store.Health(context.Background()))

	store = newScreenshotStore(&fakeObjects{}, "diag", "shots")
	assert.ErrorContains(t, store.Health(context.Background()), "diag")
}

func TestScreenshotStore_List(t *testing.T) {
	campaignID := uuid.New()
	objects := &fakeObjects{listing: []minio.ObjectInfo{{Key: "a.jpg"}, {Key: "b.jpg"}}}
	store := newScreenshotStore(objects, "diag", "shots")

	keys, err := store.List(context.Background(), campaignID)

	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, keys)
	assert.Equal(t, "shots/"+campaignID.String()+"/", objects.listed)

	objects.listing = []minio.ObjectInfo{{Err: errors.New("timeout")}}
	_, err = store.List(context.Background(), campaignID)
	assert.Error(t, err)
}
