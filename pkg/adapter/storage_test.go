package adapter_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mkai/pkg/adapter"
)

func testStorage(t *testing.T, s adapter.Storage) {
	ctx := context.Background()
	key := "test-" + uuid.NewString() + ".json"

	t.Run("missing key returns ErrNotFound", func(t *testing.T) {
		_, err := s.Get(ctx, key)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, adapter.ErrNotFound))
	})

	t.Run("put then get", func(t *testing.T) {
		w, err := s.Put(ctx, key)
		gt.NoError(t, err)
		_, err = w.Write([]byte(`{"hello":"world"}`))
		gt.NoError(t, err)
		gt.NoError(t, w.Close())

		r, err := s.Get(ctx, key)
		gt.NoError(t, err)
		defer r.Close()
		data, err := io.ReadAll(r)
		gt.NoError(t, err)
		gt.Equal(t, string(data), `{"hello":"world"}`)
	})

	t.Run("overwrite replaces content", func(t *testing.T) {
		w, err := s.Put(ctx, key)
		gt.NoError(t, err)
		_, err = w.Write([]byte(`[]`))
		gt.NoError(t, err)
		gt.NoError(t, w.Close())

		r, err := s.Get(ctx, key)
		gt.NoError(t, err)
		defer r.Close()
		data, err := io.ReadAll(r)
		gt.NoError(t, err)
		gt.Equal(t, string(data), `[]`)
	})

	t.Run("delete", func(t *testing.T) {
		gt.NoError(t, s.Delete(ctx, key))
		_, err := s.Get(ctx, key)
		gt.True(t, errors.Is(err, adapter.ErrNotFound))

		// Deleting again is fine
		gt.NoError(t, s.Delete(ctx, key))
	})
}

func TestFileStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s, err := adapter.NewFileStorage(dir)
	gt.NoError(t, err)

	testStorage(t, s)

	info, err := os.Stat(dir)
	gt.NoError(t, err)
	gt.Equal(t, info.Mode().Perm(), os.FileMode(0700))
}

func TestFileStorageUncommittedWrite(t *testing.T) {
	ctx := context.Background()
	s, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	w, err := s.Put(ctx, "pending.json")
	gt.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	gt.NoError(t, err)

	// Not visible until Close
	_, err = s.Get(ctx, "pending.json")
	gt.True(t, errors.Is(err, adapter.ErrNotFound))
	gt.NoError(t, w.Close())

	r, err := s.Get(ctx, "pending.json")
	gt.NoError(t, err)
	gt.NoError(t, r.Close())
}

func TestFileStorageInvalidKey(t *testing.T) {
	ctx := context.Background()
	s, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	for _, key := range []string{"", "..", "../escape", "a/b"} {
		_, err := s.Put(ctx, key)
		gt.Error(t, err)
	}
}

func TestCloudStorage(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	s, err := adapter.NewCloudStorage(context.Background(), bucket, adapter.WithPrefix("mkai-test/"))
	gt.NoError(t, err)

	testStorage(t, s)
}
