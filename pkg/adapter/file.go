package adapter

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// fileStorage implements Storage on a local directory. Each key is one file;
// writes go to a temp file that is renamed into place on Close.
type fileStorage struct {
	dir string
}

// NewFileStorage creates a Storage rooted at dir. The directory is created
// with owner-only permissions if it does not exist.
func NewFileStorage(dir string) (Storage, error) {
	if dir == "" {
		return nil, goerr.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("dir", dir))
	}
	return &fileStorage{dir: dir}, nil
}

func (s *fileStorage) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", goerr.New("invalid storage key", goerr.V("key", key))
	}
	return filepath.Join(s.dir, key), nil
}

type atomicFile struct {
	*os.File
	target string
	closed bool
}

func (f *atomicFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	if err := f.File.Close(); err != nil {
		_ = os.Remove(f.File.Name())
		return goerr.Wrap(err, "failed to close temp file", goerr.V("path", f.File.Name()))
	}
	if err := os.Rename(f.File.Name(), f.target); err != nil {
		_ = os.Remove(f.File.Name())
		return goerr.Wrap(err, "failed to commit file", goerr.V("path", f.target))
	}
	return nil
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create temp file", goerr.V("key", key))
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, goerr.Wrap(err, "failed to set file permission", goerr.V("key", key))
	}

	return &atomicFile{File: tmp, target: target}, nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, goerr.Wrap(ErrNotFound, "file does not exist", goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open file", goerr.V("key", key))
	}
	return f, nil
}

func (s *fileStorage) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return goerr.Wrap(err, "failed to delete file", goerr.V("key", key))
	}
	return nil
}
