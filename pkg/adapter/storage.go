package adapter

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/option"
)

var (
	// ErrNotFound is returned by Storage.Get when the key has never been written
	ErrNotFound = goerr.New("object not found")
)

// Storage is a flat key to blob store used for local persistence
type Storage interface {
	// Put returns a writer; the object becomes visible when the writer is closed
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get returns a reader of the object, or ErrNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// cloudStorage implements Storage on a Cloud Storage bucket owned by the user
type cloudStorage struct {
	bucketName string
	prefix     string
	client     *storage.Client
}

type CloudStorageOption func(*cloudStorageConfig)

type cloudStorageConfig struct {
	prefix          string
	credentialsFile string
}

// WithPrefix places every key under the given object name prefix
func WithPrefix(prefix string) CloudStorageOption {
	return func(c *cloudStorageConfig) {
		c.prefix = prefix
	}
}

// WithCredentialsFile authenticates with a service account key file instead
// of application default credentials
func WithCredentialsFile(path string) CloudStorageOption {
	return func(c *cloudStorageConfig) {
		c.credentialsFile = path
	}
}

// NewCloudStorage creates a Storage backed by a Cloud Storage bucket
func NewCloudStorage(ctx context.Context, bucketName string, opts ...CloudStorageOption) (Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	cfg := &cloudStorageConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var clientOpts []option.ClientOption
	if cfg.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &cloudStorage{
		bucketName: bucketName,
		prefix:     cfg.prefix,
		client:     client,
	}, nil
}

func (s *cloudStorage) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucketName).Object(s.prefix + key)
}

func (s *cloudStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	writer := s.object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	return writer, nil
}

func (s *cloudStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, goerr.Wrap(ErrNotFound, "object does not exist", goerr.V("key", key), goerr.V("bucket", s.bucketName))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key), goerr.V("bucket", s.bucketName))
	}

	return reader, nil
}

func (s *cloudStorage) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return goerr.Wrap(err, "failed to delete from storage", goerr.V("key", key), goerr.V("bucket", s.bucketName))
	}
	return nil
}
