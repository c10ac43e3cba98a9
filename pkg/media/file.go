package media

import (
	"context"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
)

const (
	// MaxImageSize is the largest file accepted as an attachment. Inline
	// request payloads to the model API are limited to 20MB.
	MaxImageSize = 20 * 1024 * 1024

	// DefaultFilename is used by SaveLocally when no name is given
	DefaultFilename = "mk-ai-image.png"
)

var (
	ErrNotImage      = goerr.New("file is not an image")
	ErrImageTooLarge = goerr.New("image exceeds maximum size")
)

// EncodeFile reads a local image file and returns it as a data URI
func EncodeFile(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", goerr.Wrap(err, "failed to stat file", goerr.V("path", path))
	}
	if info.Size() > MaxImageSize {
		return "", goerr.Wrap(ErrImageTooLarge, "attachment is too large", goerr.V("path", path), goerr.V("size", info.Size()))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read file", goerr.V("path", path))
	}

	mimeType := detectImageType(path, data)
	if mimeType == "" {
		return "", goerr.Wrap(ErrNotImage, "unsupported attachment", goerr.V("path", path))
	}

	logging.From(ctx).Debug("encoded attachment", "path", path, "mime", mimeType, "bytes", len(data))
	return FormatDataURI(mimeType, data), nil
}

func detectImageType(path string, data []byte) string {
	if t := http.DetectContentType(data); strings.HasPrefix(t, "image/") {
		return t
	}

	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	t, _, _ = strings.Cut(t, ";")
	if strings.HasPrefix(t, "image/") {
		return t
	}
	return ""
}

// SaveLocally writes the payload of a data URI to filename, or to
// DefaultFilename in the current directory when filename is empty.
func SaveLocally(dataURI, filename string) error {
	if filename == "" {
		filename = DefaultFilename
	}

	_, data, err := ParseDataURI(dataURI)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return goerr.Wrap(err, "failed to save image", goerr.V("path", filename))
	}
	return nil
}
