package media

import (
	"encoding/base64"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidDataURI = goerr.New("invalid data URI")
)

// FormatDataURI encodes data as a base64 data URI
func FormatDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI splits a base64 data URI into its mime type and decoded payload
func ParseDataURI(uri string) (string, []byte, error) {
	header, payload, ok := strings.Cut(uri, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return "", nil, goerr.Wrap(ErrInvalidDataURI, "missing data URI header")
	}

	// data:<mime>[;<param>=<value>]*;base64
	segments := strings.Split(strings.TrimPrefix(header, "data:"), ";")
	mimeType := segments[0]
	if len(segments) < 2 || segments[len(segments)-1] != "base64" {
		return "", nil, goerr.Wrap(ErrInvalidDataURI, "data URI is not base64 encoded", goerr.V("header", header))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, goerr.Wrap(ErrInvalidDataURI, "failed to decode data URI payload", goerr.V("error", err.Error()))
	}

	return mimeType, data, nil
}
