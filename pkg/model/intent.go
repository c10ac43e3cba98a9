package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidIntent = goerr.New("invalid intent")
)

// Intent is the classified purpose of a user turn
type Intent string

const (
	IntentChat         Intent = "CHAT"
	IntentSearch       Intent = "SEARCH"
	IntentImageGen     Intent = "IMAGE_GEN"
	IntentImageAnalyze Intent = "IMAGE_ANALYZE"
	IntentImageEdit    Intent = "IMAGE_EDIT"
)

// Intents returns every known intent
func Intents() []Intent {
	return []Intent{
		IntentChat,
		IntentSearch,
		IntentImageGen,
		IntentImageAnalyze,
		IntentImageEdit,
	}
}

// Validate checks if the intent is one of the known values
func (i Intent) Validate() error {
	switch i {
	case IntentChat, IntentSearch, IntentImageGen, IntentImageAnalyze, IntentImageEdit:
		return nil
	default:
		return goerr.Wrap(ErrInvalidIntent, "unknown intent", goerr.V("intent", string(i)))
	}
}

// RequiresImage reports whether the intent operates on an attached image
func (i Intent) RequiresImage() bool {
	return i == IntentImageAnalyze || i == IntentImageEdit
}

// ParseIntent converts a raw model output into an Intent. Surrounding
// whitespace is ignored, but the literal must match exactly.
func ParseIntent(s string) (Intent, error) {
	intent := Intent(strings.TrimSpace(s))
	if err := intent.Validate(); err != nil {
		return "", err
	}
	return intent, nil
}
