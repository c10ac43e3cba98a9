package model_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mkai/pkg/model"
)

func TestParseIntent(t *testing.T) {
	testCases := []struct {
		input    string
		expected model.Intent
		valid    bool
	}{
		{"CHAT", model.IntentChat, true},
		{"SEARCH", model.IntentSearch, true},
		{"  IMAGE_GEN\n", model.IntentImageGen, true},
		{"IMAGE_ANALYZE", model.IntentImageAnalyze, true},
		{"IMAGE_EDIT", model.IntentImageEdit, true},
		{"chat", "", false},
		{"IMAGE_GEN.", "", false},
		{"", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			intent, err := model.ParseIntent(tc.input)
			if !tc.valid {
				gt.Error(t, err)
				gt.True(t, errors.Is(err, model.ErrInvalidIntent))
				return
			}
			gt.NoError(t, err)
			gt.Equal(t, intent, tc.expected)
		})
	}
}

func TestIntentRequiresImage(t *testing.T) {
	for _, i := range model.Intents() {
		expected := i == model.IntentImageAnalyze || i == model.IntentImageEdit
		gt.Equal(t, i.RequiresImage(), expected)
	}
}
