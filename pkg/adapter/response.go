package adapter

import (
	"strings"

	"google.golang.org/genai"
)

// ResponseText concatenates the text parts of the first candidate, skipping
// thought parts.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	return text.String()
}

// FirstInlineImage returns the first inline image payload of the first
// candidate, or nil if the model produced none.
func FirstInlineImage(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData
		}
	}
	return nil
}

// GroundingChunks returns the grounding chunks attached to the first candidate
func GroundingChunks(resp *genai.GenerateContentResponse) []*genai.GroundingChunk {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	return resp.Candidates[0].GroundingMetadata.GroundingChunks
}
