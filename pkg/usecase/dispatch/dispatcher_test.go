package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mkai/pkg/media"
	"github.com/m-mizutani/mkai/pkg/model"
	"github.com/m-mizutani/mkai/pkg/usecase/dispatch"
	"google.golang.org/genai"
)

type call struct {
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type mockGemini struct {
	textResp  *genai.GenerateContentResponse
	imageResp *genai.GenerateContentResponse
	err       error

	textCalls  []call
	imageCalls []call
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.textCalls = append(m.textCalls, call{contents: contents, config: config})
	if m.err != nil {
		return nil, m.err
	}
	return m.textResp, nil
}

func (m *mockGemini) GenerateImage(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.imageCalls = append(m.imageCalls, call{contents: contents, config: config})
	if m.err != nil {
		return nil, m.err
	}
	return m.imageResp, nil
}

type mockWatermarker struct {
	calls []string
	err   error
}

func (m *mockWatermarker) Watermark(ctx context.Context, dataURI string) (string, error) {
	m.calls = append(m.calls, dataURI)
	if m.err != nil {
		return "", m.err
	}
	return "watermarked:" + dataURI, nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

func imageResponse(mimeType string, data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Role: genai.RoleModel,
					Parts: []*genai.Part{
						{Text: "Here is your image"},
						{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
					},
				},
			},
		},
	}
}

func testPNG(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	gt.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func partTexts(c *genai.Content) []string {
	var texts []string
	for _, p := range c.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return texts
}

func TestImageGen(t *testing.T) {
	ctx := context.Background()

	t.Run("watermarks the generated image", func(t *testing.T) {
		raw := testPNG(t)
		gemini := &mockGemini{imageResp: imageResponse("image/png", raw)}
		wm := &mockWatermarker{}
		d := dispatch.New(gemini, wm)

		result, err := d.Dispatch(ctx, "draw a cat", model.IntentImageGen, "")
		gt.NoError(t, err)

		rawURI := media.FormatDataURI("image/png", raw)
		gt.Equal(t, result.ImageURL, "watermarked:"+rawURI)
		gt.Equal(t, result.Text, "")
		gt.A(t, wm.calls).Length(1)

		gt.A(t, gemini.imageCalls).Length(1)
		gt.A(t, gemini.textCalls).Length(0)
		req := gemini.imageCalls[0]
		gt.Equal(t, partTexts(req.contents[0]), []string{"draw a cat"})
		gt.V(t, req.config.ImageConfig).NotNil()
		gt.Equal(t, req.config.ImageConfig.AspectRatio, "1:1")
	})

	t.Run("empty prompt uses default", func(t *testing.T) {
		gemini := &mockGemini{imageResp: imageResponse("image/png", testPNG(t))}
		d := dispatch.New(gemini, &mockWatermarker{})

		_, err := d.Dispatch(ctx, "", model.IntentImageGen, "")
		gt.NoError(t, err)
		gt.Equal(t, partTexts(gemini.imageCalls[0].contents[0]), []string{dispatch.DefaultImagePrompt})
	})

	t.Run("no inline image is a soft failure", func(t *testing.T) {
		gemini := &mockGemini{imageResp: textResponse("I cannot draw that")}
		wm := &mockWatermarker{}
		d := dispatch.New(gemini, wm)

		result, err := d.Dispatch(ctx, "draw a cat", model.IntentImageGen, "")
		gt.NoError(t, err)
		gt.Equal(t, result.Text, dispatch.GenerationFailedText)
		gt.Equal(t, result.ImageURL, "")
		gt.A(t, wm.calls).Length(0)
	})

	t.Run("real watermark differs from the raw pixels", func(t *testing.T) {
		raw := testPNG(t)
		codec, err := media.New()
		gt.NoError(t, err)
		d := dispatch.New(&mockGemini{imageResp: imageResponse("image/png", raw)}, codec)

		result, err := d.Dispatch(ctx, "red square", model.IntentImageGen, "")
		gt.NoError(t, err)
		gt.S(t, result.ImageURL).HasPrefix("data:image/png;base64,")
		gt.NotEqual(t, result.ImageURL, media.FormatDataURI("image/png", raw))

		expected, err := codec.Watermark(ctx, media.FormatDataURI("image/png", raw))
		gt.NoError(t, err)
		gt.Equal(t, result.ImageURL, expected)
	})

	t.Run("watermark failure propagates", func(t *testing.T) {
		gemini := &mockGemini{imageResp: imageResponse("image/png", []byte("not really png"))}
		d := dispatch.New(gemini, &mockWatermarker{err: goerr.New("decode failed")})

		_, err := d.Dispatch(ctx, "draw", model.IntentImageGen, "")
		gt.Error(t, err)
	})
}

func TestImageEdit(t *testing.T) {
	ctx := context.Background()
	attached := media.FormatDataURI("image/jpeg", []byte("jpeg-bytes"))

	t.Run("sends decoded image and instruction", func(t *testing.T) {
		gemini := &mockGemini{imageResp: imageResponse("image/png", []byte("edited"))}
		d := dispatch.New(gemini, &mockWatermarker{})

		result, err := d.Dispatch(ctx, "remove the background", model.IntentImageEdit, attached)
		gt.NoError(t, err)
		gt.Equal(t, result.ImageURL, "watermarked:"+media.FormatDataURI("image/png", []byte("edited")))

		gt.A(t, gemini.imageCalls).Length(1)
		parts := gemini.imageCalls[0].contents[0].Parts
		gt.A(t, parts).Length(2)
		gt.V(t, parts[0].InlineData).NotNil()
		gt.Equal(t, parts[0].InlineData.MIMEType, "image/jpeg")
		gt.Equal(t, parts[0].InlineData.Data, []byte("jpeg-bytes"))
		gt.Equal(t, parts[1].Text, "remove the background")
	})

	t.Run("empty instruction uses default", func(t *testing.T) {
		gemini := &mockGemini{imageResp: imageResponse("image/png", []byte("edited"))}
		d := dispatch.New(gemini, &mockWatermarker{})

		_, err := d.Dispatch(ctx, "", model.IntentImageEdit, attached)
		gt.NoError(t, err)
		gt.Equal(t, gemini.imageCalls[0].contents[0].Parts[1].Text, dispatch.DefaultEditInstruction)
	})

	t.Run("no inline image is a soft failure", func(t *testing.T) {
		d := dispatch.New(&mockGemini{imageResp: textResponse("nope")}, &mockWatermarker{})

		result, err := d.Dispatch(ctx, "edit it", model.IntentImageEdit, attached)
		gt.NoError(t, err)
		gt.Equal(t, result.Text, dispatch.EditFailedText)
		gt.Equal(t, result.ImageURL, "")
	})

	t.Run("missing image", func(t *testing.T) {
		gemini := &mockGemini{}
		d := dispatch.New(gemini, &mockWatermarker{})

		_, err := d.Dispatch(ctx, "edit it", model.IntentImageEdit, "")
		gt.True(t, errors.Is(err, dispatch.ErrImageRequired))
		gt.A(t, gemini.imageCalls).Length(0)
	})

	t.Run("malformed image", func(t *testing.T) {
		gemini := &mockGemini{}
		d := dispatch.New(gemini, &mockWatermarker{})

		_, err := d.Dispatch(ctx, "edit it", model.IntentImageEdit, "not-a-data-uri")
		gt.True(t, errors.Is(err, media.ErrInvalidDataURI))
		gt.A(t, gemini.imageCalls).Length(0)
	})
}

func TestImageAnalyze(t *testing.T) {
	ctx := context.Background()
	attached := media.FormatDataURI("image/png", []byte("png-bytes"))

	gemini := &mockGemini{textResp: textResponse("A red square.")}
	wm := &mockWatermarker{}
	d := dispatch.New(gemini, wm)

	result, err := d.Dispatch(ctx, "", model.IntentImageAnalyze, attached)
	gt.NoError(t, err)
	gt.Equal(t, result.Text, "A red square.")
	gt.Equal(t, result.ImageURL, "")
	gt.A(t, result.Sources).Length(0)
	gt.A(t, wm.calls).Length(0)

	gt.A(t, gemini.textCalls).Length(1)
	parts := gemini.textCalls[0].contents[0].Parts
	gt.Equal(t, parts[0].InlineData.Data, []byte("png-bytes"))
	gt.Equal(t, parts[1].Text, dispatch.DefaultAnalyzeInstruction)

	_, err = d.Dispatch(ctx, "what is it", model.IntentImageAnalyze, "")
	gt.True(t, errors.Is(err, dispatch.ErrImageRequired))
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	resp := textResponse("Here is today's news.")
	resp.Candidates[0].GroundingMetadata = &genai.GroundingMetadata{
		GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{Title: "Daily News", URI: "https://news.example.com/today"}},
			{Web: &genai.GroundingChunkWeb{Title: "Placeholder", URI: "#"}},
			{Web: &genai.GroundingChunkWeb{URI: "https://untitled.example.com"}},
			{Web: &genai.GroundingChunkWeb{Title: "No URI"}},
			{},
		},
	}

	gemini := &mockGemini{textResp: resp}
	d := dispatch.New(gemini, &mockWatermarker{}, dispatch.WithPersona("You are a test persona."))

	result, err := d.Dispatch(ctx, "what happened today", model.IntentSearch, "")
	gt.NoError(t, err)
	gt.Equal(t, result.Text, "Here is today's news.")
	gt.A(t, result.Sources).Length(2)
	gt.Equal(t, *result.Sources[0], model.Source{Title: "Daily News", URI: "https://news.example.com/today"})
	gt.Equal(t, *result.Sources[1], model.Source{Title: "Source", URI: "https://untitled.example.com"})

	req := gemini.textCalls[0]
	gt.A(t, req.config.Tools).Length(1)
	gt.V(t, req.config.Tools[0].GoogleSearch).NotNil()
	gt.V(t, req.config.SystemInstruction).NotNil()
	gt.Equal(t, req.config.SystemInstruction.Parts[0].Text, "You are a test persona.")
	gt.Equal(t, partTexts(req.contents[0]), []string{"what happened today"})
}

func TestChat(t *testing.T) {
	ctx := context.Background()

	resp := textResponse("Hi there!")
	resp.Candidates[0].GroundingMetadata = &genai.GroundingMetadata{
		GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{Title: "Ignored", URI: "https://ignored.example.com"}},
		},
	}

	gemini := &mockGemini{textResp: resp}
	d := dispatch.New(gemini, &mockWatermarker{})

	result, err := d.Dispatch(ctx, "Hello", model.IntentChat, "")
	gt.NoError(t, err)
	gt.Equal(t, result.Text, "Hi there!")
	gt.A(t, result.Sources).Length(0)

	req := gemini.textCalls[0]
	gt.A(t, req.config.Tools).Length(0)
	gt.V(t, req.config.SystemInstruction).NotNil()
	gt.S(t, req.config.SystemInstruction.Parts[0].Text).Contains("MK AI")
	gt.A(t, gemini.imageCalls).Length(0)
}

func TestRemoteFailurePropagates(t *testing.T) {
	ctx := context.Background()
	attached := media.FormatDataURI("image/png", []byte("png"))
	remoteErr := goerr.New("permission denied")

	for _, intent := range model.Intents() {
		t.Run(string(intent), func(t *testing.T) {
			d := dispatch.New(&mockGemini{err: remoteErr}, &mockWatermarker{})

			result, err := d.Dispatch(ctx, "anything", intent, attached)
			gt.Error(t, err)
			gt.True(t, errors.Is(err, remoteErr))
			gt.True(t, result == nil)
		})
	}
}
