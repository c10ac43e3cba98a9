package dispatch

import (
	"context"
	_ "embed"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/adapter"
	"github.com/m-mizutani/mkai/pkg/media"
	"github.com/m-mizutani/mkai/pkg/model"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/system.md
var defaultPersona string

const (
	DefaultImagePrompt        = "A beautiful creative illustration"
	DefaultEditInstruction    = "Enhance this image"
	DefaultAnalyzeInstruction = "Describe this image in detail."

	GenerationFailedText = "I tried generating that image but something went wrong. Could you try a different description?"
	EditFailedText       = "I couldn't process the edit. Please try again with clear instructions."

	defaultSourceTitle = "Source"
	defaultImageType   = "image/png"
	squareAspectRatio  = "1:1"
)

var (
	ErrImageRequired = goerr.New("an attached image is required")
)

// Watermarker stamps a generated or edited image before it is returned
type Watermarker interface {
	Watermark(ctx context.Context, dataURI string) (string, error)
}

// Dispatcher runs the remote operation selected by an intent and normalizes
// the response into a model.Result
type Dispatcher struct {
	gemini      adapter.Gemini
	watermarker Watermarker
	persona     string
}

type Option func(*Dispatcher)

// WithPersona replaces the system instruction used for chat and search
func WithPersona(persona string) Option {
	return func(d *Dispatcher) {
		if strings.TrimSpace(persona) != "" {
			d.persona = persona
		}
	}
}

func New(gemini adapter.Gemini, watermarker Watermarker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gemini:      gemini,
		watermarker: watermarker,
		persona:     defaultPersona,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes exactly one operation for the turn. Remote and codec
// failures are returned as errors; a response without an image for an image
// request is reported as an apology text instead.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, intent model.Intent, imageURI string) (*model.Result, error) {
	if intent.RequiresImage() && imageURI == "" {
		return nil, goerr.Wrap(ErrImageRequired, "missing image", goerr.V("intent", intent))
	}

	logging.From(ctx).Debug("dispatching turn", "intent", intent, "has_image", imageURI != "")

	switch intent {
	case model.IntentImageGen:
		return d.generateImage(ctx, text)
	case model.IntentImageEdit:
		return d.editImage(ctx, text, imageURI)
	case model.IntentImageAnalyze:
		return d.analyzeImage(ctx, text, imageURI)
	case model.IntentSearch:
		return d.answer(ctx, text, true)
	default:
		return d.answer(ctx, text, false)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (d *Dispatcher) generateImage(ctx context.Context, text string) (*model.Result, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(orDefault(text, DefaultImagePrompt), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: squareAspectRatio},
	}

	resp, err := d.gemini.GenerateImage(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate image")
	}

	return d.imageResult(ctx, resp, GenerationFailedText)
}

func (d *Dispatcher) editImage(ctx context.Context, text, imageURI string) (*model.Result, error) {
	image, err := imagePart(imageURI)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			image,
			genai.NewPartFromText(orDefault(text, DefaultEditInstruction)),
		}, genai.RoleUser),
	}

	resp, err := d.gemini.GenerateImage(ctx, contents, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to edit image")
	}

	return d.imageResult(ctx, resp, EditFailedText)
}

func (d *Dispatcher) analyzeImage(ctx context.Context, text, imageURI string) (*model.Result, error) {
	image, err := imagePart(imageURI)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			image,
			genai.NewPartFromText(orDefault(text, DefaultAnalyzeInstruction)),
		}, genai.RoleUser),
	}

	resp, err := d.gemini.GenerateContent(ctx, contents, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to analyze image")
	}

	return &model.Result{Text: adapter.ResponseText(resp)}, nil
}

func (d *Dispatcher) answer(ctx context.Context, text string, grounded bool) (*model.Result, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(d.persona, ""),
	}
	if grounded {
		config.Tools = []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		}
	}

	resp, err := d.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate answer", goerr.V("grounded", grounded))
	}

	result := &model.Result{Text: adapter.ResponseText(resp)}
	if grounded {
		result.Sources = extractSources(resp)
	}
	return result, nil
}

// imageResult watermarks the first inline image of resp, or returns the
// soft failure text when there is none
func (d *Dispatcher) imageResult(ctx context.Context, resp *genai.GenerateContentResponse, failureText string) (*model.Result, error) {
	blob := adapter.FirstInlineImage(resp)
	if blob == nil {
		logging.From(ctx).Info("model returned no image")
		return &model.Result{Text: failureText}, nil
	}

	raw := media.FormatDataURI(orDefault(blob.MIMEType, defaultImageType), blob.Data)
	watermarked, err := d.watermarker.Watermark(ctx, raw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to watermark image")
	}

	return &model.Result{ImageURL: watermarked}, nil
}

// imagePart strips the data URI header and returns the payload as an inline
// image part
func imagePart(imageURI string) (*genai.Part, error) {
	mimeType, data, err := media.ParseDataURI(imageURI)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode attached image")
	}
	return genai.NewPartFromBytes(data, mimeType), nil
}

// extractSources maps grounding chunks to citations, dropping those without a
// resolvable URI
func extractSources(resp *genai.GenerateContentResponse) []*model.Source {
	var sources []*model.Source
	for _, chunk := range adapter.GroundingChunks(resp) {
		if chunk == nil {
			continue
		}

		src := &model.Source{Title: defaultSourceTitle, URI: "#"}
		if chunk.Web != nil {
			src.Title = orDefault(chunk.Web.Title, defaultSourceTitle)
			src.URI = orDefault(chunk.Web.URI, "#")
		}

		if src.Resolvable() {
			sources = append(sources, src)
		}
	}
	return sources
}
