package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini is the remote model API used by the classifier and the dispatcher
type Gemini interface {
	// GenerateContent runs the text model
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	// GenerateImage runs the image model
	GenerateImage(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

const (
	DefaultTextModel  = "gemini-3-flash-preview"
	DefaultImageModel = "gemini-2.5-flash-image"
)

type GeminiClient struct {
	client     *genai.Client
	textModel  string
	imageModel string
}

type geminiConfig struct {
	apiKey     string
	project    string
	location   string
	textModel  string
	imageModel string
}

type GeminiOption func(*geminiConfig)

// WithAPIKey selects the Gemini API backend authenticated by key
func WithAPIKey(key string) GeminiOption {
	return func(c *geminiConfig) {
		c.apiKey = key
	}
}

// WithVertexAI selects the Vertex AI backend
func WithVertexAI(project, location string) GeminiOption {
	return func(c *geminiConfig) {
		c.project = project
		c.location = location
	}
}

func WithTextModel(model string) GeminiOption {
	return func(c *geminiConfig) {
		if model != "" {
			c.textModel = model
		}
	}
}

func WithImageModel(model string) GeminiOption {
	return func(c *geminiConfig) {
		if model != "" {
			c.imageModel = model
		}
	}
}

func NewGemini(ctx context.Context, opts ...GeminiOption) (*GeminiClient, error) {
	cfg := &geminiConfig{
		textModel:  DefaultTextModel,
		imageModel: DefaultImageModel,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	clientConfig := &genai.ClientConfig{}
	switch {
	case cfg.apiKey != "":
		clientConfig.APIKey = cfg.apiKey
		clientConfig.Backend = genai.BackendGeminiAPI
	case cfg.project != "":
		clientConfig.Project = cfg.project
		clientConfig.Location = cfg.location
		clientConfig.Backend = genai.BackendVertexAI
	default:
		return nil, goerr.New("either API key or Vertex AI project is required")
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	return &GeminiClient{
		client:     client,
		textModel:  cfg.textModel,
		imageModel: cfg.imageModel,
	}, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.textModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.textModel))
	}
	return resp, nil
}

func (g *GeminiClient) GenerateImage(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.imageModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate image", goerr.V("model", g.imageModel))
	}
	return resp, nil
}
