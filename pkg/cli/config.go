package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/adapter"
	"github.com/m-mizutani/mkai/pkg/media"
	"github.com/m-mizutani/mkai/pkg/repository"
	"github.com/m-mizutani/mkai/pkg/usecase/conversation"
	"github.com/m-mizutani/mkai/pkg/usecase/dispatch"
	"github.com/m-mizutani/mkai/pkg/usecase/intent"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// objectPrefix is prepended to every key stored in a Cloud Storage bucket
const objectPrefix = "mkai/"

// config holds configuration values
type config struct {
	// Persistence
	storeDir       string
	bucket         string
	gcsCredentials string

	// Adapters
	geminiAPIKey   string
	geminiProject  string
	geminiLocation string
	textModel      string
	imageModel     string

	// Misc
	configFile string
	logLevel   string
	logFormat  string
}

// fileConfig is the optional YAML configuration file
type fileConfig struct {
	TextModel  string `yaml:"text_model"`
	ImageModel string `yaml:"image_model"`
	Persona    string `yaml:"persona"`
	Watermark  struct {
		Mark        string `yaml:"mark"`
		Attribution string `yaml:"attribution"`
	} `yaml:"watermark"`
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store-dir",
			Usage:       "Directory for the identity and conversations (default: $XDG_CONFIG_HOME/mkai)",
			Sources:     cli.EnvVars("MKAI_STORE_DIR"),
			Destination: &cfg.storeDir,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket to keep the identity and conversations in instead of local files",
			Sources:     cli.EnvVars("MKAI_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "gcs-credentials",
			Usage:       "Service account key file for the Cloud Storage bucket",
			Sources:     cli.EnvVars("MKAI_GCS_CREDENTIALS"),
			Destination: &cfg.gcsCredentials,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML file overriding models, persona and watermark labels",
			Sources:     cli.EnvVars("MKAI_CONFIG"),
			Destination: &cfg.configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MKAI_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("MKAI_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini on Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "text-model",
			Usage:       "Model used for chat, search, analysis and classification",
			Sources:     cli.EnvVars("MKAI_TEXT_MODEL"),
			Destination: &cfg.textModel,
		},
		&cli.StringFlag{
			Name:        "image-model",
			Usage:       "Model used for image generation and editing",
			Sources:     cli.EnvVars("MKAI_IMAGE_MODEL"),
			Destination: &cfg.imageModel,
		},
	}
}

// setupLogger installs the configured logger as default and in ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr, logging.WithFormat(cfg.logFormat))
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// loadFileConfig reads the YAML configuration file. A missing path yields
// an empty configuration.
func (cfg *config) loadFileConfig() (*fileConfig, error) {
	fc := &fileConfig{}
	if cfg.configFile == "" {
		return fc, nil
	}

	data, err := os.ReadFile(cfg.configFile)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", cfg.configFile))
	}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", cfg.configFile))
	}
	return fc, nil
}

// defaultStoreDir returns $XDG_CONFIG_HOME/mkai or its platform equivalent
func defaultStoreDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", goerr.Wrap(err, "failed to determine config directory")
	}
	return filepath.Join(dir, "mkai"), nil
}

// newStorage creates the blob store, a bucket when configured and local
// files otherwise
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket != "" {
		opts := []adapter.CloudStorageOption{adapter.WithPrefix(objectPrefix)}
		if cfg.gcsCredentials != "" {
			opts = append(opts, adapter.WithCredentialsFile(cfg.gcsCredentials))
		}
		storage, err := adapter.NewCloudStorage(ctx, cfg.bucket, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage", goerr.V("bucket", cfg.bucket))
		}
		return storage, nil
	}

	dir := cfg.storeDir
	if dir == "" {
		d, err := defaultStoreDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}

	storage, err := adapter.NewFileStorage(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage", goerr.V("dir", dir))
	}
	return storage, nil
}

// newRepository creates a new repository instance
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, err
	}
	return repository.New(storage), nil
}

// newGemini creates a new Gemini adapter instance. Flags take precedence over
// the configuration file.
func (cfg *config) newGemini(ctx context.Context, fc *fileConfig) (adapter.Gemini, error) {
	var opts []adapter.GeminiOption
	switch {
	case cfg.geminiAPIKey != "":
		opts = append(opts, adapter.WithAPIKey(cfg.geminiAPIKey))
	case cfg.geminiProject != "":
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
		opts = append(opts, adapter.WithVertexAI(cfg.geminiProject, cfg.geminiLocation))
	default:
		return nil, goerr.New("gemini-api-key or gemini-project is required")
	}

	opts = append(opts,
		adapter.WithTextModel(firstNonEmpty(cfg.textModel, fc.TextModel)),
		adapter.WithImageModel(firstNonEmpty(cfg.imageModel, fc.ImageModel)),
	)

	gemini, err := adapter.NewGemini(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// newController wires the classifier, dispatcher and repository into a
// conversation controller
func (cfg *config) newController(ctx context.Context, opts ...conversation.Option) (*conversation.Controller, error) {
	fc, err := cfg.loadFileConfig()
	if err != nil {
		return nil, err
	}

	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}

	gemini, err := cfg.newGemini(ctx, fc)
	if err != nil {
		return nil, err
	}

	classifier, err := intent.New(ctx, gemini)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create intent classifier")
	}

	codec, err := media.New(media.WithLabels(fc.Watermark.Mark, fc.Watermark.Attribution))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create watermark codec")
	}

	dispatcher := dispatch.New(gemini, codec, dispatch.WithPersona(fc.Persona))

	return conversation.New(ctx, conversation.NewInput{
		Repo:       repo,
		Classifier: classifier,
		Dispatcher: dispatcher,
	}, opts...), nil
}

// newOfflineController creates a controller for identity and session
// management only. It needs no model credentials.
func (cfg *config) newOfflineController(ctx context.Context) (*conversation.Controller, error) {
	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}
	return conversation.New(ctx, conversation.NewInput{Repo: repo}), nil
}
