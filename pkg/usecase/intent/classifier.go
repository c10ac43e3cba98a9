package intent

import (
	"bytes"
	"context"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/adapter"
	"github.com/m-mizutani/mkai/pkg/model"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"google.golang.org/genai"
)

//go:embed prompt/classify.md
var classifyPromptRaw string

var classifyPromptTmpl = template.Must(template.New("classify").Parse(classifyPromptRaw))

// Intents the remote classifier may answer with. Image intents need an
// attachment and are decided offline.
var remoteIntents = map[model.Intent]bool{
	model.IntentImageGen: true,
	model.IntentSearch:   true,
	model.IntentChat:     true,
}

// Classifier decides which operation a user turn asks for
type Classifier struct {
	gemini      adapter.Gemini
	imagePolicy *rego.PreparedEvalQuery
}

// New creates a Classifier. The image intent policy is compiled here so that
// classification itself never fails on it.
func New(ctx context.Context, gemini adapter.Gemini) (*Classifier, error) {
	policy, err := prepareImagePolicy(ctx)
	if err != nil {
		return nil, err
	}

	return &Classifier{
		gemini:      gemini,
		imagePolicy: policy,
	}, nil
}

// Classify returns the intent of a turn. It never fails: any problem falls
// back to model.IntentChat and is logged.
func (c *Classifier) Classify(ctx context.Context, text string, hasAttachedImage bool) model.Intent {
	logger := logging.From(ctx)

	if hasAttachedImage {
		intent, err := evalImagePolicy(ctx, c.imagePolicy, text)
		if err != nil {
			logger.Warn("image intent policy failed, assuming analysis", "error", err)
			return model.IntentImageAnalyze
		}
		logger.Debug("classified image turn", "intent", intent)
		return intent
	}

	intent, err := c.classifyRemote(ctx, text)
	if err != nil {
		logger.Warn("intent detection failed, falling back to chat", "error", err)
		return model.IntentChat
	}

	logger.Debug("classified turn", "intent", intent)
	return intent
}

func (c *Classifier) classifyRemote(ctx context.Context, text string) (model.Intent, error) {
	var prompt bytes.Buffer
	if err := classifyPromptTmpl.Execute(&prompt, struct{ Text string }{Text: text}); err != nil {
		return "", goerr.Wrap(err, "failed to build classification prompt")
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt.String(), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}

	resp, err := c.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to call classification model")
	}

	raw := adapter.ResponseText(resp)
	intent, err := model.ParseIntent(raw)
	if err != nil {
		return "", goerr.Wrap(err, "unrecognized classification", goerr.V("response", raw))
	}
	if !remoteIntents[intent] {
		return "", goerr.New("classification not allowed without an image", goerr.V("intent", intent))
	}

	return intent, nil
}
