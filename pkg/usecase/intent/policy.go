package intent

import (
	"context"
	_ "embed"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/model"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

//go:embed policy/image.rego
var imagePolicyRaw string

const imagePolicyQuery = "data.intent.image"

// regoPrintHook sends Rego print() output to the debug log
type regoPrintHook struct {
	logger *slog.Logger
}

func (h *regoPrintHook) Print(ctx print.Context, message string) error {
	h.logger.Debug("rego print", "message", message)
	return nil
}

// prepareImagePolicy compiles the embedded image intent policy once
func prepareImagePolicy(ctx context.Context) (*rego.PreparedEvalQuery, error) {
	r := rego.New(
		rego.Query(imagePolicyQuery),
		rego.Module("image.rego", imagePolicyRaw),
		rego.EnablePrintStatements(true),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.V("query", imagePolicyQuery))
	}

	return &prepared, nil
}

func evalImagePolicy(ctx context.Context, q *rego.PreparedEvalQuery, text string) (model.Intent, error) {
	hook := &regoPrintHook{logger: logging.From(ctx)}
	rs, err := q.Eval(ctx, rego.EvalInput(map[string]any{"text": text}), rego.EvalPrintHook(hook))
	if err != nil {
		return "", goerr.Wrap(err, "failed to evaluate image intent policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return "", goerr.New("image intent policy returned no result")
	}

	raw, ok := rs[0].Expressions[0].Value.(string)
	if !ok {
		return "", goerr.New("image intent policy returned non-string", goerr.V("value", rs[0].Expressions[0].Value))
	}

	intent, err := model.ParseIntent(raw)
	if err != nil {
		return "", err
	}
	if !intent.RequiresImage() {
		return "", goerr.New("image intent policy returned non-image intent", goerr.V("intent", intent))
	}
	return intent, nil
}
