package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

type Decision string

const (
	Allow Decision = "allow"
	Block Decision = "block"
)

// Input is the document a policy sees for one proposal.
type Input struct {
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Reason  string          `json:"reason"`
	Payload json.RawMessage `json:"payload"`
}

// Engine 基于 OPA 的执行策略
// Engine evaluates data.workbench.decision for each proposal before it runs.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares the given rego module (package workbench).
func NewEngine(ctx context.Context, module string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.workbench.decision"),
		rego.Module("workbench.rego", module),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Load reads a policy file; an empty path selects DefaultPolicy.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(data))
}

// Evaluate returns the decision for in. An undefined decision is Allow; any
// other non-string result is an error so callers can fail closed.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	var payload any = map[string]any{}
	if len(in.Payload) > 0 {
		if err := json.Unmarshal(in.Payload, &payload); err != nil {
			return "", fmt.Errorf("decode payload: %w", err)
		}
	}
	doc := map[string]any{
		"type":    in.Type,
		"title":   in.Title,
		"reason":  in.Reason,
		"payload": payload,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return "", fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Allow, nil
	}
	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		if d := Decision(v); d == Allow || d == Block {
			return d, nil
		}
		return "", fmt.Errorf("unknown policy decision %q", v)
	default:
		return "", fmt.Errorf("policy decision has type %T, want string", v)
	}
}

// DefaultPolicy blocks deletions that come without a reason.
const DefaultPolicy = `
package workbench

default decision = "allow"

decision = "block" {
	endswith(input.type, ".delete")
	trim_space(input.reason) == ""
}
`
