package querycheck

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/termguard/libs/go/core/otelinit"
)

// Action is what the consumer does with a query that matched terms.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionLog    Action = "log"
	ActionReject Action = "reject"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionAllow || a == ActionLog || a == ActionReject
}

// PolicyInput is what a policy sees. It is only consulted when terms matched.
type PolicyInput struct {
	Query        string   `json:"query"`
	MatchedTerms []string `json:"matched_terms"`
}

// Policy maps a match to an action.
type Policy interface {
	Decide(ctx context.Context, in PolicyInput) (Action, error)
}

// StaticPolicy applies one action to every match. The zero value rejects.
type StaticPolicy struct {
	OnMatch Action
}

func (p StaticPolicy) Decide(_ context.Context, in PolicyInput) (Action, error) {
	if len(in.MatchedTerms) == 0 {
		return ActionAllow, nil
	}
	if p.OnMatch == "" {
		return ActionReject, nil
	}
	return p.OnMatch, nil
}

// RegoQuery is the decision path every rego policy must define.
const RegoQuery = "data.termguard.action"

// DefaultRegoModule rejects any query with at least one matched term.
const DefaultRegoModule = `package termguard

default action := "allow"

action := "reject" if count(input.matched_terms) > 0
`

// RegoPolicy evaluates a prepared OPA query against PolicyInput.
type RegoPolicy struct {
	query   rego.PreparedEvalQuery
	latency metric.Float64Histogram
}

// NewRegoPolicy compiles module. It must define data.termguard.action as a string.
func NewRegoPolicy(ctx context.Context, module string) (*RegoPolicy, error) {
	prepared, err := rego.New(
		rego.Query(RegoQuery),
		rego.Module("termguard.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	latency, _ := otelinit.Meter().Float64Histogram("termguard_policy_eval_ms",
		metric.WithDescription("Time to evaluate the query policy"))
	return &RegoPolicy{query: prepared, latency: latency}, nil
}

// LoadRegoPolicy reads a .rego file, or uses DefaultRegoModule when path is empty.
func LoadRegoPolicy(ctx context.Context, path string) (*RegoPolicy, error) {
	if path == "" {
		return NewRegoPolicy(ctx, DefaultRegoModule)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return NewRegoPolicy(ctx, string(src))
}

func (p *RegoPolicy) Decide(ctx context.Context, in PolicyInput) (Action, error) {
	start := time.Now()
	input := map[string]interface{}{
		"query":         in.Query,
		"matched_terms": in.MatchedTerms,
	}
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	p.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(attribute.Bool("error", err != nil)))
	if err != nil {
		return "", fmt.Errorf("eval policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", fmt.Errorf("policy produced no decision")
	}
	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("policy decision is %T, want string", results[0].Expressions[0].Value)
	}
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("policy returned unknown action %q", s)
	}
	return a, nil
}
