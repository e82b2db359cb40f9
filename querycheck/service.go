// Package querycheck is the consumer of the term cache: it screens user queries,
// applies a policy to matches and contains any scan failure at its boundary.
package querycheck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/termguard/libs/go/core/otelinit"
	"github.com/swarmguard/termguard/matcher"
)

// FailMode decides the outcome when the check itself fails.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// Detector is the read side of the term cache.
type Detector interface {
	Detect(text string) matcher.DetectionResult
	Contains(text string) bool
}

// Options configure a Service.
type Options struct {
	Enabled  bool
	FailMode FailMode // default open
	Policy   Policy   // default StaticPolicy{} (reject on match)
}

// Decision is a check result plus the policy action.
type Decision struct {
	matcher.DetectionResult
	Action Action `json:"action"`
}

// Service screens queries against the active snapshot.
type Service struct {
	det      Detector
	enabled  bool
	failMode FailMode
	policy   Policy
	log      *slog.Logger

	checks   metric.Int64Counter
	matches  metric.Int64Counter
	failOpen metric.Int64Counter
}

func NewService(det Detector, opts Options) *Service {
	if opts.FailMode == "" {
		opts.FailMode = FailOpen
	}
	if opts.Policy == nil {
		opts.Policy = StaticPolicy{}
	}
	meter := otelinit.Meter()
	checks, _ := meter.Int64Counter("termguard_checks_total")
	matches, _ := meter.Int64Counter("termguard_matches_total")
	failOpen, _ := meter.Int64Counter("termguard_check_failures_total")
	return &Service{
		det:      det,
		enabled:  opts.Enabled,
		failMode: opts.FailMode,
		policy:   opts.Policy,
		log:      slog.Default().With("component", "querycheck"),
		checks:   checks,
		matches:  matches,
		failOpen: failOpen,
	}
}

// Enabled reports whether checking is switched on.
func (s *Service) Enabled() bool { return s.enabled }

// Check scans text. Disabled checking and blank text pass without touching the
// cache. A panic during the scan is recovered and resolved by the fail mode.
func (s *Service) Check(ctx context.Context, text string) (res matcher.DetectionResult) {
	if !s.enabled || strings.TrimSpace(text) == "" {
		return matcher.Pass()
	}
	defer func() {
		if r := recover(); r != nil {
			res = s.failed(ctx, "detect", fmt.Errorf("%v", r))
		}
	}()
	res = s.det.Detect(text)
	s.record(ctx, res)
	return res
}

// Contains reports whether text holds any term. It stops at the first hit.
func (s *Service) Contains(ctx context.Context, text string) (found bool) {
	if !s.enabled || strings.TrimSpace(text) == "" {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			found = !s.failed(ctx, "contains", fmt.Errorf("%v", r)).Passed
		}
	}()
	return s.det.Contains(text)
}

// Evaluate checks text and asks the policy what to do with any match.
func (s *Service) Evaluate(ctx context.Context, text string) Decision {
	res := s.Check(ctx, text)
	if res.Passed {
		return Decision{DetectionResult: res, Action: ActionAllow}
	}
	if !res.HasMatches() {
		// fail-closed scan failure
		return Decision{DetectionResult: res, Action: ActionReject}
	}
	action, err := s.policy.Decide(ctx, PolicyInput{Query: text, MatchedTerms: res.MatchedTerms})
	if err != nil {
		action = ActionReject
		if s.failMode == FailOpen {
			action = ActionAllow
		}
		s.log.Error("policy evaluation failed", "error", err, "fail_mode", string(s.failMode), "action", string(action))
		s.failOpen.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "policy")))
	}
	return Decision{DetectionResult: res, Action: action}
}

// Enforce returns *DetectedError when the query must be rejected. A "log" action
// records the match and lets the query through.
func (s *Service) Enforce(ctx context.Context, text string) error {
	d := s.Evaluate(ctx, text)
	switch d.Action {
	case ActionReject:
		s.log.Warn("query rejected", "query", text, "terms", d.MatchedTerms)
		return &DetectedError{Query: text, Terms: d.MatchedTerms}
	case ActionLog:
		s.log.Warn("sensitive terms in query", "query", text, "terms", d.MatchedTerms)
	}
	return nil
}

func (s *Service) record(ctx context.Context, res matcher.DetectionResult) {
	outcome := "pass"
	if !res.Passed {
		outcome = "match"
		s.matches.Add(ctx, int64(len(res.MatchedTerms)))
	}
	s.checks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *Service) failed(ctx context.Context, stage string, err error) matcher.DetectionResult {
	s.failOpen.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	if s.failMode == FailClosed {
		s.log.Error("term check failed; rejecting", "stage", stage, "error", err)
		return matcher.Reject(nil)
	}
	s.log.Error("term check failed; passing", "stage", stage, "error", err)
	return matcher.Pass()
}
