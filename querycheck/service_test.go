package querycheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/swarmguard/termguard/matcher"
	"github.com/swarmguard/termguard/termcache"
)

type countingDetector struct {
	auto  *matcher.Automaton
	calls int
}

func (d *countingDetector) Detect(text string) matcher.DetectionResult {
	d.calls++
	return d.auto.Detect(text)
}

func (d *countingDetector) Contains(text string) bool {
	d.calls++
	return d.auto.Contains(text)
}

type panicDetector struct{}

func (panicDetector) Detect(string) matcher.DetectionResult { panic("corrupt snapshot") }
func (panicDetector) Contains(string) bool                  { panic("corrupt snapshot") }

type errPolicy struct{}

func (errPolicy) Decide(context.Context, PolicyInput) (Action, error) {
	return "", errors.New("policy backend down")
}

func detector(terms ...string) *countingDetector {
	return &countingDetector{auto: matcher.Build(matcher.NewPatternSet(terms))}
}

func TestDisabledPassesWithoutScanning(t *testing.T) {
	det := detector("转账")
	svc := NewService(det, Options{Enabled: false})
	res := svc.Check(context.Background(), "请问转账")
	if !res.Passed || len(res.MatchedTerms) != 0 {
		t.Fatalf("disabled check must pass: %+v", res)
	}
	if svc.Contains(context.Background(), "请问转账") {
		t.Fatalf("disabled contains must be false")
	}
	if err := svc.Enforce(context.Background(), "请问转账"); err != nil {
		t.Fatalf("disabled enforce must pass: %v", err)
	}
	if det.calls != 0 {
		t.Fatalf("detector touched %d times while disabled", det.calls)
	}
}

func TestBlankTextPasses(t *testing.T) {
	det := detector("a")
	svc := NewService(det, Options{Enabled: true})
	for _, text := range []string{"", "   ", "\t\n"} {
		if !svc.Check(context.Background(), text).Passed {
			t.Fatalf("blank %q must pass", text)
		}
	}
	if det.calls != 0 {
		t.Fatalf("blank text must not reach the detector")
	}
}

func TestCheckReportsMatches(t *testing.T) {
	svc := NewService(detector("转账", "账号"), Options{Enabled: true})
	res := svc.Check(context.Background(), "我的转账账号")
	if res.Passed || !reflect.DeepEqual(res.MatchedTerms, []string{"转账", "账号"}) {
		t.Fatalf("unexpected %+v", res)
	}
	if !svc.Contains(context.Background(), "转账") {
		t.Fatalf("contains must agree with check")
	}
}

func TestScanPanicFailOpen(t *testing.T) {
	svc := NewService(panicDetector{}, Options{Enabled: true})
	if res := svc.Check(context.Background(), "anything"); !res.Passed {
		t.Fatalf("fail-open must pass: %+v", res)
	}
	if svc.Contains(context.Background(), "anything") {
		t.Fatalf("fail-open contains must be false")
	}
	if err := svc.Enforce(context.Background(), "anything"); err != nil {
		t.Fatalf("fail-open enforce must pass: %v", err)
	}
}

func TestScanPanicFailClosed(t *testing.T) {
	svc := NewService(panicDetector{}, Options{Enabled: true, FailMode: FailClosed})
	res := svc.Check(context.Background(), "anything")
	if res.Passed || len(res.MatchedTerms) != 0 {
		t.Fatalf("fail-closed must reject with no terms: %+v", res)
	}
	if !svc.Contains(context.Background(), "anything") {
		t.Fatalf("fail-closed contains must be true")
	}
	var de *DetectedError
	if err := svc.Enforce(context.Background(), "anything"); !errors.As(err, &de) || de.Count() != 0 {
		t.Fatalf("fail-closed enforce must reject: %v", err)
	}
}

func TestEnforceReturnsDetectedError(t *testing.T) {
	svc := NewService(detector("secret"), Options{Enabled: true})
	err := svc.Enforce(context.Background(), "top SECRET plan")
	var de *DetectedError
	if !errors.As(err, &de) {
		t.Fatalf("expected DetectedError, got %v", err)
	}
	if de.Query != "top SECRET plan" || !reflect.DeepEqual(de.Terms, []string{"secret"}) {
		t.Fatalf("unexpected error payload %+v", de)
	}
	if err := svc.Enforce(context.Background(), "harmless"); err != nil {
		t.Fatalf("clean query rejected: %v", err)
	}
}

func TestLogActionLetsQueryThrough(t *testing.T) {
	svc := NewService(detector("secret"), Options{Enabled: true, Policy: StaticPolicy{OnMatch: ActionLog}})
	d := svc.Evaluate(context.Background(), "secret")
	if d.Action != ActionLog || d.Passed {
		t.Fatalf("unexpected decision %+v", d)
	}
	if err := svc.Enforce(context.Background(), "secret"); err != nil {
		t.Fatalf("log action must not reject: %v", err)
	}
}

func TestPolicyErrorFollowsFailMode(t *testing.T) {
	open := NewService(detector("x"), Options{Enabled: true, Policy: errPolicy{}})
	if d := open.Evaluate(context.Background(), "x"); d.Action != ActionAllow {
		t.Fatalf("fail-open policy error must allow, got %s", d.Action)
	}
	closed := NewService(detector("x"), Options{Enabled: true, Policy: errPolicy{}, FailMode: FailClosed})
	if d := closed.Evaluate(context.Background(), "x"); d.Action != ActionReject {
		t.Fatalf("fail-closed policy error must reject, got %s", d.Action)
	}
}

func TestRegoDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	p, err := LoadRegoPolicy(ctx, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a, err := p.Decide(ctx, PolicyInput{Query: "q", MatchedTerms: []string{"x"}})
	if err != nil || a != ActionReject {
		t.Fatalf("expected reject, got %s %v", a, err)
	}
	a, err = p.Decide(ctx, PolicyInput{Query: "q", MatchedTerms: []string{}})
	if err != nil || a != ActionAllow {
		t.Fatalf("expected allow, got %s %v", a, err)
	}
}

func TestRegoPolicyFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.rego")
	module := `package termguard

default action := "allow"

action := "reject" if count(input.matched_terms) > 1

action := "log" if count(input.matched_terms) == 1
`
	if err := os.WriteFile(path, []byte(module), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadRegoPolicy(ctx, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	svc := NewService(detector("a", "b"), Options{Enabled: true, Policy: p})
	if d := svc.Evaluate(ctx, "only a"); d.Action != ActionLog {
		t.Fatalf("expected log, got %s", d.Action)
	}
	if d := svc.Evaluate(ctx, "a and b"); d.Action != ActionReject {
		t.Fatalf("expected reject, got %s", d.Action)
	}
}

func TestRegoPolicyRejectsBadModule(t *testing.T) {
	if _, err := NewRegoPolicy(context.Background(), "package termguard\n\naction := "); err == nil {
		t.Fatalf("expected compile error")
	}
	p, err := NewRegoPolicy(context.Background(), "package termguard\n\ndefault action := \"quarantine\"\n")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := p.Decide(context.Background(), PolicyInput{MatchedTerms: []string{"x"}}); err == nil {
		t.Fatalf("unknown action must be an error")
	}
}

// Scenario D: checking disabled means no build is ever required.
func TestDisabledNeedsNoBuild(t *testing.T) {
	cache := termcache.New()
	svc := NewService(cache, Options{Enabled: false})
	if !svc.Check(context.Background(), "anything").Passed {
		t.Fatalf("disabled must pass")
	}
	if cache.Status().Initialized {
		t.Fatalf("cache must stay unbuilt")
	}
}

func TestServiceOverCache(t *testing.T) {
	cache := termcache.New()
	src := termcache.WordSourceFunc(func(context.Context) ([]string, error) { return []string{"blocked"}, nil })
	if err := cache.RebuildFrom(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	svc := NewService(cache, Options{Enabled: true})
	if svc.Check(context.Background(), "this is BLOCKED").Passed {
		t.Fatalf("expected a match through the cache")
	}
}
