package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ongoingai/agenteval/internal/evaluators"
	"github.com/ongoingai/agenteval/internal/judge"
	"github.com/ongoingai/agenteval/internal/observability"
	"github.com/ongoingai/agenteval/internal/trace"
	"github.com/ongoingai/agenteval/internal/version"
)

const (
	SchemaVersion = "evaluation.v1"

	// Aggregate categories below this score get a recommendation.
	RecommendationThreshold = 0.85
	// Score assigned to a category whose evaluator failed.
	NeutralScore = 0.5

	defaultConcurrency = 4
	previewLength      = 100
)

// Orchestrator runs a registry of evaluators over traces and aggregates the
// weighted result.
type Orchestrator struct {
	registry    evaluators.Registry
	weights     map[string]float64
	concurrency int
	runtime     *observability.Runtime
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Orchestrator) error

// WithWeights overrides category weights. Unspecified categories keep their
// default weight.
func WithWeights(overrides map[string]float64) Option {
	return func(o *Orchestrator) error {
		weights, err := ResolveWeights(overrides)
		if err != nil {
			return err
		}
		o.weights = weights
		return nil
	}
}

// WithConcurrency bounds how many traces are evaluated at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) error {
		if n <= 0 {
			return fmt.Errorf("evaluation concurrency must be positive (got %d)", n)
		}
		o.concurrency = n
		return nil
	}
}

func WithRuntime(rt *observability.Runtime) Option {
	return func(o *Orchestrator) error {
		o.runtime = rt
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

func withClock(now func() time.Time) Option {
	return func(o *Orchestrator) error {
		o.now = now
		return nil
	}
}

// New builds an orchestrator. Invalid weights fail with *WeightError.
func New(registry evaluators.Registry, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		registry:    registry,
		weights:     DefaultWeights(),
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if sum := weightSum(o.weights); math.Abs(sum-1) > 1e-6 {
		o.logger.Warn("evaluation weights do not sum to 1; overall score is the unnormalized weighted sum", "weight_sum", sum)
	}
	return o, nil
}

// Weights returns a copy of the effective weights.
func (o *Orchestrator) Weights() map[string]float64 {
	out := make(map[string]float64, len(o.weights))
	for k, v := range o.weights {
		out[k] = v
	}
	return out
}

// Evaluate scores traces. It never fails: evaluator errors and panics
// become neutral scores with an issue, and an empty trace set yields a poor
// result with a "no traces captured" issue.
func (o *Orchestrator) Evaluate(ctx context.Context, systemName, systemDescription string, traces []*trace.Trace) *EvaluationResult {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := o.runtime.Tracer().Start(ctx, "evaluation.run", oteltrace.WithAttributes(
		attribute.String("agenteval.system", systemName),
		attribute.Int("agenteval.trace_count", len(traces)),
	))
	defer span.End()

	started := o.now()
	result := &EvaluationResult{
		SchemaVersion: SchemaVersion,
		Name:          systemName,
		SystemName:    systemName,
		Timestamp:     started.UTC(),
		Version:       version.Version,
	}

	live := make([]*trace.Trace, 0, len(traces))
	for _, t := range traces {
		if t != nil {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		o.fillEmpty(result)
		span.SetAttributes(attribute.Float64("agenteval.score", result.Score))
		return result
	}

	result.TraceResults = o.evaluateTraces(ctx, live, systemDescription)
	result.Categories = o.aggregate(result.TraceResults)
	for _, c := range result.Categories {
		result.Score += c.Score * c.Weight
	}
	result.Status = StatusFor(result.Score)
	result.Issues = collectIssues(result.TraceResults)
	result.Recommendations = recommendations(result.Categories, result.Issues)
	rollup(result, live)
	result.Summary = fmt.Sprintf(
		"%d traces evaluated. Score: %s (%s). %d issues found.",
		result.TotalTraces, Percent(result.Score), result.Status, len(result.Issues),
	)

	span.SetAttributes(
		attribute.Float64("agenteval.score", result.Score),
		attribute.String("agenteval.status", string(result.Status)),
	)
	o.runtime.RecordEvaluationScore(ctx, systemName, result.Score)
	o.logger.Info(
		"evaluation complete",
		"system", systemName,
		"traces", result.TotalTraces,
		"score", result.Score,
		"status", result.Status,
		"issues", len(result.Issues),
		"duration_ms", o.now().Sub(started).Milliseconds(),
	)
	return result
}

func (o *Orchestrator) fillEmpty(result *EvaluationResult) {
	result.Status = StatusPoor
	result.Categories = []evaluators.CategoryResult{}
	result.TraceResults = []TraceResult{}
	result.Issues = []string{"no traces captured"}
	result.Recommendations = []string{"Run your agent to capture traces"}
	result.AgentsObserved = []string{}
	result.ToolsObserved = []string{}
	result.Summary = "No traces to evaluate"
}

// evaluateTraces runs every trace through the registry with bounded
// concurrency. Results keep input order.
func (o *Orchestrator) evaluateTraces(ctx context.Context, traces []*trace.Trace, systemDescription string) []TraceResult {
	results := make([]TraceResult, len(traces))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, t := range traces {
		g.Go(func() error {
			results[i] = o.evaluateTrace(ctx, t, systemDescription)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) evaluateTrace(ctx context.Context, t *trace.Trace, systemDescription string) TraceResult {
	ctx, span := o.runtime.Tracer().Start(ctx, "evaluation.trace", oteltrace.WithAttributes(
		attribute.String("agenteval.trace_id", t.ID),
	))
	defer span.End()

	tr := TraceResult{
		TraceID:        t.ID,
		TraceName:      t.Name,
		Categories:     make([]evaluators.CategoryResult, 0, len(o.registry)),
		Issues:         append([]string{}, t.Issues...),
		InputPreview:   preview(t.Input),
		OutputPreview:  preview(t.Output),
		Duration:       t.Duration,
		ModelCallCount: len(t.ModelCalls),
		ToolCallCount:  len(t.ToolCalls),
	}
	for _, e := range o.registry {
		category := o.runEvaluator(ctx, span, e, t, systemDescription)
		category.Weight = o.weights[category.Name]
		tr.Score += category.Score * category.Weight
		tr.Issues = append(tr.Issues, category.Issues...)
		tr.Categories = append(tr.Categories, category)
	}
	span.SetAttributes(attribute.Float64("agenteval.score", tr.Score))
	return tr
}

// runEvaluator isolates one evaluator call. Errors and panics are converted
// to the neutral score.
func (o *Orchestrator) runEvaluator(ctx context.Context, span oteltrace.Span, e evaluators.Evaluator, t *trace.Trace, systemDescription string) (out evaluators.CategoryResult) {
	name := e.Name()
	defer func() {
		if recovered := recover(); recovered != nil {
			out = o.failed(ctx, span, name, t, fmt.Errorf("panic: %v", recovered))
		}
	}()

	res, err := e.Evaluate(ctx, t, systemDescription)
	if err != nil {
		return o.failed(ctx, span, name, t, err)
	}
	res.Name = name
	if res.Issues == nil {
		res.Issues = []string{}
	}
	if !finite(res.Score) {
		res.Score = NeutralScore
		res.Issues = append(res.Issues, fmt.Sprintf("%s evaluation returned a non-numeric score", name))
	}
	res.Score = clamp(res.Score)
	if res.Checks == nil {
		res.Checks = map[string]judge.Score{}
	}
	checks := make([]string, 0, len(res.Checks))
	for check := range res.Checks {
		checks = append(checks, check)
	}
	sort.Strings(checks)
	for _, check := range checks {
		score := res.Checks[check]
		if finite(score.Value) {
			continue
		}
		score.Value = NeutralScore
		res.Checks[check] = score
		res.Issues = append(res.Issues, fmt.Sprintf("%s check %s returned a non-numeric score", name, check))
	}
	return res
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (o *Orchestrator) failed(ctx context.Context, span oteltrace.Span, category string, t *trace.Trace, err error) evaluators.CategoryResult {
	o.runtime.RecordEvaluatorFailure(ctx, category)
	span.RecordError(err, oteltrace.WithAttributes(attribute.String("agenteval.category", category)))
	span.SetStatus(codes.Error, category+" evaluation failed")
	o.logger.WarnContext(ctx, "category evaluation failed", "category", category, "trace_id", t.ID, "error", err)
	return evaluators.CategoryResult{
		Name:   category,
		Score:  NeutralScore,
		Checks: map[string]judge.Score{},
		Issues: []string{fmt.Sprintf("%s evaluation failed: %v", category, err)},
	}
}

// aggregate averages each category across traces in registry order. Check
// scores are averaged over the traces that ran them; issues are de-duplicated
// in first-seen order.
func (o *Orchestrator) aggregate(traceResults []TraceResult) []evaluators.CategoryResult {
	out := make([]evaluators.CategoryResult, 0, len(o.registry))
	for idx, e := range o.registry {
		name := e.Name()
		agg := evaluators.CategoryResult{
			Name:   name,
			Weight: o.weights[name],
			Checks: map[string]judge.Score{},
			Issues: []string{},
		}
		checkTotals := make(map[string]float64)
		checkCounts := make(map[string]int)
		checkReasons := make(map[string]string)
		seen := make(map[string]struct{})
		total := 0.0
		for _, tr := range traceResults {
			c := tr.Categories[idx]
			total += c.Score
			for check, s := range c.Checks {
				checkTotals[check] += s.Value
				checkCounts[check]++
				if checkCounts[check] == 1 {
					checkReasons[check] = s.Reason
				}
			}
			for _, issue := range c.Issues {
				if _, ok := seen[issue]; ok {
					continue
				}
				seen[issue] = struct{}{}
				agg.Issues = append(agg.Issues, issue)
			}
		}
		agg.Score = total / float64(len(traceResults))
		for check, sum := range checkTotals {
			n := checkCounts[check]
			reason := checkReasons[check]
			if n > 1 {
				reason = fmt.Sprintf("mean over %d traces", n)
			}
			agg.Checks[check] = judge.Score{Value: sum / float64(n), Reason: reason}
		}
		out = append(out, agg)
	}
	return out
}

func collectIssues(traceResults []TraceResult) []string {
	seen := make(map[string]struct{})
	issues := []string{}
	for _, tr := range traceResults {
		for _, issue := range tr.Issues {
			if _, ok := seen[issue]; ok {
				continue
			}
			seen[issue] = struct{}{}
			issues = append(issues, issue)
		}
	}
	return issues
}

// recommendations lists categories below the threshold worst first, then
// hints derived from recurring issue kinds.
func recommendations(categories []evaluators.CategoryResult, issues []string) []string {
	low := make([]evaluators.CategoryResult, 0, len(categories))
	for _, c := range categories {
		if c.Score < RecommendationThreshold {
			low = append(low, c)
		}
	}
	sort.SliceStable(low, func(i, j int) bool { return low[i].Score < low[j].Score })

	out := make([]string, 0, len(low)+3)
	for _, c := range low {
		out = append(out, fmt.Sprintf("Improve %s: score is %s", c.Name, Percent(c.Score)))
	}

	var hasError, hasSlow, hasIncomplete bool
	for _, issue := range issues {
		lower := strings.ToLower(issue)
		hasError = hasError || strings.Contains(lower, "error")
		hasSlow = hasSlow || strings.Contains(lower, "slow") || strings.Contains(lower, "latency")
		hasIncomplete = hasIncomplete || strings.Contains(lower, "incomplete")
	}
	if hasError {
		out = append(out, "Add better error handling")
	}
	if hasSlow {
		out = append(out, "Optimize for performance")
	}
	if hasIncomplete {
		out = append(out, "Ensure outputs fully address inputs")
	}
	return out
}

func rollup(result *EvaluationResult, traces []*trace.Trace) {
	agents := make(map[string]struct{})
	tools := make(map[string]struct{})
	result.TotalTraces = len(traces)
	for _, t := range traces {
		result.TotalModelCalls += len(t.ModelCalls)
		result.TotalToolCalls += len(t.ToolCalls)
		result.TotalTokens += t.TotalTokens()
		result.TotalDuration += t.Duration
		for _, span := range t.AgentSpans {
			if span != nil {
				agents[span.Name] = struct{}{}
			}
		}
		for _, call := range t.ToolCalls {
			tools[call.Name] = struct{}{}
		}
	}
	result.AgentsObserved = sortedSet(agents)
	result.ToolsObserved = sortedSet(tools)
}

// Percent formats a [0,1] score as a whole percentage.
func Percent(score float64) string {
	return fmt.Sprintf("%.0f%%", score*100)
}

func preview(v any) string {
	var s string
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		s = typed
	default:
		s = fmt.Sprint(typed)
	}
	runes := []rune(s)
	if len(runes) > previewLength {
		return string(runes[:previewLength])
	}
	return s
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
