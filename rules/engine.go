package rules

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/rulecheck/internal/logger"
	"github.com/liamcoop/rulecheck/render"
	"github.com/liamcoop/rulecheck/scoring"
)

// Invoker sends a rendered prompt to a target and returns the target's output:
// a decoded JSON value for structured responses, otherwise the raw text.
type Invoker interface {
	Invoke(ctx context.Context, target *Target, prompt string, vars map[string]string) (any, error)
}

// Stage is a step of the per-rule pipeline. A failing rule's details record
// the stage it failed in.
type Stage string

const (
	StagePending    Stage = "pending"
	StageRendering  Stage = "rendering"
	StageInvoking   Stage = "invoking"
	StageExtracting Stage = "extracting"
	StageScoring    Stage = "scoring"
)

// Engine executes rules and packs against targets.
// Rules are independent: a failure inside one rule's pipeline becomes that
// rule's error result and never stops the others.
type Engine struct {
	store       Store
	invoker     Invoker
	scorers     *scoring.Registry
	concurrency int
	now         func() time.Time
	newRunID    func() string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConcurrency bounds how many rules of one pack run at once.
// Values below 1 mean sequential evaluation.
func WithConcurrency(n int) EngineOption {
	return func(en *Engine) {
		if n < 1 {
			n = 1
		}
		en.concurrency = n
	}
}

// WithScorers replaces the default scorer registry.
func WithScorers(r *scoring.Registry) EngineOption {
	return func(en *Engine) {
		en.scorers = r
	}
}

// WithClock overrides the time source used for run timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(en *Engine) {
		en.now = now
	}
}

// WithRunIDFunc overrides run id generation.
func WithRunIDFunc(fn func() string) EngineOption {
	return func(en *Engine) {
		en.newRunID = fn
	}
}

// NewEngine creates an engine that resolves definitions from store and calls
// targets through invoker.
func NewEngine(store Store, invoker Invoker, opts ...EngineOption) *Engine {
	en := &Engine{
		store:       store,
		invoker:     invoker,
		scorers:     scoring.NewRegistry(),
		concurrency: 1,
		now:         time.Now,
		newRunID:    func() string { return "run_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

// ExecuteRun evaluates every resolvable rule of a pack against a target.
// A missing pack or target is fatal; per-rule failures are reported in the
// results. Results follow the pack's rule order.
func (en *Engine) ExecuteRun(ctx context.Context, in ExecuteRunInput) (*ExecuteRunOutput, error) {
	pack, err := en.store.LookupPack(ctx, in.PackID)
	if err != nil {
		fatalRun()
		return nil, resolveError(err, ErrPackNotFound, "pack", in.PackID)
	}

	target, err := en.store.LookupTarget(ctx, in.TargetID)
	if err != nil {
		fatalRun()
		return nil, resolveError(err, ErrTargetNotFound, "target", in.TargetID)
	}

	rules, err := en.store.LookupRulesForPack(ctx, pack)
	if err != nil {
		fatalRun()
		return nil, fmt.Errorf("failed to resolve rules for pack %s: %w", pack.ID, err)
	}

	out := &ExecuteRunOutput{
		RunID:     en.newRunID(),
		PackID:    pack.ID,
		TargetID:  target.ID,
		StartedAt: en.now().UTC(),
	}

	logger.Info("run started",
		"run_id", out.RunID,
		"pack_id", pack.ID,
		"target_id", target.ID,
		"rules", len(rules),
		"dropped", len(pack.Rules)-len(rules),
	)

	out.Results = en.evaluateAll(ctx, rules, target, in.Variables)
	out.FinishedAt = en.now().UTC()

	for _, r := range out.Results {
		if r.Status == StatusPass {
			out.PassCount++
		}
	}

	runsTotal.WithLabelValues("completed").Inc()
	runDuration.Observe(out.FinishedAt.Sub(out.StartedAt).Seconds())

	logger.Info("run finished",
		"run_id", out.RunID,
		"pass_count", out.PassCount,
		"results", len(out.Results),
		"duration", out.FinishedAt.Sub(out.StartedAt).String(),
	)

	return out, nil
}

// ExecuteSingleRule evaluates one rule against a target. A missing rule or
// target is fatal; any later failure is returned as an error-status output.
func (en *Engine) ExecuteSingleRule(ctx context.Context, in ExecuteSingleRuleInput) (*ExecuteSingleRuleOutput, error) {
	rule, err := en.store.LookupRule(ctx, in.RuleID)
	if err != nil {
		fatalRun()
		return nil, resolveError(err, ErrRuleNotFound, "rule", in.RuleID)
	}

	target, err := en.store.LookupTarget(ctx, in.TargetID)
	if err != nil {
		fatalRun()
		return nil, resolveError(err, ErrTargetNotFound, "target", in.TargetID)
	}

	r := en.evaluate(ctx, rule, target, in.Variables)
	return &ExecuteSingleRuleOutput{
		RuleID:  r.RuleID,
		Status:  r.Status,
		Score:   r.Score,
		Details: r.Details,
	}, nil
}

// evaluateAll fans rules out over at most en.concurrency workers. Each worker
// writes only its own slot, so results keep the input order.
func (en *Engine) evaluateAll(ctx context.Context, rules []*Rule, target *Target, vars map[string]string) []RunResult {
	results := make([]RunResult, len(rules))

	var g errgroup.Group
	g.SetLimit(en.concurrency)
	for i, rule := range rules {
		g.Go(func() error {
			results[i] = en.evaluate(ctx, rule, target, vars)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// evaluate runs one rule through render, invoke, extract and score.
func (en *Engine) evaluate(ctx context.Context, rule *Rule, target *Target, vars map[string]string) (result RunResult) {
	stage := StagePending
	vars = maps.Clone(vars)

	defer func() {
		if r := recover(); r != nil {
			result = errorResult(rule.ID, stage, fmt.Errorf("panic: %v", r))
		}
		ruleResultsTotal.WithLabelValues(scoring.ParseKind(rule.Scoring).String(), string(result.Status)).Inc()
		if result.Status == StatusError {
			logger.RuleError()
			logger.Warn("rule evaluation failed", "rule_id", rule.ID, "target_id", target.ID, "details", result.Details)
			return
		}
		logger.Debug("rule evaluated", "rule_id", rule.ID, "status", result.Status, "score", result.Score)
	}()

	stage = StageRendering
	prompt, err := render.String(rule.PromptTemplate, vars)
	if err != nil {
		return errorResult(rule.ID, stage, err)
	}

	stage = StageInvoking
	output, err := en.invoker.Invoke(ctx, target, prompt, vars)
	if err != nil {
		return errorResult(rule.ID, stage, err)
	}

	stage = StageExtracting
	actual := Extract(rule.IO, output)

	stage = StageScoring
	scorer, err := en.scorers.Lookup(rule.Scoring)
	if err != nil {
		return errorResult(rule.ID, stage, err)
	}

	verdict, err := scorer.Score(rule.Expected, actual)
	if err != nil {
		return errorResult(rule.ID, stage, err)
	}

	status := StatusFail
	if verdict.Passed {
		status = StatusPass
	}
	return RunResult{
		RuleID:  rule.ID,
		Status:  status,
		Score:   verdict.Score,
		Details: verdict.Details,
	}
}

func fatalRun() {
	runsTotal.WithLabelValues("fatal").Inc()
	logger.FatalRun()
}

func errorResult(ruleID string, stage Stage, err error) RunResult {
	return RunResult{
		RuleID: ruleID,
		Status: StatusError,
		Score:  0,
		Details: map[string]any{
			"error": err.Error(),
			"stage": string(stage),
		},
	}
}

// resolveError maps a lookup failure to the fatal error callers match on.
func resolveError(err, sentinel error, kind, id string) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return fmt.Errorf("failed to resolve %s %s: %w", kind, id, err)
}
