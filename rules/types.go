package rules

import "time"

// Status is the outcome of evaluating one rule.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// Output kinds a rule can declare in IO.Expects.
const (
	ExpectsJSON = "json"
	ExpectsText = "text"
)

// IO describes how a target's output is interpreted before scoring.
// Field is reserved for sub-field selection and is not applied yet.
type IO struct {
	Expects string `json:"expects" yaml:"expects" validate:"required,oneof=json text"`
	Field   string `json:"field,omitempty" yaml:"field,omitempty"`
}

// Rule is a single declarative check.
type Rule struct {
	ID             string         `json:"id" yaml:"id" validate:"required,identifier"`
	Name           string         `json:"name" yaml:"name" validate:"required"`
	Category       string         `json:"category" yaml:"category"`
	Scoring        string         `json:"scoring" yaml:"scoring" validate:"required"`
	PromptTemplate string         `json:"promptTemplate" yaml:"promptTemplate"`
	Expected       map[string]any `json:"expected,omitempty" yaml:"expected,omitempty"`
	IO             IO             `json:"io" yaml:"io"`
}

// PackRule references a rule from a pack. Freq and Threshold are advisory
// metadata for an external scheduler; the engine does not read them.
type PackRule struct {
	ID        string  `json:"id" yaml:"id" validate:"required"`
	Freq      string  `json:"freq" yaml:"freq" validate:"omitempty,oneof=hourly daily weekly"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// Pack is an ordered collection of rules evaluated together.
type Pack struct {
	ID    string     `json:"id" yaml:"id" validate:"required,identifier"`
	Name  string     `json:"name" yaml:"name" validate:"required"`
	Rules []PackRule `json:"rules" yaml:"rules" validate:"dive"`
}

// TargetTypeHTTP is the only invocation strategy implemented.
const TargetTypeHTTP = "http"

// Target is the external service under evaluation.
type Target struct {
	ID           string            `json:"id" yaml:"id" validate:"required,identifier"`
	Name         string            `json:"name" yaml:"name" validate:"required"`
	Type         string            `json:"type" yaml:"type" validate:"omitempty,oneof=http"`
	Method       string            `json:"method" yaml:"method"`
	BaseURL      string            `json:"baseUrl" yaml:"baseUrl" validate:"required,url"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	BodyTemplate any               `json:"bodyTemplate,omitempty" yaml:"bodyTemplate,omitempty"`
	Capabilities map[string]any    `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// RunResult is the outcome of one rule within a run.
type RunResult struct {
	RuleID  string  `json:"ruleId"`
	Status  Status  `json:"status"`
	Score   float64 `json:"score"`
	Details any     `json:"details,omitempty"`
}

// ExecuteRunInput asks for a pack to be evaluated against a target.
type ExecuteRunInput struct {
	PackID    string            `json:"packId" validate:"required"`
	TargetID  string            `json:"targetId" validate:"required"`
	Variables map[string]string `json:"variables,omitempty"`
}

// ExecuteRunOutput is the result of one pack execution.
type ExecuteRunOutput struct {
	RunID      string      `json:"runId"`
	PackID     string      `json:"packId"`
	TargetID   string      `json:"targetId"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	PassCount  int         `json:"passCount"`
	Results    []RunResult `json:"results"`
}

// ExecuteSingleRuleInput asks for one rule to be evaluated against a target.
type ExecuteSingleRuleInput struct {
	RuleID    string            `json:"ruleId" validate:"required"`
	TargetID  string            `json:"targetId" validate:"required"`
	Variables map[string]string `json:"variables,omitempty"`
}

// ExecuteSingleRuleOutput is the result of a single rule execution.
type ExecuteSingleRuleOutput struct {
	RuleID  string  `json:"ruleId"`
	Status  Status  `json:"status"`
	Score   float64 `json:"score"`
	Details any     `json:"details,omitempty"`
}
