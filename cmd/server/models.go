package main

// API request and response models

// RunPackRequest is the body of POST /api/v1/run-pack.
type RunPackRequest struct {
	PackID    string            `json:"packId" validate:"required"`
	TargetID  string            `json:"targetId" validate:"required"`
	Variables map[string]string `json:"variables,omitempty"`
}

// RunRuleRequest is the body of POST /api/v1/run-rule.
type RunRuleRequest struct {
	RuleID    string            `json:"ruleId" validate:"required"`
	TargetID  string            `json:"targetId" validate:"required"`
	Variables map[string]string `json:"variables,omitempty"`
}

// HealthResponse reports store reachability and the log counters.
type HealthResponse struct {
	Status   string           `json:"status"`
	Store    string           `json:"store"`
	Error    string           `json:"error,omitempty"`
	Counters map[string]int64 `json:"counters,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
