package model

import "context"

// ModeDecision is a mode classifier's answer. Usage is set whenever the
// inference call itself completed, even if its output was unusable.
type ModeDecision struct {
	Label string
	Usage *Usage
}

// ModeClassifier labels a query with the pipeline that should answer it.
type ModeClassifier interface {
	ClassifyMode(ctx context.Context, query string) (ModeDecision, error)
}

// RawPlan is the planner's unparsed output.
type RawPlan struct {
	Text  string
	Usage *Usage
}

// PlanGenerator turns a query into a mode-specific plan document.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, mode Mode, query string, history []Turn) (RawPlan, error)
}

// ExplainRequest is everything an explanation may be based on. It never
// carries raw rows.
type ExplainRequest struct {
	Query   string
	Mode    Mode
	Column  string
	Region  Region
	Summary *Summary
}

// Explainer writes a natural-language explanation of a computed summary.
type Explainer interface {
	Explain(ctx context.Context, req ExplainRequest) (string, error)
}

// DataStore executes a QueryRequest. An empty RowSet is a valid outcome.
type DataStore interface {
	Fetch(ctx context.Context, req QueryRequest) (*RowSet, error)
}
