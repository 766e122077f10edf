package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"nycquery_service/internal/domain/catalog"
)

// Mode is the pipeline a query is routed to.
type Mode string

const (
	ModeAnalyze Mode = "analyze"
	ModeSearch  Mode = "search"
	ModeCompare Mode = "compare"
)

// ParseMode normalizes a classifier label.
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAnalyze, ModeSearch, ModeCompare:
		return m, true
	}
	return "", false
}

// Scale is the granularity of spatial aggregation.
type Scale string

const (
	ScaleCity    Scale = "city"
	ScaleBorough Scale = "borough"
	ScaleLargeN  Scale = "large_n"
)

func ParseScale(s string) (Scale, bool) {
	switch sc := Scale(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScaleCity, ScaleBorough, ScaleLargeN:
		return sc, true
	}
	return "", false
}

// Table is the dataset table a scale reads from: the block table for city
// and borough, the building table for large neighborhoods.
func (s Scale) Table() string {
	if s == ScaleLargeN {
		return catalog.TableBuildings
	}
	return catalog.TableStreetBlock
}

// GroupColumn is the column identifying a region at this scale. City scale
// has none.
func (s Scale) GroupColumn() string {
	switch s {
	case ScaleBorough:
		return "borocode"
	case ScaleLargeN:
		return "large_n"
	}
	return ""
}

// Dtype is the data type the planner assigned to an analysis column.
type Dtype string

const (
	DtypeNumeric     Dtype = "numeric"
	DtypeCategorical Dtype = "categorical"
	DtypeBoolean     Dtype = "boolean"
)

func ParseDtype(s string) (Dtype, bool) {
	switch d := Dtype(strings.ToLower(strings.TrimSpace(s))); d {
	case DtypeNumeric, DtypeCategorical, DtypeBoolean:
		return d, true
	}
	return "", false
}

// Kind is the catalog partition a column of this dtype must belong to.
func (d Dtype) Kind() catalog.Kind {
	switch d {
	case DtypeNumeric:
		return catalog.KindNumeric
	case DtypeBoolean:
		return catalog.KindBoolean
	}
	return catalog.KindCategorical
}

// Operator is a comparison operator in a filter predicate.
type Operator string

const (
	OpEq  Operator = "="
	OpGt  Operator = ">"
	OpLt  Operator = "<"
	OpGte Operator = ">="
	OpLte Operator = "<="

	// Builder-internal operators; never accepted from a plan.
	OpIn     Operator = "IN"
	OpIsNull Operator = "IS NULL"
)

// ParseOperator accepts only the operators a plan may use.
func ParseOperator(s string) (Operator, bool) {
	switch op := Operator(strings.TrimSpace(s)); op {
	case OpEq, OpGt, OpLt, OpGte, OpLte:
		return op, true
	}
	return "", false
}

// NoMatch is the planner's sentinel for "nothing in the schema fits".
const NoMatch = "NO_MATCH"

// Filter is one [column, operator, value] restriction from a plan.
type Filter struct {
	Column string
	Op     Operator
	Value  any
}

// MarshalJSON keeps the triple form the planner produces.
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{f.Column, string(f.Op), f.Value})
}

func (f Filter) String() string {
	return fmt.Sprintf("[%s %s %v]", f.Column, f.Op, f.Value)
}

// Region identifies an area at a given scale: a borocode for borough scale,
// a large neighborhood name for large_n scale, nothing for city scale.
type Region struct {
	Scale Scale
	Code  int
	Name  string
}

// Value is the value the region's group column holds.
func (r Region) Value() any {
	switch r.Scale {
	case ScaleBorough:
		return r.Code
	case ScaleLargeN:
		return r.Name
	}
	return nil
}

func (r Region) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value())
}

func (r Region) String() string {
	if v := r.Value(); v != nil {
		return fmt.Sprint(v)
	}
	return "all areas"
}

// Aggregator reduces a group's values to a single ranking value.
type Aggregator string

const (
	AggMean   Aggregator = "mean"
	AggMedian Aggregator = "median"
	AggMin    Aggregator = "min"
	AggMax    Aggregator = "max"
)

// ParseAggregator falls back to mean for anything unrecognized.
func ParseAggregator(s string) Aggregator {
	switch a := Aggregator(strings.ToLower(strings.TrimSpace(s))); a {
	case AggMean, AggMedian, AggMin, AggMax:
		return a
	}
	return AggMean
}

// Order is the sort direction of a ranking.
type Order string

const (
	OrderAscending  Order = "ascending"
	OrderDescending Order = "descending"
)

// ParseOrder is ascending only when the input starts with "asc".
func ParseOrder(s string) Order {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "asc") {
		return OrderAscending
	}
	return OrderDescending
}

// Plan is a validated, mode-specific query intent. Only the validator
// produces values of these types.
type Plan interface {
	Mode() Mode
	isPlan()
}

type AnalyzePlan struct {
	Column  string
	Dtype   Dtype
	Scale   Scale
	Region  Region
	Table   string
	Filters []Filter
}

func (AnalyzePlan) Mode() Mode { return ModeAnalyze }
func (AnalyzePlan) isPlan()    {}

type SearchPlan struct {
	ColumnBlock  string
	ColumnRegion string
	DtypeBlock   Dtype
	DtypeRegion  Dtype
	Scale        Scale
	Analysis     Aggregator
	Order        Order
}

func (SearchPlan) Mode() Mode { return ModeSearch }
func (SearchPlan) isPlan()    {}

// FollowUpTable is the table the winner region is fetched from: borough
// scale re-reads the block table, large_n scale reads the building table.
func (p SearchPlan) FollowUpTable() string {
	return p.Scale.Table()
}

// FollowUpColumn and FollowUpDtype describe the column summarized for the
// winner region.
func (p SearchPlan) FollowUpColumn() string {
	if p.Scale == ScaleLargeN {
		return p.ColumnRegion
	}
	return p.ColumnBlock
}

func (p SearchPlan) FollowUpDtype() Dtype {
	if p.Scale == ScaleLargeN {
		return p.DtypeRegion
	}
	return p.DtypeBlock
}

type ComparePlan struct {
	Column  string
	Dtype   Dtype
	Scale   Scale
	Region1 Region
	Region2 Region
	Table   string
	Filters []Filter
}

func (ComparePlan) Mode() Mode { return ModeCompare }
func (ComparePlan) isPlan()    {}

// Diagnostic records a plan element the validator dropped.
type Diagnostic struct {
	Filter string `json:"filter"`
	Reason string `json:"reason"`
}

// Turn is one prior message of a conversation.
type Turn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=4000"`
}

// Usage is token telemetry from an inference call.
type Usage struct {
	Total  int `json:"total"`
	Input  int `json:"input"`
	Output int `json:"output"`
}
