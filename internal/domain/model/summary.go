package model

import "encoding/json"

// Summary is the statistical reduction of one column. Numeric summaries
// fill Mean..Max; categorical and boolean summaries fill Categories.
type Summary struct {
	Dtype      Dtype
	Count      int
	Mean       *float64
	Median     *float64
	Min        *float64
	Max        *float64
	Categories map[string]int
}

// EmptySummary is the zero-state summary for a dtype. Categorical and
// boolean summaries carry an empty category map, never a nil one.
func EmptySummary(d Dtype) *Summary {
	if d == DtypeNumeric {
		return &Summary{Dtype: d}
	}
	return &Summary{Dtype: d, Categories: map[string]int{}}
}

type numericSummaryJSON struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Median *float64 `json:"median"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
}

type categoricalSummaryJSON struct {
	Count      int            `json:"count"`
	Categories map[string]int `json:"categories"`
}

func (s Summary) MarshalJSON() ([]byte, error) {
	if s.Dtype == DtypeNumeric {
		return json.Marshal(numericSummaryJSON{
			Count: s.Count, Mean: s.Mean, Median: s.Median, Min: s.Min, Max: s.Max,
		})
	}
	return json.Marshal(categoricalSummaryJSON{Count: s.Count, Categories: s.Categories})
}

// RankedGroup is one region of a search ranking. Value is nil when the
// group had no usable values.
type RankedGroup struct {
	Key   any      `json:"key"`
	Value *float64 `json:"value"`
	Count int      `json:"count"`
}

// Pair holds the per-region halves of a compare result.
type Pair[T any] struct {
	Region1 T `json:"region1"`
	Region2 T `json:"region2"`
}

// SearchColumns names both columns of a search plan.
type SearchColumns struct {
	Block  string `json:"block"`
	Region string `json:"region"`
}

type SearchDtypes struct {
	Block  Dtype `json:"block"`
	Region Dtype `json:"region"`
}
