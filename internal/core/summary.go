package core

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"nycquery_service/internal/domain/model"
)

// Summarize reduces one column of a result set according to its dtype.
// Null values are ignored; nothing left means the zero-state summary.
func Summarize(rs *model.RowSet, column string, dtype model.Dtype) *model.Summary {
	if rs == nil || column == "" || !rs.HasColumn(column) {
		return model.EmptySummary(dtype)
	}
	if dtype == model.DtypeNumeric {
		return summarizeNumeric(rs, column)
	}
	return summarizeCategorical(rs, column, dtype)
}

func summarizeNumeric(rs *model.RowSet, column string) *model.Summary {
	values := make([]float64, 0, len(rs.Rows))
	for _, r := range rs.Rows {
		if f, ok := toFloat(r.Values[column]); ok {
			values = append(values, f)
		}
	}
	if len(values) == 0 {
		return model.EmptySummary(model.DtypeNumeric)
	}

	sort.Float64s(values)
	mean := meanOf(values)
	median := medianOfSorted(values)
	lo, hi := values[0], values[len(values)-1]
	return &model.Summary{
		Dtype:  model.DtypeNumeric,
		Count:  len(values),
		Mean:   &mean,
		Median: &median,
		Min:    &lo,
		Max:    &hi,
	}
}

func summarizeCategorical(rs *model.RowSet, column string, dtype model.Dtype) *model.Summary {
	s := model.EmptySummary(dtype)
	for _, r := range rs.Rows {
		key, ok := categoryKey(r.Values[column])
		if !ok {
			continue
		}
		s.Categories[key]++
		s.Count++
	}
	return s
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// medianOfSorted averages the two middle values of an even-length input.
func medianOfSorted(values []float64) float64 {
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// toFloat reads a driver value as a number. NULL, NaN and non-numeric text
// are not numbers.
func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int64:
		f = float64(val)
	case int32:
		f = float64(val)
	case int:
		f = float64(val)
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case []byte:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func categoryKey(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case []byte:
		return string(val), true
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		if math.IsNaN(val) {
			return "", false
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	}
	return fmt.Sprint(v), true
}
