package core

import (
	"sort"

	"nycquery_service/internal/domain/model"
)

const nullGroupKey = "\x00null"

// Rank groups rows by groupColumn, reduces valueColumn per group with agg
// and sorts the groups. Rows with a NULL group key form their own group.
// Groups keep first-seen order on ties.
func Rank(rs *model.RowSet, groupColumn, valueColumn string, agg model.Aggregator, order model.Order) []model.RankedGroup {
	if rs == nil || len(rs.Rows) == 0 {
		return nil
	}

	type bucket struct {
		key    any
		values []float64
		count  int
	}
	index := make(map[string]int)
	var buckets []*bucket

	for _, r := range rs.Rows {
		raw := normalizeKey(r.Values[groupColumn])
		k := nullGroupKey
		if raw != nil {
			k, _ = categoryKey(raw)
		}
		i, ok := index[k]
		if !ok {
			i = len(buckets)
			index[k] = i
			buckets = append(buckets, &bucket{key: raw})
		}
		b := buckets[i]
		b.count++
		if f, ok := toFloat(r.Values[valueColumn]); ok {
			b.values = append(b.values, f)
		}
	}

	groups := make([]model.RankedGroup, 0, len(buckets))
	for _, b := range buckets {
		groups = append(groups, model.RankedGroup{
			Key:   b.key,
			Value: aggregate(b.values, agg),
			Count: b.count,
		})
	}
	SortGroups(groups, order)
	return groups
}

// SortGroups orders groups by value. Groups without a value sort last in
// both directions. The sort is stable, so re-sorting is a no-op.
func SortGroups(groups []model.RankedGroup, order model.Order) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Value, groups[j].Value
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		case order == model.OrderAscending:
			return *a < *b
		default:
			return *a > *b
		}
	})
}

// Winner is the first ranked group that has a value.
func Winner(groups []model.RankedGroup) (model.RankedGroup, bool) {
	if len(groups) == 0 || groups[0].Value == nil {
		return model.RankedGroup{}, false
	}
	return groups[0], true
}

func aggregate(values []float64, agg model.Aggregator) *float64 {
	if len(values) == 0 {
		return nil
	}
	var v float64
	switch agg {
	case model.AggMin:
		v = values[0]
		for _, x := range values[1:] {
			if x < v {
				v = x
			}
		}
	case model.AggMax:
		v = values[0]
		for _, x := range values[1:] {
			if x > v {
				v = x
			}
		}
	case model.AggMedian:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		v = medianOfSorted(sorted)
	default:
		v = meanOf(values)
	}
	return &v
}

func normalizeKey(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
