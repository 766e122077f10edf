package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nycquery_service/internal/domain/model"
)

func groupedRows(pairs ...[2]any) *model.RowSet {
	rs := &model.RowSet{Columns: []string{"large_n", "v"}, GroupColumn: "large_n"}
	for _, p := range pairs {
		rs.Rows = append(rs.Rows, model.Row{Values: map[string]any{"large_n": p[0], "v": p[1]}})
	}
	return rs
}

func keys(groups []model.RankedGroup) []any {
	out := make([]any, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Key)
	}
	return out
}

func TestRankMaxDescending(t *testing.T) {
	rs := groupedRows(
		[2]any{"A", 1.0}, [2]any{"A", 5.0},
		[2]any{"B", 9.0},
		[2]any{"C", 2.0}, [2]any{"C", 3.0},
	)
	groups := Rank(rs, "large_n", "v", model.AggMax, model.OrderDescending)
	assert.Equal(t, []any{"B", "A", "C"}, keys(groups))

	winner, ok := Winner(groups)
	require.True(t, ok)
	assert.Equal(t, "B", winner.Key)
	assert.Equal(t, 9.0, *winner.Value)
}

func TestRankAggregators(t *testing.T) {
	rs := groupedRows([2]any{"A", 1.0}, [2]any{"A", 2.0}, [2]any{"A", 9.0}, [2]any{"A", nil})
	tests := []struct {
		agg  model.Aggregator
		want float64
	}{
		{model.AggMin, 1},
		{model.AggMax, 9},
		{model.AggMean, 4},
		{model.AggMedian, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.agg), func(t *testing.T) {
			groups := Rank(rs, "large_n", "v", tt.agg, model.OrderAscending)
			require.Len(t, groups, 1)
			assert.Equal(t, tt.want, *groups[0].Value)
			assert.Equal(t, 4, groups[0].Count)
		})
	}
}

func TestRankNullKeyAndEmptyGroups(t *testing.T) {
	rs := groupedRows(
		[2]any{"A", nil},
		[2]any{nil, 3.0},
		[2]any{"B", 1.0},
	)
	groups := Rank(rs, "large_n", "v", model.AggMean, model.OrderAscending)
	assert.Equal(t, []any{"B", nil, "A"}, keys(groups))
	assert.Nil(t, groups[2].Value)
}

func TestRankTiesKeepFirstSeenOrder(t *testing.T) {
	rs := groupedRows([2]any{"C", 1.0}, [2]any{"A", 1.0}, [2]any{"B", 1.0})
	groups := Rank(rs, "large_n", "v", model.AggMean, model.OrderDescending)
	assert.Equal(t, []any{"C", "A", "B"}, keys(groups))
}

func TestSortGroupsIsIdempotent(t *testing.T) {
	rs := groupedRows([2]any{"A", 3.0}, [2]any{"B", 7.0}, [2]any{"C", nil}, [2]any{"D", 7.0}, [2]any{"E", 1.0})
	groups := Rank(rs, "large_n", "v", model.AggMean, model.OrderDescending)
	first := append([]model.RankedGroup(nil), groups...)

	SortGroups(groups, model.OrderDescending)
	assert.Equal(t, first, groups)
	assert.Equal(t, []any{"B", "D", "A", "E", "C"}, keys(groups))
}

func TestWinnerWithoutValues(t *testing.T) {
	_, ok := Winner(nil)
	assert.False(t, ok)

	groups := Rank(groupedRows([2]any{"A", nil}), "large_n", "v", model.AggMax, model.OrderDescending)
	_, ok = Winner(groups)
	assert.False(t, ok)
}
