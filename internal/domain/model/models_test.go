package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nycquery_service/internal/domain/catalog"
)

func TestScaleRouting(t *testing.T) {
	assert.Equal(t, catalog.TableStreetBlock, ScaleCity.Table())
	assert.Equal(t, catalog.TableStreetBlock, ScaleBorough.Table())
	assert.Equal(t, catalog.TableBuildings, ScaleLargeN.Table())

	assert.Equal(t, "", ScaleCity.GroupColumn())
	assert.Equal(t, "borocode", ScaleBorough.GroupColumn())
	assert.Equal(t, "large_n", ScaleLargeN.GroupColumn())

	_, ok := ParseScale("planet")
	assert.False(t, ok)
	sc, ok := ParseScale(" Borough ")
	require.True(t, ok)
	assert.Equal(t, ScaleBorough, sc)
}

func TestParseAggregatorDefaultsToMean(t *testing.T) {
	assert.Equal(t, AggMax, ParseAggregator("MAX"))
	assert.Equal(t, AggMedian, ParseAggregator("median"))
	assert.Equal(t, AggMean, ParseAggregator(""))
	assert.Equal(t, AggMean, ParseAggregator("sum"))
}

func TestParseOrderDefaultsToDescending(t *testing.T) {
	assert.Equal(t, OrderAscending, ParseOrder("asc"))
	assert.Equal(t, OrderAscending, ParseOrder("Ascending"))
	assert.Equal(t, OrderDescending, ParseOrder("descending"))
	assert.Equal(t, OrderDescending, ParseOrder(""))
	assert.Equal(t, OrderDescending, ParseOrder("lowest first"))
}

func TestParseOperatorWhitelist(t *testing.T) {
	for _, s := range []string{"=", ">", "<", ">=", "<="} {
		_, ok := ParseOperator(s)
		assert.True(t, ok, s)
	}
	for _, s := range []string{"!=", "LIKE", "IN", "IS NULL", "; DROP TABLE"} {
		_, ok := ParseOperator(s)
		assert.False(t, ok, s)
	}
}

func TestFilterAndRegionJSON(t *testing.T) {
	b, err := json.Marshal(Filter{Column: "heightroof", Op: OpGt, Value: 328.084})
	require.NoError(t, err)
	assert.JSONEq(t, `["heightroof", ">", 328.084]`, string(b))

	b, err = json.Marshal(Region{Scale: ScaleBorough, Code: 3})
	require.NoError(t, err)
	assert.Equal(t, "3", string(b))

	b, err = json.Marshal(Region{Scale: ScaleLargeN, Name: "south bronx"})
	require.NoError(t, err)
	assert.Equal(t, `"south bronx"`, string(b))

	b, err = json.Marshal(Region{Scale: ScaleCity})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestSummaryJSONShapes(t *testing.T) {
	b, err := json.Marshal(EmptySummary(DtypeNumeric))
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":0,"mean":null,"median":null,"min":null,"max":null}`, string(b))

	for _, d := range []Dtype{DtypeCategorical, DtypeBoolean} {
		b, err = json.Marshal(EmptySummary(d))
		require.NoError(t, err)
		assert.JSONEq(t, `{"count":0,"categories":{}}`, string(b), string(d))
	}

	b, err = json.Marshal(&Summary{Dtype: DtypeCategorical, Count: 3, Categories: map[string]int{"R6": 2, "C1": 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":3,"categories":{"R6":2,"C1":1}}`, string(b))
}

func TestErrorEnvelopeKeepsEveryKey(t *testing.T) {
	mode := ModeAnalyze
	usage := &Usage{Total: 10, Input: 7, Output: 3}
	env := ErrorEnvelope(&mode, Errorf(ErrInvalidRegion, "region %d out of range", 9), usage, nil)

	b, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, key := range []string{"mode", "geojson", "column", "dtype", "scale", "region", "table",
		"filters", "summary", "explanation", "ranking", "diagnostics", "usage", "mode_usage", "error", "error_detail"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "InvalidRegion", raw["error"])
	assert.Nil(t, raw["summary"])
	assert.Nil(t, raw["geojson"])
	assert.Equal(t, float64(10), raw["usage"].(map[string]any)["total"])
	assert.False(t, env.Succeeded())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.Equal(t, ErrInternal, CodeOf(errors.New("boom")))

	wrapped := fmt.Errorf("fetch: %w", WrapError(ErrNoFinalData, "fetch", errors.New("0 rows")))
	assert.Equal(t, ErrNoFinalData, CodeOf(wrapped))
	assert.Equal(t, ErrStore, ErrNoFinalData.Parent())
	assert.Equal(t, ErrPlanGeneration, ErrOutputFormat.Parent())
	assert.Equal(t, ErrInvalidScale, ErrInvalidScale.Parent())
}

func TestFeatureCollectionPassesGeometryThrough(t *testing.T) {
	rs := &RowSet{
		Columns: []string{"heightroof"},
		Rows: []Row{
			{Values: map[string]any{"heightroof": 330.0}, Geometry: json.RawMessage(`{"type":"Point","coordinates":[1,2]}`)},
			{Values: map[string]any{"heightroof": nil}},
		},
	}
	b, err := json.Marshal(rs.FeatureCollection())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"heightroof":330}},
		{"type":"Feature","geometry":null,"properties":{"heightroof":null}}]}`, string(b))

	var empty *RowSet
	assert.Empty(t, empty.FeatureCollection().Features)
	assert.Equal(t, 0, empty.Len())
}

func TestHeadAndConcat(t *testing.T) {
	rows := func(n int, key any) *RowSet {
		rs := &RowSet{Table: "buildings", Columns: []string{"heightroof"}}
		for i := 0; i < n; i++ {
			rs.Rows = append(rs.Rows, Row{Values: map[string]any{"heightroof": key}})
		}
		return rs
	}
	a, b := rows(5, 1.0), rows(2, 2.0)

	assert.Equal(t, 3, a.Head(3).Len())
	assert.Equal(t, 5, a.Len(), "Head leaves the receiver alone")
	assert.Same(t, a, a.Head(0))
	assert.Same(t, a, a.Head(10))

	both := a.Head(3).Concat(b, nil)
	require.Equal(t, 5, both.Len())
	assert.Equal(t, "buildings", both.Table)
	assert.Equal(t, 1.0, both.Rows[2].Values["heightroof"])
	assert.Equal(t, 2.0, both.Rows[3].Values["heightroof"])
	assert.Equal(t, 5, a.Len())

	var empty *RowSet
	assert.Nil(t, empty.Head(2))
}
