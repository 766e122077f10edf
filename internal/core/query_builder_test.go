package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nycquery_service/internal/domain/catalog"
	"nycquery_service/internal/domain/model"
)

func newBuilder() *QueryBuilder {
	return NewQueryBuilder(catalog.Default())
}

func TestBuildAnalyzeAddsRegionPredicate(t *testing.T) {
	req, err := newBuilder().BuildAnalyze(model.AnalyzePlan{
		Column: "pop20", Dtype: model.DtypeNumeric, Scale: model.ScaleBorough,
		Region: model.Region{Scale: model.ScaleBorough, Code: 3},
		Table:  catalog.TableStreetBlock,
		Filters: []model.Filter{
			{Column: "housing20", Op: model.OpGt, Value: int64(10)},
			{Column: "zoning", Op: model.OpEq, Value: model.NoMatch},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.TableStreetBlock, req.Table)
	assert.Equal(t, []string{"pop20", "borocode"}, req.Columns)
	assert.Equal(t, "borocode", req.GroupColumn)
	assert.Equal(t, []model.Predicate{
		{Column: "housing20", Op: model.OpGt, Value: int64(10)},
		{Column: "borocode", Op: model.OpEq, Value: 3},
	}, req.Predicates)
}

func TestBuildAnalyzeKeepsExistingRegionPredicate(t *testing.T) {
	req, err := newBuilder().BuildAnalyze(model.AnalyzePlan{
		Column: "heightroof", Scale: model.ScaleLargeN,
		Region:  model.Region{Scale: model.ScaleLargeN, Name: "midtown manhattan"},
		Table:   catalog.TableBuildings,
		Filters: []model.Filter{{Column: "large_n", Op: model.OpEq, Value: "Midtown Manhattan"}},
	})
	require.NoError(t, err)
	require.Len(t, req.Predicates, 1)
	assert.Equal(t, "large_n", req.Predicates[0].Column)
}

func TestBuildAnalyzeCityHasNoRegion(t *testing.T) {
	req, err := newBuilder().BuildAnalyze(model.AnalyzePlan{
		Column: "zoning", Scale: model.ScaleCity, Table: catalog.TableStreetBlock,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"zoning"}, req.Columns)
	assert.Empty(t, req.Predicates)
	assert.Empty(t, req.GroupColumn)
}

func TestBuildRejectsMismatchAndUnknownColumns(t *testing.T) {
	b := newBuilder()

	_, err := b.Build(catalog.TableBuildings, "pop20", model.ScaleBorough, nil)
	assert.Equal(t, model.ErrInternal, model.CodeOf(err))

	_, err = b.Build(catalog.TableStreetBlock, "heightroof", model.ScaleBorough, nil)
	assert.Equal(t, model.ErrNoAppropriateColumn, model.CodeOf(err))

	_, err = b.Build(catalog.TableStreetBlock, "geom", model.ScaleCity, nil)
	assert.Error(t, err)

	_, err = b.Build(catalog.TableStreetBlock, "pop20", model.ScaleCity,
		[]model.Filter{{Column: "pop20", Op: "LIKE", Value: "%"}})
	assert.Error(t, err)
}

func TestBuildCompareUsesIn(t *testing.T) {
	req, err := newBuilder().BuildCompare(model.ComparePlan{
		Column: "height_avg", Scale: model.ScaleBorough, Table: catalog.TableStreetBlock,
		Region1: model.Region{Scale: model.ScaleBorough, Code: 1},
		Region2: model.Region{Scale: model.ScaleBorough, Code: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.Predicate{{Column: "borocode", Op: model.OpIn, Values: []any{1, 3}}}, req.Predicates)
}

func TestBuildRankingScan(t *testing.T) {
	req, err := newBuilder().BuildRankingScan(model.SearchPlan{ColumnBlock: "pop20", Scale: model.ScaleLargeN})
	require.NoError(t, err)
	assert.Equal(t, catalog.TableStreetBlock, req.Table)
	assert.Equal(t, []string{"large_n", "pop20"}, req.Columns)
	assert.True(t, req.SkipGeometry)
	assert.Empty(t, req.Predicates)

	_, err = newBuilder().BuildRankingScan(model.SearchPlan{ColumnBlock: "pop20", Scale: model.ScaleCity})
	assert.Equal(t, model.ErrInvalidScale, model.CodeOf(err))
}

func TestBuildWinnerFetch(t *testing.T) {
	p := model.SearchPlan{ColumnBlock: "height_avg", ColumnRegion: "heightroof", Scale: model.ScaleLargeN}

	req, err := newBuilder().BuildWinnerFetch(p, "south bronx")
	require.NoError(t, err)
	assert.Equal(t, catalog.TableBuildings, req.Table)
	assert.Equal(t, []string{"heightroof", "large_n"}, req.Columns)
	assert.Equal(t, []model.Predicate{{Column: "large_n", Op: model.OpEq, Value: "south bronx"}}, req.Predicates)

	req, err = newBuilder().BuildWinnerFetch(p, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.Predicate{{Column: "large_n", Op: model.OpIsNull}}, req.Predicates)
}
