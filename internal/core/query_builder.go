package core

import (
	"fmt"
	"strings"

	"nycquery_service/internal/domain/catalog"
	"nycquery_service/internal/domain/model"
)

// QueryBuilder turns validated plans into parameterized query requests.
// Identifiers are re-checked against the catalog; values stay as bound
// parameters.
type QueryBuilder struct {
	cat *catalog.Catalog
}

func NewQueryBuilder(cat *catalog.Catalog) *QueryBuilder {
	return &QueryBuilder{cat: cat}
}

// Build assembles a request for column of table at scale, restricted by the
// filters and, when given, by the regions' group column.
func (b *QueryBuilder) Build(table, column string, scale model.Scale, filters []model.Filter, regions ...model.Region) (model.QueryRequest, error) {
	if table != scale.Table() {
		return model.QueryRequest{}, model.Errorf(model.ErrInternal, "table %s does not serve scale %s", table, scale)
	}
	if err := b.checkColumn(table, column); err != nil {
		return model.QueryRequest{}, err
	}

	group := scale.GroupColumn()
	req := model.QueryRequest{
		Table:       table,
		Columns:     []string{column},
		GroupColumn: group,
	}
	if group != "" && group != column {
		req.Columns = append(req.Columns, group)
	}

	for _, f := range filters {
		if s, ok := f.Value.(string); ok && strings.EqualFold(s, model.NoMatch) {
			continue
		}
		if err := b.checkColumn(table, f.Column); err != nil {
			return model.QueryRequest{}, err
		}
		if _, ok := model.ParseOperator(string(f.Op)); !ok {
			return model.QueryRequest{}, model.Errorf(model.ErrInternal, "operator %q reached the builder", f.Op)
		}
		req.Predicates = append(req.Predicates, model.Predicate{Column: f.Column, Op: f.Op, Value: f.Value})
	}

	switch len(regions) {
	case 0:
	case 1:
		if group != "" && !hasEquality(req.Predicates, group, regions[0].Value()) {
			req.Predicates = append(req.Predicates, model.Predicate{Column: group, Op: model.OpEq, Value: regions[0].Value()})
		}
	default:
		if group == "" {
			return model.QueryRequest{}, model.Errorf(model.ErrInvalidScale, "scale %s has no region column", scale)
		}
		values := make([]any, 0, len(regions))
		for _, r := range regions {
			values = append(values, r.Value())
		}
		req.Predicates = append(req.Predicates, model.Predicate{Column: group, Op: model.OpIn, Values: values})
	}
	return req, nil
}

// BuildAnalyze restricts to the plan's region.
func (b *QueryBuilder) BuildAnalyze(p model.AnalyzePlan) (model.QueryRequest, error) {
	if p.Scale == model.ScaleCity {
		return b.Build(p.Table, p.Column, p.Scale, p.Filters)
	}
	return b.Build(p.Table, p.Column, p.Scale, p.Filters, p.Region)
}

// BuildCompare restricts to group_column IN (region1, region2).
func (b *QueryBuilder) BuildCompare(p model.ComparePlan) (model.QueryRequest, error) {
	return b.Build(p.Table, p.Column, p.Scale, p.Filters, p.Region1, p.Region2)
}

// BuildRankingScan reads the ranking column of the block table for every
// region at the plan's scale, without filters.
func (b *QueryBuilder) BuildRankingScan(p model.SearchPlan) (model.QueryRequest, error) {
	group := p.Scale.GroupColumn()
	if group == "" {
		return model.QueryRequest{}, model.Errorf(model.ErrInvalidScale, "search needs a region column at scale %s", p.Scale)
	}
	if err := b.checkColumn(catalog.TableStreetBlock, p.ColumnBlock); err != nil {
		return model.QueryRequest{}, err
	}
	if err := b.checkColumn(catalog.TableStreetBlock, group); err != nil {
		return model.QueryRequest{}, err
	}
	return model.QueryRequest{
		Table:        catalog.TableStreetBlock,
		Columns:      []string{group, p.ColumnBlock},
		GroupColumn:  group,
		SkipGeometry: true,
	}, nil
}

// BuildWinnerFetch reads the rows of the winning region. The
// table follows the scale: the block table again at borough scale, the
// building table at large_n scale.
func (b *QueryBuilder) BuildWinnerFetch(p model.SearchPlan, winner any) (model.QueryRequest, error) {
	table := p.FollowUpTable()
	column := p.FollowUpColumn()
	group := p.Scale.GroupColumn()
	if err := b.checkColumn(table, column); err != nil {
		return model.QueryRequest{}, err
	}
	if err := b.checkColumn(table, group); err != nil {
		return model.QueryRequest{}, err
	}

	req := model.QueryRequest{
		Table:       table,
		Columns:     []string{column},
		GroupColumn: group,
	}
	if group != column {
		req.Columns = append(req.Columns, group)
	}
	if winner == nil {
		req.Predicates = []model.Predicate{{Column: group, Op: model.OpIsNull}}
	} else {
		req.Predicates = []model.Predicate{{Column: group, Op: model.OpEq, Value: winner}}
	}
	return req, nil
}

func (b *QueryBuilder) checkColumn(table, column string) error {
	t, ok := b.cat.Table(table)
	if !ok {
		return model.Errorf(model.ErrInternal, "table %q is not in the catalog", table)
	}
	if _, ok := t.Column(column); !ok || column == b.cat.GeometryColumn {
		return model.Errorf(model.ErrNoAppropriateColumn, "column %q is not selectable from %s", column, table)
	}
	return nil
}

func hasEquality(preds []model.Predicate, column string, value any) bool {
	for _, p := range preds {
		if p.Column == column && p.Op == model.OpEq && strings.EqualFold(fmt.Sprint(p.Value), fmt.Sprint(value)) {
			return true
		}
	}
	return false
}
