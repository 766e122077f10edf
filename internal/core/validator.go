package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"nycquery_service/internal/domain/catalog"
	"nycquery_service/internal/domain/model"
)

// PlanValidator turns planner output into a typed plan. Every identifier in
// a validated plan exists in the catalog.
type PlanValidator struct {
	cat *catalog.Catalog
	log *zap.Logger
}

func NewPlanValidator(cat *catalog.Catalog, log *zap.Logger) *PlanValidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &PlanValidator{cat: cat, log: log}
}

type rawObject map[string]json.RawMessage

// Validate decodes and normalizes a raw plan for mode. The diagnostics list
// the filters that were dropped.
func (v *PlanValidator) Validate(mode model.Mode, raw string) (model.Plan, []model.Diagnostic, error) {
	obj, err := decodePlanObject(raw)
	if err != nil {
		return nil, nil, err
	}

	switch mode {
	case model.ModeAnalyze:
		return v.validateAnalyze(obj)
	case model.ModeSearch:
		p, err := v.validateSearch(obj)
		return p, nil, err
	case model.ModeCompare:
		return v.validateCompare(obj)
	}
	return nil, nil, model.Errorf(model.ErrInternal, "mode '%s' not implemented", mode)
}

// decodePlanObject strips markdown fences the model sometimes adds and
// decodes a JSON object.
func decodePlanObject(raw string) (rawObject, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var obj rawObject
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, model.Errorf(model.ErrOutputFormat, "plan is not a JSON object: %v (output: %.200s)", err, s)
	}
	if obj == nil {
		return nil, model.Errorf(model.ErrOutputFormat, "plan is null")
	}
	return obj, nil
}

func requireKeys(obj rawObject, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return model.Errorf(model.ErrMissingPlanFields, "plan is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// stringField reads a string field; null and absent read as "".
func stringField(obj rawObject, key string) (string, error) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", model.Errorf(model.ErrOutputFormat, "plan field %s is not a string", key)
	}
	return strings.TrimSpace(s), nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (v *PlanValidator) scale(obj rawObject) (model.Scale, error) {
	s, err := stringField(obj, "scale")
	if err != nil {
		return "", model.Errorf(model.ErrInvalidScale, "scale is not a string")
	}
	sc, ok := model.ParseScale(s)
	if !ok {
		return "", model.Errorf(model.ErrInvalidScale, "unrecognized scale %q", s)
	}
	return sc, nil
}

// analysisColumn resolves the analysis column against the table catalog and
// returns the dtype the catalog assigns it. A dtype that disagrees with the
// planner's is corrected.
func (v *PlanValidator) analysisColumn(table, column, plannerDtype string) (string, model.Dtype, error) {
	if column == "" || strings.EqualFold(column, model.NoMatch) {
		return "", "", model.Errorf(model.ErrNoAppropriateColumn, "there is no appropriate data for your query")
	}
	t, ok := v.cat.Table(table)
	if !ok {
		return "", "", model.Errorf(model.ErrInternal, "table %s missing from catalog", table)
	}
	col, ok := t.Column(column)
	if !ok {
		return "", "", model.Errorf(model.ErrNoAppropriateColumn, "column %q does not exist in %s", column, table)
	}

	var dtype model.Dtype
	switch col.Kind {
	case catalog.KindNumeric:
		dtype = model.DtypeNumeric
	case catalog.KindCategorical:
		dtype = model.DtypeCategorical
	case catalog.KindBoolean:
		dtype = model.DtypeBoolean
	default:
		return "", "", model.Errorf(model.ErrNoAppropriateColumn, "column %q of %s is not an analysis column", column, table)
	}

	if d, ok := model.ParseDtype(plannerDtype); !ok || d != dtype {
		v.log.Debug("planner dtype corrected from catalog",
			zap.String("column", column), zap.String("planner_dtype", plannerDtype), zap.String("dtype", string(dtype)))
	}
	return col.Name, dtype, nil
}

// region coerces a region value to the type its scale requires.
func (v *PlanValidator) region(scale model.Scale, raw json.RawMessage, key string) (model.Region, error) {
	switch scale {
	case model.ScaleCity:
		return model.Region{Scale: model.ScaleCity}, nil

	case model.ScaleBorough:
		if isNull(raw) {
			return model.Region{}, model.Errorf(model.ErrInvalidRegion, "%s is required at borough scale", key)
		}
		code, err := v.borocode(raw)
		if err != nil {
			return model.Region{}, model.Errorf(model.ErrInvalidRegion, "%s: %v", key, err)
		}
		return model.Region{Scale: scale, Code: code}, nil

	case model.ScaleLargeN:
		var name string
		if isNull(raw) || json.Unmarshal(raw, &name) != nil || strings.TrimSpace(name) == "" {
			return model.Region{}, model.Errorf(model.ErrInvalidRegion, "%s must be a non-empty neighborhood name at large_n scale", key)
		}
		canonical, ok := v.cat.LargeN(name)
		if !ok {
			return model.Region{}, model.Errorf(model.ErrInvalidRegion, "%s: unknown neighborhood %q", key, name)
		}
		return model.Region{Scale: scale, Name: canonical}, nil
	}
	return model.Region{}, model.Errorf(model.ErrInvalidScale, "unrecognized scale %q", scale)
}

// borocode accepts 3, 3.0, "3" or a borough name.
func (v *PlanValidator) borocode(raw json.RawMessage) (int, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("borocode %v is not an integer", n)
		}
		return v.checkBorocode(int(n))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("borocode must be an integer")
	}
	s = strings.TrimSpace(s)
	if code, err := strconv.Atoi(s); err == nil {
		return v.checkBorocode(code)
	}
	for _, b := range v.cat.Boroughs() {
		if strings.EqualFold(b.Name, s) {
			return b.Code, nil
		}
	}
	return 0, fmt.Errorf("borocode %q is not an integer", s)
}

func (v *PlanValidator) checkBorocode(code int) (int, error) {
	if _, ok := v.cat.Borough(code); !ok {
		return 0, fmt.Errorf("borocode %d outside 1..5", code)
	}
	return code, nil
}

// filters keeps every well-formed filter and drops the rest one by one.
func (v *PlanValidator) filters(table string, raw json.RawMessage) ([]model.Filter, []model.Diagnostic) {
	if isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, []model.Diagnostic{{Filter: string(raw), Reason: "filters is not a list"}}
	}

	t, _ := v.cat.Table(table)
	var (
		out   []model.Filter
		diags []model.Diagnostic
	)
	drop := func(item json.RawMessage, reason string) {
		diags = append(diags, model.Diagnostic{Filter: string(item), Reason: reason})
		filtersDropped.WithLabelValues(reason).Inc()
	}

	for _, item := range items {
		column, op, value, err := decodeFilter(item)
		if err != nil {
			drop(item, "malformed")
			continue
		}
		operator, ok := model.ParseOperator(op)
		if !ok {
			drop(item, "operator")
			continue
		}
		if s, isStr := value.(string); isStr && strings.EqualFold(strings.TrimSpace(s), model.NoMatch) {
			drop(item, "no_match")
			continue
		}
		col, ok := t.Column(column)
		if !ok || col.Name == v.cat.GeometryColumn {
			drop(item, "column")
			continue
		}
		value, ok = coerceFilterValue(col.ValueKind(), value)
		if !ok {
			drop(item, "value")
			continue
		}
		if name, isStr := value.(string); isStr && col.Name == model.ScaleLargeN.GroupColumn() {
			if canonical, known := v.cat.LargeN(name); known {
				value = canonical
			}
		}
		out = append(out, model.Filter{Column: col.Name, Op: operator, Value: value})
	}
	return out, diags
}

// decodeFilter accepts [column, op, value] or {"column","op","value"}.
func decodeFilter(item json.RawMessage) (string, string, any, error) {
	var triple []any
	if err := json.Unmarshal(item, &triple); err == nil {
		if len(triple) != 3 {
			return "", "", nil, fmt.Errorf("filter has %d elements", len(triple))
		}
		column, ok1 := triple[0].(string)
		op, ok2 := triple[1].(string)
		if !ok1 || !ok2 {
			return "", "", nil, fmt.Errorf("filter column and operator must be strings")
		}
		return strings.TrimSpace(column), op, triple[2], nil
	}

	var obj struct {
		Column   string `json:"column"`
		Op       string `json:"op"`
		Operator string `json:"operator"`
		Value    any    `json:"value"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return "", "", nil, err
	}
	if obj.Op == "" {
		obj.Op = obj.Operator
	}
	if obj.Column == "" || obj.Op == "" {
		return "", "", nil, fmt.Errorf("filter object lacks column or operator")
	}
	return strings.TrimSpace(obj.Column), obj.Op, obj.Value, nil
}

// coerceFilterValue accepts a scalar whose type fits the column kind.
// Numeric columns take numbers or numeric strings, boolean columns take
// bools or "true"/"false", categorical columns take strings or numbers.
func coerceFilterValue(kind catalog.Kind, value any) (any, bool) {
	switch kind {
	case catalog.KindNumeric:
		switch val := value.(type) {
		case float64:
			if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
				return int64(val), true
			}
			return val, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, false
			}
			return f, true
		}
	case catalog.KindBoolean:
		switch val := value.(type) {
		case bool:
			return val, true
		case string:
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		}
	case catalog.KindCategorical:
		switch val := value.(type) {
		case string:
			return val, true
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64), true
		}
	}
	return nil, false
}

func (v *PlanValidator) validateAnalyze(obj rawObject) (model.Plan, []model.Diagnostic, error) {
	if err := requireKeys(obj, "column", "dtype", "scale", "region"); err != nil {
		return nil, nil, err
	}
	scale, err := v.scale(obj)
	if err != nil {
		return nil, nil, err
	}
	table := scale.Table()

	column, _ := stringField(obj, "column")
	plannerDtype, _ := stringField(obj, "dtype")
	column, dtype, err := v.analysisColumn(table, column, plannerDtype)
	if err != nil {
		return nil, nil, err
	}
	region, err := v.region(scale, obj["region"], "region")
	if err != nil {
		return nil, nil, err
	}
	v.noteTableOverride(obj, table)

	filters, diags := v.filters(table, obj["filters"])
	v.logDiagnostics(diags)
	return model.AnalyzePlan{
		Column:  column,
		Dtype:   dtype,
		Scale:   scale,
		Region:  region,
		Table:   table,
		Filters: filters,
	}, diags, nil
}

func (v *PlanValidator) validateCompare(obj rawObject) (model.Plan, []model.Diagnostic, error) {
	if err := requireKeys(obj, "column", "dtype", "scale", "region1", "region2"); err != nil {
		return nil, nil, err
	}
	scale, err := v.scale(obj)
	if err != nil {
		return nil, nil, err
	}
	if scale == model.ScaleCity {
		return nil, nil, model.Errorf(model.ErrInvalidScale, "compare needs two regions; city scale has none")
	}
	table := scale.Table()

	column, _ := stringField(obj, "column")
	plannerDtype, _ := stringField(obj, "dtype")
	column, dtype, err := v.analysisColumn(table, column, plannerDtype)
	if err != nil {
		return nil, nil, err
	}
	r1, err := v.region(scale, obj["region1"], "region1")
	if err != nil {
		return nil, nil, err
	}
	r2, err := v.region(scale, obj["region2"], "region2")
	if err != nil {
		return nil, nil, err
	}
	if r1 == r2 {
		return nil, nil, model.Errorf(model.ErrInvalidRegion, "region1 and region2 are both %s", r1)
	}
	v.noteTableOverride(obj, table)

	filters, diags := v.filters(table, obj["filters"])
	v.logDiagnostics(diags)
	return model.ComparePlan{
		Column:  column,
		Dtype:   dtype,
		Scale:   scale,
		Region1: r1,
		Region2: r2,
		Table:   table,
		Filters: filters,
	}, diags, nil
}

func (v *PlanValidator) validateSearch(obj rawObject) (model.Plan, error) {
	if err := requireKeys(obj, "column_block", "scale"); err != nil {
		return nil, err
	}
	scale, err := v.scale(obj)
	if err != nil {
		return nil, err
	}
	if scale == model.ScaleCity {
		return nil, model.Errorf(model.ErrInvalidScale, "search ranks regions; city scale has none")
	}

	columnBlock, _ := stringField(obj, "column_block")
	dtypeBlock, _ := stringField(obj, "dtype_block")
	columnBlock, blockDtype, err := v.analysisColumn(catalog.TableStreetBlock, columnBlock, dtypeBlock)
	if err != nil {
		return nil, err
	}
	if blockDtype != model.DtypeNumeric {
		return nil, model.Errorf(model.ErrNoAppropriateColumn, "ranking column %q is not numeric", columnBlock)
	}

	plan := model.SearchPlan{
		ColumnBlock: columnBlock,
		DtypeBlock:  blockDtype,
		Scale:       scale,
	}

	columnRegion, _ := stringField(obj, "column_region")
	dtypeRegion, _ := stringField(obj, "dtype_region")
	if scale == model.ScaleLargeN {
		if _, ok := obj["column_region"]; !ok {
			return nil, model.Errorf(model.ErrMissingPlanFields, "plan is missing column_region")
		}
		plan.ColumnRegion, plan.DtypeRegion, err = v.analysisColumn(catalog.TableBuildings, columnRegion, dtypeRegion)
		if err != nil {
			return nil, err
		}
	} else if c, d, err := v.analysisColumn(catalog.TableBuildings, columnRegion, dtypeRegion); err == nil {
		plan.ColumnRegion, plan.DtypeRegion = c, d
	}

	analysis, _ := stringField(obj, "analysis")
	order, _ := stringField(obj, "order")
	plan.Analysis = model.ParseAggregator(analysis)
	plan.Order = model.ParseOrder(order)
	return plan, nil
}

func (v *PlanValidator) noteTableOverride(obj rawObject, table string) {
	asserted, _ := stringField(obj, "table")
	if asserted != "" && asserted != table {
		v.log.Warn("planner table overridden by scale",
			zap.String("planner_table", asserted), zap.String("table", table))
	}
}

func (v *PlanValidator) logDiagnostics(diags []model.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	reasons := make([]string, 0, len(diags))
	for _, d := range diags {
		reasons = append(reasons, d.Reason)
	}
	sort.Strings(reasons)
	v.log.Warn("dropped plan filters", zap.Int("count", len(diags)), zap.Strings("reasons", reasons))
}
