package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"nycquery_service/internal/domain/catalog"
	"nycquery_service/internal/domain/model"
)

const geometryAlias = "__geometry"

type PostGISRepository struct {
	db  *sqlx.DB
	cat *catalog.Catalog
	log *zap.Logger
}

// Connect opens and pings the PostGIS database.
func Connect(ctx context.Context, connStr string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func NewPostgresRepository(db *sqlx.DB, cat *catalog.Catalog, log *zap.Logger) *PostGISRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostGISRepository{db: db, cat: cat, log: log}
}

func (r *PostGISRepository) DB() *sqlx.DB { return r.db }

// Fetch runs req and returns its rows. Zero rows is not an error.
func (r *PostGISRepository) Fetch(ctx context.Context, req model.QueryRequest) (*model.RowSet, error) {
	query, args, err := BuildSQL(r.cat, req)
	if err != nil {
		return nil, err
	}
	r.log.Debug("fetching rows", zap.String("table", req.Table), zap.String("sql", query), zap.Int("args", len(args)))

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, model.WrapError(model.ErrStore, "fetch", fmt.Errorf("failed to query %s: %w", req.Table, err))
	}
	defer rows.Close()

	rs := &model.RowSet{Table: req.Table, Columns: req.Columns, GroupColumn: req.GroupColumn}
	for rows.Next() {
		values := make(map[string]any, len(req.Columns)+1)
		if err := rows.MapScan(values); err != nil {
			return nil, model.WrapError(model.ErrStore, "fetch", fmt.Errorf("failed to scan %s row: %w", req.Table, err))
		}
		row := model.Row{Values: make(map[string]any, len(req.Columns))}
		for k, v := range values {
			if k == geometryAlias {
				row.Geometry = geometryJSON(v)
				continue
			}
			row.Values[k] = normalizeValue(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.ErrStore, "fetch", fmt.Errorf("failed to read %s rows: %w", req.Table, err))
	}

	r.log.Debug("rows fetched", zap.String("table", req.Table), zap.Int("rows", len(rs.Rows)))
	return rs, nil
}

// BuildSQL renders req as a parameterized statement. Every identifier must
// be in the catalog and is quoted; every value becomes a $n parameter.
func BuildSQL(cat *catalog.Catalog, req model.QueryRequest) (string, []any, error) {
	t, ok := cat.Table(req.Table)
	if !ok {
		return "", nil, model.Errorf(model.ErrInternal, "table %q is not in the catalog", req.Table)
	}
	ident := func(col string) (string, error) {
		if _, ok := t.Column(col); !ok {
			return "", model.Errorf(model.ErrInternal, "column %q is not in table %s", col, req.Table)
		}
		return pq.QuoteIdentifier(col), nil
	}
	if len(req.Columns) == 0 {
		return "", nil, model.Errorf(model.ErrInternal, "query on %s selects no columns", req.Table)
	}

	selects := make([]string, 0, len(req.Columns)+1)
	for _, c := range req.Columns {
		q, err := ident(c)
		if err != nil {
			return "", nil, err
		}
		selects = append(selects, q)
	}
	if !req.SkipGeometry {
		geom, err := ident(cat.GeometryColumn)
		if err != nil {
			return "", nil, err
		}
		selects = append(selects, fmt.Sprintf("ST_AsGeoJSON(%s) AS %s", geom, pq.QuoteIdentifier(geometryAlias)))
	}

	var (
		conds []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	for _, p := range req.Predicates {
		col, err := ident(p.Column)
		if err != nil {
			return "", nil, err
		}
		switch p.Op {
		case model.OpEq, model.OpGt, model.OpLt, model.OpGte, model.OpLte:
			conds = append(conds, fmt.Sprintf("%s %s %s", col, p.Op, bind(p.Value)))
		case model.OpIn:
			if len(p.Values) == 0 {
				return "", nil, model.Errorf(model.ErrInternal, "IN predicate on %s has no values", p.Column)
			}
			params := make([]string, 0, len(p.Values))
			for _, v := range p.Values {
				params = append(params, bind(v))
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(params, ", ")))
		case model.OpIsNull:
			conds = append(conds, col+" IS NULL")
		default:
			return "", nil, model.Errorf(model.ErrInternal, "operator %q is not allowed", p.Op)
		}
	}
	where := "TRUE"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(selects, ", "), pq.QuoteIdentifier(t.Name), where)
	return query, args, nil
}

// normalizeValue turns driver byte slices (NUMERIC, text) into numbers or
// strings so they serialize as JSON scalars. NaN and the infinities have
// no JSON form and become null.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case float64:
		return finiteOrNil(val)
	case float32:
		return finiteOrNil(float64(val))
	case []byte:
		s := string(val)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return finiteOrNil(f)
		}
		return s
	}
	return v
}

func finiteOrNil(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func geometryJSON(v any) json.RawMessage {
	switch g := v.(type) {
	case string:
		return json.RawMessage(g)
	case []byte:
		return json.RawMessage(append([]byte(nil), g...))
	}
	return nil
}
