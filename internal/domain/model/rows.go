package model

import "encoding/json"

// Predicate is one condition of a QueryRequest. Values is used by OpIn.
type Predicate struct {
	Column string
	Op     Operator
	Value  any
	Values []any
}

// QueryRequest is a parameterized data retrieval: identifiers come from the
// catalog, literal values are bound at execution time.
type QueryRequest struct {
	Table       string
	Columns     []string
	Predicates  []Predicate
	GroupColumn string

	// SkipGeometry leaves the geometry out, for scans that only feed
	// aggregation.
	SkipGeometry bool
}

// Row is one record of a result set. Geometry is an opaque GeoJSON geometry.
type Row struct {
	Values   map[string]any
	Geometry json.RawMessage
}

// RowSet is the tabular result of a QueryRequest.
type RowSet struct {
	Table       string
	Columns     []string
	GroupColumn string
	Rows        []Row
}

func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// HasColumn reports whether the result set carries the column.
func (rs *RowSet) HasColumn(name string) bool {
	if rs == nil {
		return false
	}
	for _, c := range rs.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Filter returns the rows for which keep returns true. The result shares
// row values with the receiver.
func (rs *RowSet) Filter(keep func(Row) bool) *RowSet {
	out := &RowSet{Table: rs.Table, Columns: rs.Columns, GroupColumn: rs.GroupColumn}
	for _, r := range rs.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Head returns the first n rows. A non-positive n keeps every row.
func (rs *RowSet) Head(n int) *RowSet {
	if rs == nil || n <= 0 || len(rs.Rows) <= n {
		return rs
	}
	return &RowSet{Table: rs.Table, Columns: rs.Columns, GroupColumn: rs.GroupColumn, Rows: rs.Rows[:n]}
}

// Concat appends the rows of others to a copy of rs.
func (rs *RowSet) Concat(others ...*RowSet) *RowSet {
	out := &RowSet{Table: rs.Table, Columns: rs.Columns, GroupColumn: rs.GroupColumn}
	out.Rows = append(out.Rows, rs.Rows...)
	for _, o := range others {
		if o != nil {
			out.Rows = append(out.Rows, o.Rows...)
		}
	}
	return out
}

type Feature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// FeatureCollection renders the rows as GeoJSON. Geometry passes through
// untouched.
func (rs *RowSet) FeatureCollection() FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	if rs == nil {
		return fc
	}
	for _, r := range rs.Rows {
		geom := r.Geometry
		if len(geom) == 0 {
			geom = json.RawMessage("null")
		}
		props := make(map[string]any, len(r.Values))
		for k, v := range r.Values {
			props[k] = v
		}
		fc.Features = append(fc.Features, Feature{Type: "Feature", Geometry: geom, Properties: props})
	}
	return fc
}
