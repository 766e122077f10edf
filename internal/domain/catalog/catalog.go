// Package catalog holds the read-only description of the PostGIS dataset:
// tables, their column partitions and the NYC region names. It is the only
// source of identifiers that may be rendered into SQL text.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	TableBuildings   = "buildings"
	TableStreetBlock = "street_block"
)

// Kind partitions a table's columns.
type Kind string

const (
	KindSpine       Kind = "spine"
	KindCategorical Kind = "categorical"
	KindBoolean     Kind = "boolean"
	KindNumeric     Kind = "numeric"
)

type Column struct {
	Name        string
	Kind        Kind
	Description string

	numericSpine bool
}

// ValueKind is the kind a filter value on the column must have. Spine
// columns hold either codes and measures (numeric) or names (categorical).
func (c Column) ValueKind() Kind {
	if c.Kind != KindSpine {
		return c.Kind
	}
	if c.numericSpine {
		return KindNumeric
	}
	return KindCategorical
}

type Table struct {
	Name        string
	Description string
	columns     []Column
	byName      map[string]Column
}

// Column looks a column up by exact name.
func (t *Table) Column(name string) (Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// Columns returns the table's columns in catalog order.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

type Borough struct {
	Code   int
	Name   string
	LargeN []string
}

type Catalog struct {
	GeometryColumn string

	tables   map[string]*Table
	order    []string
	boroughs []Borough
	largeN   map[string]string // lower-cased -> canonical
}

//go:embed catalog.yaml
var embedded []byte

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog. It panics if the embedded YAML is
// malformed, which can only happen at build time.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(embedded)
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded catalog is invalid: %v", err))
		}
		defaultCat = c
	})
	return defaultCat
}

type rawColumn struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type rawTable struct {
	Description string      `yaml:"description"`
	Spine       []string    `yaml:"spine"`
	Categorical []string    `yaml:"categorical"`
	Boolean     []string    `yaml:"boolean"`
	Numeric     []rawColumn `yaml:"numeric"`
}

type rawBorough struct {
	Code   int      `yaml:"code"`
	Name   string   `yaml:"name"`
	LargeN []string `yaml:"large_n"`
}

type rawCatalog struct {
	GeometryColumn string              `yaml:"geometry_column"`
	NumericSpine   []string            `yaml:"numeric_spine"`
	Tables         map[string]rawTable `yaml:"tables"`
	Boroughs       []rawBorough        `yaml:"boroughs"`
}

// Parse builds a Catalog from its YAML form.
func Parse(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if raw.GeometryColumn == "" {
		return nil, fmt.Errorf("catalog has no geometry_column")
	}
	if len(raw.Tables) == 0 {
		return nil, fmt.Errorf("catalog has no tables")
	}

	c := &Catalog{
		GeometryColumn: raw.GeometryColumn,
		tables:         make(map[string]*Table, len(raw.Tables)),
		largeN:         make(map[string]string),
	}

	numericSpine := make(map[string]bool, len(raw.NumericSpine))
	for _, n := range raw.NumericSpine {
		numericSpine[n] = true
	}

	for name, rt := range raw.Tables {
		t := &Table{Name: name, Description: rt.Description, byName: make(map[string]Column)}
		add := func(col Column) error {
			if col.Name == "" {
				return fmt.Errorf("table %s: empty column name", name)
			}
			if _, dup := t.byName[col.Name]; dup {
				return fmt.Errorf("table %s: duplicate column %s", name, col.Name)
			}
			t.byName[col.Name] = col
			t.columns = append(t.columns, col)
			return nil
		}
		for _, n := range rt.Spine {
			if err := add(Column{Name: n, Kind: KindSpine, numericSpine: numericSpine[n]}); err != nil {
				return nil, err
			}
		}
		for _, n := range rt.Categorical {
			if err := add(Column{Name: n, Kind: KindCategorical}); err != nil {
				return nil, err
			}
		}
		for _, n := range rt.Boolean {
			if err := add(Column{Name: n, Kind: KindBoolean}); err != nil {
				return nil, err
			}
		}
		for _, rc := range rt.Numeric {
			if err := add(Column{Name: rc.Name, Kind: KindNumeric, Description: rc.Description}); err != nil {
				return nil, err
			}
		}
		if _, ok := t.byName[raw.GeometryColumn]; !ok {
			return nil, fmt.Errorf("table %s lacks geometry column %s", name, raw.GeometryColumn)
		}
		c.tables[name] = t
		c.order = append(c.order, name)
	}
	sort.Strings(c.order)

	for _, rb := range raw.Boroughs {
		c.boroughs = append(c.boroughs, Borough{Code: rb.Code, Name: rb.Name, LargeN: rb.LargeN})
		for _, n := range rb.LargeN {
			c.largeN[strings.ToLower(strings.TrimSpace(n))] = n
		}
	}
	sort.Slice(c.boroughs, func(i, j int) bool { return c.boroughs[i].Code < c.boroughs[j].Code })

	return c, nil
}

// Table looks a table up by exact name.
func (c *Catalog) Table(name string) (*Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// TableNames returns every table name in sorted order.
func (c *Catalog) TableNames() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Borough returns the borough with the given borocode.
func (c *Catalog) Borough(code int) (Borough, bool) {
	for _, b := range c.boroughs {
		if b.Code == code {
			return b, true
		}
	}
	return Borough{}, false
}

func (c *Catalog) Boroughs() []Borough {
	out := make([]Borough, len(c.boroughs))
	copy(out, c.boroughs)
	return out
}

// LargeN resolves a large neighborhood name case-insensitively and returns
// its canonical spelling.
func (c *Catalog) LargeN(name string) (string, bool) {
	canonical, ok := c.largeN[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// SchemaText renders the catalog in the compact form the planner prompt uses.
func (c *Catalog) SchemaText() string {
	var b strings.Builder
	b.WriteString("db: PostgreSQL 16 + PostGIS\n\ntables:\n")
	for _, name := range c.order {
		t := c.tables[name]
		fmt.Fprintf(&b, "    %s:\n", name)
		for _, kind := range []Kind{KindSpine, KindCategorical, KindBoolean} {
			var names []string
			for _, col := range t.columns {
				if col.Kind == kind {
					names = append(names, col.Name)
				}
			}
			if len(names) > 0 {
				fmt.Fprintf(&b, "        %s: [%s]\n", shortKind(kind), strings.Join(names, ", "))
			}
		}
		b.WriteString("        num:\n")
		for _, col := range t.columns {
			if col.Kind != KindNumeric {
				continue
			}
			if col.Description != "" {
				fmt.Fprintf(&b, "            %s : %s\n", col.Name, col.Description)
			} else {
				fmt.Fprintf(&b, "            %s\n", col.Name)
			}
		}
	}
	b.WriteString("\nregions:\n    borocode: ")
	parts := make([]string, 0, len(c.boroughs))
	for _, br := range c.boroughs {
		parts = append(parts, fmt.Sprintf("%d=%s", br.Code, br.Name))
	}
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString("\n    large_n_by_borocode:\n")
	for _, br := range c.boroughs {
		fmt.Fprintf(&b, "        %d: [%s]\n", br.Code, strings.Join(br.LargeN, ", "))
	}
	return b.String()
}

func shortKind(k Kind) string {
	switch k {
	case KindCategorical:
		return "cat"
	case KindBoolean:
		return "bool"
	default:
		return string(k)
	}
}
