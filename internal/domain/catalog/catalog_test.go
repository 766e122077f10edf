package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogTables(t *testing.T) {
	c := Default()
	assert.Equal(t, []string{TableBuildings, TableStreetBlock}, c.TableNames())
	assert.Equal(t, "geom", c.GeometryColumn)

	b, ok := c.Table(TableBuildings)
	require.True(t, ok)
	col, ok := b.Column("heightroof")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, col.Kind)

	col, ok = b.Column("large_n")
	require.True(t, ok)
	assert.Equal(t, KindSpine, col.Kind)
	assert.Equal(t, KindCategorical, col.ValueKind())

	col, ok = b.Column("borocode")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, col.ValueKind())

	col, ok = b.Column("elevator")
	require.True(t, ok)
	assert.Equal(t, KindBoolean, col.Kind)
	assert.Equal(t, KindBoolean, col.ValueKind())

	_, ok = b.Column("pop20")
	assert.False(t, ok, "pop20 only exists on street_block")

	sb, ok := c.Table(TableStreetBlock)
	require.True(t, ok)
	col, ok = sb.Column("bldg_class_dom")
	require.True(t, ok)
	assert.Equal(t, KindCategorical, col.Kind)
}

func TestBoroughsAndLargeN(t *testing.T) {
	c := Default()
	require.Len(t, c.Boroughs(), 5)

	br, ok := c.Borough(3)
	require.True(t, ok)
	assert.Equal(t, "Brooklyn", br.Name)

	_, ok = c.Borough(6)
	assert.False(t, ok)

	name, ok := c.LargeN("  Midtown MANHATTAN ")
	require.True(t, ok)
	assert.Equal(t, "midtown manhattan", name)

	_, ok = c.LargeN("hoboken")
	assert.False(t, ok)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse([]byte("tables: ["))
	assert.Error(t, err)

	_, err = Parse([]byte("geometry_column: geom\n"))
	assert.ErrorContains(t, err, "no tables")

	_, err = Parse([]byte(`
geometry_column: geom
tables:
  t:
    spine: [id]
`))
	assert.ErrorContains(t, err, "lacks geometry column")

	_, err = Parse([]byte(`
geometry_column: geom
tables:
  t:
    spine: [geom, a]
    categorical: [a]
`))
	assert.ErrorContains(t, err, "duplicate column")
}

func TestSchemaText(t *testing.T) {
	text := Default().SchemaText()
	assert.Contains(t, text, "buildings:")
	assert.Contains(t, text, "street_block:")
	assert.Contains(t, text, "heightroof : roof height (ft)")
	assert.Contains(t, text, "1=Manhattan")
	assert.Contains(t, text, "5: [south shore staten island")
}
