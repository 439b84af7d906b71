package dsl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crmDSL = `
module crm

# клиенты
table Customer:
  @naming series prefix=CUST-
  @label "Customer"
  name: string
  customer_name: string required label="Customer name"
  tier: Select[Gold, Silver, Bronze]
  region: enum[enum:Region]
  photos: attach gallery
  rating: stars

entity Order:
  @naming field:customer
  @id code
  code: string
  customer: Link[Customer] required
  paid: bool
  total: formula readonly
  notes: long_text description='Free text' max=500
`

func TestParseTables(t *testing.T) {
	tables, err := ParseTables(strings.NewReader(crmDSL))
	require.NoError(t, err)
	require.Len(t, tables, 2)

	c := tables[0]
	assert.Equal(t, "crm.Customer", c.FQN())
	assert.Equal(t, DefaultIDField, c.IDField)
	assert.Equal(t, NamingConfig{Strategy: NamingSeriesPrefix, Prefix: "CUST-"}, c.Naming)
	assert.Equal(t, "Customer", c.EntityName())

	name, ok := c.Field("customer_name")
	require.True(t, ok)
	assert.Equal(t, TypeText, name.Type)
	assert.True(t, name.Required)
	assert.Equal(t, "Customer name", name.Label)

	tier, _ := c.Field("tier")
	assert.Equal(t, TypeSelect, tier.Type)
	assert.Equal(t, []string{"Gold", "Silver", "Bronze"}, tier.Choices)

	region, _ := c.Field("region")
	assert.Equal(t, "Region", region.ChoicesRef)
	assert.Empty(t, region.Choices)

	photos, _ := c.Field("photos")
	assert.True(t, photos.Gallery)
	assert.Equal(t, TypeAttach, photos.Type)

	// неизвестный тип не ошибка
	rating, _ := c.Field("rating")
	assert.Equal(t, TypeGeneric, rating.Type)
	assert.Equal(t, "stars", rating.RawType)

	o := tables[1]
	assert.Equal(t, "code", o.IDField)
	assert.Equal(t, NamingDerived, o.Naming.Strategy)
	assert.Equal(t, "customer", o.Naming.SourceField)

	link, _ := o.Field("customer")
	assert.Equal(t, TypeLink, link.Type)
	assert.Equal(t, "Customer", link.LinkTarget)
	assert.Equal(t, "crm.Customer", o.LinkTable(link))

	total, _ := o.Field("total")
	assert.Equal(t, TypeFormula, total.Type)
	assert.True(t, total.ReadOnly)

	notes, _ := o.Field("notes")
	assert.Equal(t, TypeLongText, notes.Type)
	assert.Equal(t, "Free text", notes.Description)
	assert.Equal(t, "500", notes.Options["max"])
}

func TestParseTables_Errors(t *testing.T) {
	cases := map[string]string{
		"duplicate field":   "table A:\n  x: string\n  x: int\n",
		"link w/o target":   "table A:\n  x: Link[]\n",
		"unknown naming":    "table A:\n  @naming telepathy\n",
		"derived w/o src":   "table A:\n  @naming field\n",
		"garbage":           "table A:\n  ???\n",
		"unknown directive": "table A:\n  @color red\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTables(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadAllTables(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crm.dsl"), []byte(crmDSL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not dsl"), 0o644))

	tables, err := LoadAllTables(dir)
	require.NoError(t, err)
	assert.Len(t, tables, 2)
	assert.Contains(t, tables, "crm.Order")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "nomod.dsl"), []byte("table X:\n  a: string\n"), 0o644))
	_, err = LoadAllTables(dir)
	assert.Error(t, err)
}

func TestFieldTypeText(t *testing.T) {
	var ft FieldType
	require.NoError(t, ft.UnmarshalText([]byte("currency")))
	assert.Equal(t, TypeFloat, ft)
	require.NoError(t, ft.UnmarshalText([]byte("hologram")))
	assert.Equal(t, TypeGeneric, ft)

	b, err := TypeLink.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Link", string(b))
}
