package layout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalitaforms/internal/dsl"
)

var testFields = []dsl.Field{
	{Name: "name", Type: dsl.TypeText},
	{Name: "customer", Type: dsl.TypeLink, LinkTarget: "Customer", Label: "Customer"},
	{Name: "status", Type: dsl.TypeSelect, Choices: []string{"Draft", "Sent"}},
	{Name: "notes", Type: dsl.TypeLongText},
	{Name: "modified", Type: dsl.TypeDate},
	{Name: "_seen", Type: dsl.TypeCheck},
}

func TestOrganize_NoLayout(t *testing.T) {
	got := Organize(testFields, nil)
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = Organize(testFields, &dsl.FormLayout{})
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestOrganize_Sections(t *testing.T) {
	l := &dsl.FormLayout{
		Columns:    "3",
		ShowSystem: []string{"modified"},
		Entries: []dsl.LayoutEntry{
			{Kind: dsl.EntryField, Field: "name"}, // до первого разрыва: безымянная секция
			{Kind: dsl.EntrySectionBreak, Title: "Empty"},
			{Kind: dsl.EntrySectionBreak, Title: "Order", Icon: "cart", Columns: 2},
			{Kind: dsl.EntryField, Field: "customer", Label: "Buyer"},
			{Kind: dsl.EntryField, Field: "ghost"},
			{Kind: dsl.EntryColumnBreak},
			{Kind: dsl.EntryField, Field: "status"},
			{Kind: dsl.EntryField, Field: "customer"},
			{Kind: dsl.EntrySectionBreak, Title: "Audit", ColumnTemplate: "1fr 2fr"},
			{Kind: dsl.EntryField, Field: "modified"},
			{Kind: dsl.EntryField, Field: "_seen"},
		},
	}

	got := Organize(testFields, l)
	require.Len(t, got, 3)

	assert.Equal(t, "", got[0].Title)
	assert.Equal(t, ColumnSpec{Count: 3, Source: ColumnsGlobal}, got[0].Columns)

	order := got[1]
	assert.Equal(t, "Order", order.Title)
	assert.Equal(t, "cart", order.Icon)
	assert.True(t, order.HasColumnBreak)
	assert.Equal(t, ColumnSpec{Count: 2, Source: ColumnsExplicit}, order.Columns)
	require.Len(t, order.Fields, 2)
	assert.Equal(t, "Buyer", order.Fields[0].Label)
	assert.Equal(t, "status", order.Fields[1].Name)

	audit := got[2]
	assert.Equal(t, ColumnSpec{Template: "1fr 2fr", Source: ColumnsTemplate}, audit.Columns)
	require.Len(t, audit.Fields, 1)
	assert.Equal(t, "modified", audit.Fields[0].Name)

	// исходные поля не тронуты
	assert.Equal(t, "Customer", testFields[1].Label)
}

func TestOrganize_Deterministic(t *testing.T) {
	l := &dsl.FormLayout{Entries: []dsl.LayoutEntry{
		{Kind: dsl.EntrySectionBreak, Title: "A"},
		{Kind: dsl.EntryField, Field: "status"},
		{Kind: dsl.EntryField, Field: "notes"},
	}}
	first := Organize(testFields, l)
	second := Organize(testFields, l)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("organize is not deterministic (-first +second):\n%s", diff)
	}

	first[0].Fields[0].Choices[0] = "mutated"
	assert.Equal(t, "Draft", testFields[2].Choices[0])
}

func TestResolveColumns(t *testing.T) {
	assert.Equal(t, ColumnSpec{Count: 4, Source: ColumnsExplicit}, resolveColumns(4, "1fr", "2"))
	assert.Equal(t, ColumnSpec{Template: "1fr", Source: ColumnsTemplate}, resolveColumns(0, "1fr", "2"))
	assert.Equal(t, ColumnSpec{Template: "1fr 1fr", Source: ColumnsGlobal}, resolveColumns(0, "", "1fr 1fr"))
	assert.Equal(t, ColumnSpec{Template: AutoFitTemplate, Source: ColumnsAuto}, resolveColumns(0, "", ""))
}

func TestIsSystemField(t *testing.T) {
	assert.True(t, IsSystemField("_seen"))
	assert.True(t, IsSystemField("Modified"))
	assert.True(t, IsSystemField("docstatus"))
	assert.False(t, IsSystemField("name"))
	assert.False(t, IsSystemField("customer"))
}
