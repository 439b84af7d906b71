package widget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/gallery"
)

func opts(mode Mode) Options {
	return Options{Mode: mode, Naming: dsl.NamingConfig{Strategy: dsl.NamingUserProvided}, EntityName: "Customer", URLs: gallery.NewURLResolver("", "")}
}

func TestRender_KindsByType(t *testing.T) {
	cases := []struct {
		def  dsl.Field
		kind Kind
	}{
		{dsl.Field{Name: "a", Type: dsl.TypeText}, KindText},
		{dsl.Field{Name: "b", Type: dsl.TypeLongText}, KindTextArea},
		{dsl.Field{Name: "c", Type: dsl.TypeInt}, KindNumber},
		{dsl.Field{Name: "d", Type: dsl.TypeFloat}, KindNumber},
		{dsl.Field{Name: "e", Type: dsl.TypeDate}, KindDate},
		{dsl.Field{Name: "f", Type: dsl.TypeCheck}, KindCheckbox},
		{dsl.Field{Name: "g", Type: dsl.TypeSelect, Choices: []string{"X"}}, KindSelect},
		{dsl.Field{Name: "h", Type: dsl.TypeLink, LinkTarget: "Customer"}, KindLink},
		{dsl.Field{Name: "i", Type: dsl.TypeFormula}, KindDisplay},
		{dsl.Field{Name: "j", Type: dsl.TypeGeneric, RawType: "stars"}, KindText},
		{dsl.Field{Name: "k", Type: dsl.TypeAttach}, KindText},
		{dsl.Field{Name: "l", Type: dsl.TypeInt, Gallery: true}, KindGallery},
	}
	for _, tc := range cases {
		t.Run(tc.def.Name, func(t *testing.T) {
			d := Render(tc.def, nil, opts(ModeEdit))
			assert.Equal(t, tc.kind, d.Kind)
		})
	}
}

func TestRender_ReadOnly(t *testing.T) {
	d := Render(dsl.Field{Name: "total", Type: dsl.TypeFormula}, 12.5, opts(ModeEdit))
	assert.True(t, d.ReadOnly)
	assert.Equal(t, "12.5", d.DisplayText)
	assert.False(t, d.Editable())

	d = Render(dsl.Field{Name: "qty", Type: dsl.TypeInt, Required: true, ReadOnly: true}, 3, opts(ModeEdit))
	assert.Equal(t, KindDisplay, d.Kind)
	assert.False(t, d.Required)
	assert.Equal(t, "3", d.DisplayText)

	d = Render(dsl.Field{Name: "paid", Type: dsl.TypeCheck}, "0", opts(ModeView))
	assert.Equal(t, "No", d.DisplayText)
}

func TestRender_Link(t *testing.T) {
	def := dsl.Field{Name: "customer", Type: dsl.TypeLink, LinkTarget: "Customer"}

	o := opts(ModeView)
	o.LinkLabel = "Acme Co"
	d := Render(def, "CUST-0007", o)
	assert.Equal(t, "Acme Co (CUST-0007)", d.DisplayText)
	assert.Equal(t, "Customer", d.LinkTarget)

	d = Render(def, "CUST-0007", opts(ModeView))
	assert.Equal(t, "CUST-0007", d.DisplayText)

	o = opts(ModeEdit)
	o.LinkLabel = "Acme Co"
	d = Render(def, "CUST-0007", o)
	assert.Equal(t, KindLink, d.Kind)
	assert.Equal(t, "Search Customer", d.Placeholder)
	assert.Equal(t, "Acme Co (CUST-0007)", d.DisplayText)
}

func TestFormatLink(t *testing.T) {
	assert.Equal(t, "Acme Co (CUST-0007)", FormatLink("Acme Co", "CUST-0007"))
	assert.Equal(t, "CUST-0007", FormatLink("", "CUST-0007"))
	assert.Equal(t, "CUST-0007", FormatLink("CUST-0007", "CUST-0007"))
	assert.Equal(t, "", FormatLink("Acme", ""))
}

func TestRender_Identifier(t *testing.T) {
	def := dsl.Field{Name: "name", Type: dsl.TypeText}

	o := opts(ModeNew)
	o.Identifier = true
	d := Render(def, nil, o)
	assert.Equal(t, KindText, d.Kind)
	assert.True(t, d.Required)
	assert.Equal(t, "Enter Customer ID", d.Placeholder)
	assert.True(t, d.Editable())

	o.Mode = ModeEdit
	d = Render(def, "CUST-1", o)
	assert.Equal(t, KindDisplay, d.Kind)
	assert.Equal(t, "CUST-1", d.DisplayText)
	assert.Equal(t, "Identifier cannot be changed", d.Note)

	notes := map[dsl.NamingStrategy]string{
		dsl.NamingSeriesPrefix:  "ID will be generated from series CUST-####",
		dsl.NamingDerived:       `ID will be taken from field "title"`,
		dsl.NamingRandom:        "A random ID will be generated",
		dsl.NamingAutoincrement: "ID will be assigned automatically (next number)",
	}
	for st, note := range notes {
		o := opts(ModeNew)
		o.Identifier = true
		o.Naming = dsl.NamingConfig{Strategy: st, Prefix: "CUST-", SourceField: "title"}
		d := Render(def, "typed", o)
		assert.Equal(t, KindHidden, d.Kind, st)
		assert.Nil(t, d.Value, st)
		assert.Equal(t, note, d.Note, st)
		assert.False(t, d.Editable(), st)
	}
}

func TestRender_Gallery(t *testing.T) {
	def := dsl.Field{Name: "photos", Type: dsl.TypeText, Gallery: true}

	d := Render(def, "", opts(ModeEdit))
	require.NotNil(t, d.Gallery)
	assert.Equal(t, EmptyGalleryText, d.Gallery.Placeholder)
	assert.True(t, d.Gallery.CanEdit)
	assert.False(t, d.Gallery.Lightbox)
	assert.Equal(t, "[]", d.Value)

	d = Render(def, "a.png\njavascript:alert(1)", opts(ModeView))
	require.Len(t, d.Gallery.Images, 2)
	assert.Equal(t, "/files/a.png", d.Gallery.Images[0].DisplayURL)
	assert.Equal(t, gallery.DefaultPlaceholder, d.Gallery.Images[1].DisplayURL)
	assert.False(t, d.Gallery.CanEdit)
	assert.True(t, d.Gallery.Lightbox)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeEdit, ParseMode("edit"))
	assert.Equal(t, ModeNew, ParseMode("new"))
	assert.Equal(t, ModeView, ParseMode("delete"))
	assert.Equal(t, ModeView, ParseMode(""))
}
