package form

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/widget"
)

func customerTable(naming dsl.NamingStrategy) *dsl.Table {
	return &dsl.Table{
		Module:  "crm",
		Name:    "Customer",
		IDField: "name",
		Naming:  dsl.NamingConfig{Strategy: naming},
		Fields: []dsl.Field{
			{Name: "name", Type: dsl.TypeText},
			{Name: "title", Label: "Title", Type: dsl.TypeText, Required: true},
			{Name: "photos", Type: dsl.TypeText, Gallery: true},
			{Name: "customer_name", Type: dsl.TypeText},
		},
	}
}

func orderTable() *dsl.Table {
	return &dsl.Table{
		Module:  "crm",
		Name:    "Order",
		IDField: "name",
		Naming:  dsl.NamingConfig{Strategy: dsl.NamingSeriesPrefix, Prefix: "ORD-"},
		Fields: []dsl.Field{
			{Name: "name", Type: dsl.TypeText},
			{Name: "customer", Label: "Customer", Type: dsl.TypeLink, LinkTarget: "Customer"},
			{Name: "paid", Type: dsl.TypeCheck},
			{Name: "status", Type: dsl.TypeSelect, Choices: []string{"Draft", "Sent"}},
			{Name: "qty", Type: dsl.TypeInt},
			{Name: "total", Type: dsl.TypeFormula},
			{Name: "photos", Type: dsl.TypeAttach, Gallery: true},
			{Name: "_internal", Type: dsl.TypeText},
		},
	}
}

func orderLayout() *dsl.FormLayout {
	return &dsl.FormLayout{
		Table: "crm.Order",
		Entries: []dsl.LayoutEntry{
			{Kind: dsl.EntrySectionBreak, Title: "Main", Columns: 2},
			{Kind: dsl.EntryField, Field: "customer"},
			{Kind: dsl.EntryField, Field: "paid"},
			{Kind: dsl.EntryColumnBreak},
			{Kind: dsl.EntryField, Field: "status"},
			{Kind: dsl.EntryField, Field: "qty"},
			{Kind: dsl.EntrySectionBreak, Title: "Media"},
			{Kind: dsl.EntryField, Field: "photos"},
			{Kind: dsl.EntryField, Field: "total"},
		},
	}
}

func newTestEngine(svc *fakeService) *Engine {
	return NewEngine(svc, nil)
}

func TestRender_NoLayoutFallsBackToUngrouped(t *testing.T) {
	svc := newFakeService(customerTable(dsl.NamingUserProvided))
	e := newTestEngine(svc)
	sess := NewSession(context.Background())

	f, err := e.Render(context.Background(), sess, "crm.Customer", "", widget.ModeNew)
	require.NoError(t, err)

	assert.True(t, f.EmptyLayout)
	assert.Empty(t, f.Sections)
	require.Len(t, f.Ungrouped, 4)

	id := f.Ungrouped[0]
	assert.Equal(t, "name", id.Field)
	assert.True(t, id.Identifier)
	assert.Equal(t, widget.KindText, id.Kind)
	assert.True(t, id.Required)
	assert.Equal(t, "Enter Customer ID", id.Placeholder)

	title := f.Ungrouped[1]
	assert.Equal(t, widget.KindText, title.Kind)
	assert.True(t, title.Required)

	photos := f.Ungrouped[2]
	assert.Equal(t, widget.KindGallery, photos.Kind)
	require.NotNil(t, photos.Gallery)
	assert.Empty(t, photos.Gallery.Images)
	assert.Equal(t, widget.EmptyGalleryText, photos.Gallery.Placeholder)
}

func TestRender_LinkDisplayValue(t *testing.T) {
	svc := newFakeService(customerTable(dsl.NamingUserProvided), orderTable())
	svc.layouts["crm.Order"] = orderLayout()
	svc.display.Set("crm.Order", "customer", "customer_name")
	svc.put("crm.Customer", "CUST-0007", map[string]any{"name": "CUST-0007", "customer_name": "Acme Co"})
	svc.put("crm.Order", "ORD-0001", map[string]any{"name": "ORD-0001", "customer": "CUST-0007", "paid": 1})

	e := newTestEngine(svc)
	f, err := e.Render(context.Background(), NewSession(context.Background()), "crm.Order", "ORD-0001", widget.ModeView)
	require.NoError(t, err)

	w, ok := f.Widget("customer")
	require.True(t, ok)
	assert.Equal(t, widget.KindDisplay, w.Kind)
	assert.Equal(t, "Acme Co (CUST-0007)", w.DisplayText)

	paid, _ := f.Widget("paid")
	assert.Equal(t, "Yes", paid.DisplayText)
}

func TestRender_LinkLookupFailureShowsRawKey(t *testing.T) {
	svc := newFakeService(customerTable(dsl.NamingUserProvided), orderTable())
	svc.display.Set("crm.Order", "customer", "customer_name")
	svc.displayErr = errors.New("lookup service down")
	svc.put("crm.Order", "ORD-0001", map[string]any{"name": "ORD-0001", "customer": "CUST-0007"})

	f, err := newTestEngine(svc).Render(context.Background(), NewSession(context.Background()), "crm.Order", "ORD-0001", widget.ModeView)
	require.NoError(t, err)

	w, ok := f.Widget("customer")
	require.True(t, ok)
	assert.Equal(t, "CUST-0007", w.DisplayText)
}

func TestRender_LinkDisplayIsCached(t *testing.T) {
	svc := newFakeService(customerTable(dsl.NamingUserProvided), orderTable())
	svc.display.Set("crm.Order", "customer", "customer_name")
	svc.put("crm.Customer", "CUST-0007", map[string]any{"customer_name": "Acme Co"})
	svc.put("crm.Order", "ORD-0001", map[string]any{"customer": "CUST-0007"})

	e := newTestEngine(svc)
	sess := NewSession(context.Background())
	for i := 0; i < 3; i++ {
		_, err := e.Render(context.Background(), sess, "crm.Order", "ORD-0001", widget.ModeView)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, svc.displayCalls)
}

func TestRender_SectionsFollowLayout(t *testing.T) {
	svc := newFakeService(orderTable())
	svc.layouts["crm.Order"] = orderLayout()
	svc.put("crm.Order", "ORD-0001", map[string]any{"name": "ORD-0001", "status": "Draft"})

	f, err := newTestEngine(svc).Render(context.Background(), NewSession(context.Background()), "crm.Order", "ORD-0001", widget.ModeEdit)
	require.NoError(t, err)

	require.Len(t, f.Sections, 2)
	assert.False(t, f.EmptyLayout)
	assert.Equal(t, "Main", f.Sections[0].Title)
	assert.Equal(t, 2, f.Sections[0].Columns.Count)
	assert.True(t, f.Sections[0].HasColumnBreak)

	var names []string
	for _, w := range f.Sections[0].Widgets {
		names = append(names, w.Field)
	}
	assert.Equal(t, []string{"customer", "paid", "status", "qty"}, names)

	// идентификатор вне раскладки всё равно показывается
	require.Len(t, f.Ungrouped, 1)
	assert.Equal(t, "name", f.Ungrouped[0].Field)
	assert.Equal(t, widget.KindDisplay, f.Ungrouped[0].Kind)
	assert.Equal(t, "Identifier cannot be changed", f.Ungrouped[0].Note)

	total, _ := f.Widget("total")
	assert.True(t, total.ReadOnly)
	_, internal := f.Widget("_internal")
	assert.False(t, internal)
}

func TestRender_LayoutFailureDegrades(t *testing.T) {
	svc := newFakeService(orderTable())
	svc.layoutErr = errors.New("layout service timeout")

	f, err := newTestEngine(svc).Render(context.Background(), NewSession(context.Background()), "crm.Order", "", widget.ModeNew)
	require.NoError(t, err)
	assert.True(t, f.EmptyLayout)

	id := f.Ungrouped[0]
	assert.Equal(t, widget.KindHidden, id.Kind)
	assert.Contains(t, id.Note, "ORD-")
}

func TestRender_FatalErrors(t *testing.T) {
	svc := newFakeService(orderTable())
	e := newTestEngine(svc)
	sess := NewSession(context.Background())

	_, err := e.Render(context.Background(), sess, "crm.Missing", "", widget.ModeNew)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = e.Render(context.Background(), sess, "crm.Order", "ORD-404", widget.ModeView)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRender_EnumChoices(t *testing.T) {
	tbl := orderTable()
	tbl.Fields[3] = dsl.Field{Name: "status", Type: dsl.TypeSelect, ChoicesRef: "OrderStatus"}
	svc := newFakeService(tbl)

	e := NewEngine(svc, nil, WithEnums(enumMap{"OrderStatus": {"New", "Done"}}))
	f, err := e.Render(context.Background(), NewSession(context.Background()), "crm.Order", "", widget.ModeNew)
	require.NoError(t, err)

	w, ok := f.Widget("status")
	require.True(t, ok)
	assert.Equal(t, widget.KindSelect, w.Kind)
	assert.Equal(t, []string{"New", "Done"}, w.Choices)
}

type enumMap map[string][]string

func (m enumMap) EnumChoices(name string) ([]string, bool) {
	v, ok := m[name]
	return v, ok
}

func TestRender_CustomCSSWithClosingTagIsDropped(t *testing.T) {
	svc := newFakeService(orderTable())
	l := orderLayout()
	l.CustomCSS = "</style><script>alert(1)</script>"
	svc.layouts["crm.Order"] = l

	f, err := newTestEngine(svc).Render(context.Background(), NewSession(context.Background()), "crm.Order", "", widget.ModeNew)
	require.NoError(t, err)
	assert.Empty(t, f.CustomCSS)
}

func TestForm_Prefill(t *testing.T) {
	svc := newFakeService(customerTable(dsl.NamingUserProvided))
	f := renderNew(t, svc, "crm.Customer")

	assert.True(t, f.Prefill("title", "Acme"))
	w, _ := f.Widget("title")
	assert.Equal(t, "Acme", w.Value)
	assert.False(t, f.Prefill("photos", "x"), "gallery is not a text field")
	assert.False(t, f.Prefill("missing", "x"))
}
