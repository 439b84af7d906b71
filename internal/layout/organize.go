// Package layout раскладывает поля формы по секциям согласно внешней
// конфигурации раскладки.
package layout

import (
	"strconv"
	"strings"

	"kalitaforms/internal/dsl"
)

// AutoFitTemplate: колонки по умолчанию, когда ничего не задано.
const AutoFitTemplate = "repeat(auto-fit, minmax(280px, 1fr))"

// Источники настройки колонок, в порядке приоритета
const (
	ColumnsExplicit = "section"
	ColumnsTemplate = "section_template"
	ColumnsGlobal   = "form"
	ColumnsAuto     = "auto"
)

// ColumnSpec: итоговая настройка колонок секции.
type ColumnSpec struct {
	Count    int    `json:"count,omitempty"`
	Template string `json:"template,omitempty"`
	Source   string `json:"source"`
}

// Section: группа полей формы.
type Section struct {
	Title          string      `json:"title"`
	Icon           string      `json:"icon,omitempty"`
	Columns        ColumnSpec  `json:"columns"`
	HasColumnBreak bool        `json:"hasColumnBreak,omitempty"`
	Fields         []dsl.Field `json:"fields"`
}

// systemFields: служебные поля записи, в форму не попадают.
var systemFields = map[string]struct{}{
	"creation": {}, "modified": {}, "modified_by": {}, "owner": {},
	"docstatus": {}, "idx": {}, "parent": {}, "parentfield": {}, "parenttype": {},
	"created_at": {}, "updated_at": {}, "version": {},
}

// IsSystemField: служебное поле: с префиксом "_" или из зарезервированного списка.
func IsSystemField(name string) bool {
	if strings.HasPrefix(name, "_") {
		return true
	}
	_, ok := systemFields[strings.ToLower(name)]
	return ok
}

// Organize раскладывает fields по секциям. Без раскладки список пуст:
// таблица без настроенной формы показывает пустое состояние, а не угаданную сетку.
func Organize(fields []dsl.Field, layout *dsl.FormLayout) []Section {
	if layout.Empty() {
		return []Section{}
	}

	byName := make(map[string]dsl.Field, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	allowed := make(map[string]struct{}, len(layout.ShowSystem))
	for _, n := range layout.ShowSystem {
		allowed[n] = struct{}{}
	}
	placed := make(map[string]struct{}, len(fields))

	out := []Section{}
	cur := &sectionDraft{}

	emit := func() {
		if len(cur.fields) > 0 {
			out = append(out, cur.build(layout.Columns))
		}
	}

	for _, e := range layout.Entries {
		switch e.Kind {
		case dsl.EntrySectionBreak:
			emit()
			cur = &sectionDraft{
				title:    e.Title,
				icon:     e.Icon,
				columns:  e.Columns,
				template: strings.TrimSpace(e.ColumnTemplate),
			}
		case dsl.EntryColumnBreak:
			cur.columnBreak = true
		case dsl.EntryField:
			f, ok := byName[e.Field]
			if !ok {
				continue
			}
			if _, dup := placed[f.Name]; dup {
				continue
			}
			if IsSystemField(f.Name) {
				if _, ok := allowed[f.Name]; !ok {
					continue
				}
			}
			placed[f.Name] = struct{}{}
			cur.fields = append(cur.fields, annotate(f, e))
		}
	}
	emit()
	return out
}

// annotate: копия поля с подписью/описанием из раскладки.
func annotate(f dsl.Field, e dsl.LayoutEntry) dsl.Field {
	c := f
	if len(f.Choices) > 0 {
		c.Choices = append([]string(nil), f.Choices...)
	}
	if f.Options != nil {
		c.Options = make(map[string]string, len(f.Options))
		for k, v := range f.Options {
			c.Options[k] = v
		}
	}
	if s := strings.TrimSpace(e.Label); s != "" {
		c.Label = s
	}
	if s := strings.TrimSpace(e.Description); s != "" {
		c.Description = s
	}
	return c
}

type sectionDraft struct {
	title       string
	icon        string
	columns     int
	template    string
	columnBreak bool
	fields      []dsl.Field
}

func (d *sectionDraft) build(global string) Section {
	return Section{
		Title:          d.title,
		Icon:           d.icon,
		Columns:        resolveColumns(d.columns, d.template, global),
		HasColumnBreak: d.columnBreak,
		Fields:         d.fields,
	}
}

// resolveColumns: явное число → шаблон секции → глобальная настройка формы → auto-fit.
func resolveColumns(count int, template, global string) ColumnSpec {
	if count > 0 {
		return ColumnSpec{Count: count, Source: ColumnsExplicit}
	}
	if template != "" {
		return ColumnSpec{Template: template, Source: ColumnsTemplate}
	}
	if g := strings.TrimSpace(global); g != "" {
		if n, err := strconv.Atoi(g); err == nil && n > 0 {
			return ColumnSpec{Count: n, Source: ColumnsGlobal}
		}
		return ColumnSpec{Template: g, Source: ColumnsGlobal}
	}
	return ColumnSpec{Template: AutoFitTemplate, Source: ColumnsAuto}
}
