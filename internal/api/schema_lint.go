package api

import (
	"fmt"
	"sort"
	"strings"

	"kalitaforms/internal/dsl"
)

type SchemaIssue struct {
	Table   string `json:"table"` // FQN: module.Table
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SchemaLint проверяет текущий каталог.
func (s *Storage) SchemaLint() []SchemaIssue {
	return LintCatalog(s.Catalog())
}

// LintCatalog проверяет базовые противоречия между DSL, раскладками,
// справочниками и настройками display-полей.
func LintCatalog(cat *Catalog) []SchemaIssue {
	var issues []SchemaIssue
	add := func(table, field, code, format string, args ...any) {
		issues = append(issues, SchemaIssue{Table: table, Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	for fqn, t := range cat.Schemas {
		for _, f := range t.Fields {
			switch f.Type {
			case dsl.TypeLink:
				if f.Gallery {
					break
				}
				target := t.LinkTable(f)
				if target == "" {
					add(fqn, f.Name, "link_target_empty", "link field has empty target")
				} else if _, ok := cat.Schemas[target]; !ok {
					add(fqn, f.Name, "link_target_unknown", "link target %q is not a known table", target)
				}
			case dsl.TypeSelect:
				if f.ChoicesRef != "" {
					if _, ok := cat.Enums[f.ChoicesRef]; !ok {
						add(fqn, f.Name, "choices_ref_unknown", "enum catalog %q not found", f.ChoicesRef)
					}
				} else if len(f.Choices) == 0 {
					add(fqn, f.Name, "select_without_choices", "select field has no choices")
				}
			}
		}

		switch t.Naming.Strategy {
		case dsl.NamingDerived:
			if _, ok := t.Field(t.Naming.SourceField); !ok {
				add(fqn, t.Naming.SourceField, "naming_source_unknown", "naming source field %q not found", t.Naming.SourceField)
			}
		case dsl.NamingSeriesPrefix:
			if t.Naming.Prefix == "" {
				add(fqn, "", "naming_prefix_empty", "series naming needs a prefix")
			}
		}
	}

	for table, l := range cat.Layouts {
		t, ok := cat.Schemas[table]
		if !ok {
			add(table, "", "layout_table_unknown", "layout for unknown table %q", table)
			continue
		}
		for i, e := range l.Entries {
			if e.Kind != dsl.EntryField {
				continue
			}
			if _, ok := t.Field(e.Field); !ok {
				add(table, e.Field, "layout_field_unknown", "layout entry %d refers to unknown field %q", i, e.Field)
			}
		}
	}

	for key, displayField := range cat.Display {
		table, field := splitDisplayKey(key)
		t, ok := cat.Schemas[table]
		if !ok {
			add(table, field, "display_table_unknown", "display field rule for unknown table %q", table)
			continue
		}
		f, ok := t.Field(field)
		if !ok || f.Type != dsl.TypeLink {
			add(table, field, "display_not_link", "display field rule for %q which is not a link field", field)
			continue
		}
		if target, ok := cat.Schemas[t.LinkTable(f)]; ok {
			if _, ok := target.Field(displayField); !ok && displayField != idFieldOf(target) {
				add(table, field, "display_field_unknown", "display field %q not found in %s", displayField, target.FQN())
			}
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Table != issues[j].Table {
			return issues[i].Table < issues[j].Table
		}
		if issues[i].Field != issues[j].Field {
			return issues[i].Field < issues[j].Field
		}
		return issues[i].Code < issues[j].Code
	})
	return issues
}

// splitDisplayKey: обратная сторона ключа "table/field" у DisplayFields.
func splitDisplayKey(key string) (string, string) {
	i := strings.LastIndexByte(key, '/')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}
