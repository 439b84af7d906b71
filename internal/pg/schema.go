package pg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"kalitaforms/internal/dsl"
)

type OnDeletePolicy string

const (
	OnDeleteRestrict OnDeletePolicy = "RESTRICT"
	OnDeleteSetNull  OnDeletePolicy = "SET NULL"
)

// SeriesTable: счётчики серийных и автоинкрементных идентификаторов.
const SeriesTable = "kalita_series"

// Служебные колонки каждой таблицы записей.
const (
	colID        = "id"
	colVersion   = "version"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
)

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// элементарная плюрализация (customers, orders, ...)
func plural(s string) string {
	s = strings.ToLower(s)
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}

// schema = module (lower), table = plural(entity) с защитой keyword'ов
func safeSchema(module string) string { return strings.ToLower(module) }

func safeTable(entity string) string {
	t := plural(entity)
	if isReserved(t) {
		t = "e_" + t
	}
	return t
}

func sqlIdent(s string) string {
	return `"` + strings.ReplaceAll(strings.ToLower(s), `"`, `""`) + `"`
}

func sqlLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// relation: полное имя таблицы записей: "crm"."customers".
func relation(t *dsl.Table) string {
	return sqlIdent(safeSchema(t.Module)) + "." + sqlIdent(safeTable(t.Name))
}

func idFieldOf(t *dsl.Table) string {
	if t.IDField != "" {
		return t.IDField
	}
	return dsl.DefaultIDField
}

// dataFields: поля, у которых есть своя колонка. Идентификатор живёт в "id".
func dataFields(t *dsl.Table) []dsl.Field {
	idField := idFieldOf(t)
	out := make([]dsl.Field, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == idField {
			continue
		}
		switch strings.ToLower(f.Name) {
		case colVersion, colCreatedAt, colUpdatedAt:
			continue
		}
		out = append(out, f)
	}
	return out
}

func mapType(f dsl.Field) string {
	if f.Gallery {
		// сериализованный список изображений
		return "text"
	}
	switch f.Type {
	case dsl.TypeInt:
		return "bigint"
	case dsl.TypeFloat:
		return "double precision"
	case dsl.TypeDate:
		return "date"
	case dsl.TypeCheck:
		return "smallint"
	default:
		// Text, LongText, Select, Link (ключ целевой записи), Attach, Formula, Generic
		return "text"
	}
}

func onDeletePolicy(f dsl.Field) OnDeletePolicy {
	if f.Options == nil {
		return OnDeleteRestrict
	}
	switch strings.ToLower(strings.TrimSpace(f.Options["on_delete"])) {
	case "set_null":
		return OnDeleteSetNull
	default:
		return OnDeleteRestrict
	}
}

// GenerateDDL возвращает карту ключ -> SQL DDL. Ключи задают порядок
// применения: схемы и таблицы, затем внешние ключи.
func GenerateDDL(tables map[string]*dsl.Table) (map[string]string, error) {
	out := make(map[string]string, 2)

	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// --- Phase A: schemas + tables + unique ---
	var phaseA strings.Builder
	fmt.Fprintf(&phaseA, "create table if not exists %s (\n  \"key\" text primary key,\n  \"value\" bigint not null\n);\n", SeriesTable)
	seenSchemas := map[string]struct{}{}

	type fkStmt struct {
		schema, rel, name, col, refRel string
		onDelete                       OnDeletePolicy
	}
	var fks []fkStmt

	for _, fqnKey := range keys {
		t := tables[fqnKey]
		mod := safeSchema(t.Module)
		if _, ok := seenSchemas[mod]; !ok {
			fmt.Fprintf(&phaseA, "create schema if not exists %s;\n", sqlIdent(mod))
			seenSchemas[mod] = struct{}{}
		}

		cols := []string{
			`"id" text primary key`,
			`"version" bigint not null default 1`,
			`"created_at" timestamp with time zone not null default now()`,
			`"updated_at" timestamp with time zone not null default now()`,
		}
		seen := map[string]struct{}{colID: {}}
		for _, f := range dataFields(t) {
			lower := strings.ToLower(f.Name)
			if _, dup := seen[lower]; dup {
				return nil, errors.Errorf("%s: field %q duplicates another column", fqnKey, f.Name)
			}
			seen[lower] = struct{}{}

			def := ""
			if dv := strings.TrimSpace(f.Options["default"]); dv != "" {
				def = " default " + sqlLiteral(dv)
			}
			cols = append(cols, fmt.Sprintf("%s %s null%s", sqlIdent(f.Name), mapType(f), def))
		}
		fmt.Fprintf(&phaseA, "create table if not exists %s (\n  %s\n);\n", relation(t), strings.Join(cols, ",\n  "))

		for _, f := range dataFields(t) {
			if _, ok := f.Options["unique"]; ok {
				fmt.Fprintf(&phaseA, "create unique index if not exists %s on %s(%s);\n",
					sqlIdent(strings.ToLower(t.Name+"_"+f.Name+"_uq")), relation(t), sqlIdent(f.Name))
			}
		}

		// FK только на известные таблицы
		for _, f := range dataFields(t) {
			if f.Type != dsl.TypeLink || f.Gallery {
				continue
			}
			target, ok := tables[t.LinkTable(f)]
			if !ok {
				continue
			}
			fks = append(fks, fkStmt{
				schema:   mod,
				rel:      relation(t),
				name:     strings.ToLower(t.Name + "_" + f.Name + "_fk"),
				col:      f.Name,
				refRel:   relation(target),
				onDelete: onDeletePolicy(f),
			})
		}
	}
	out["000_schemas_and_tables"] = phaseA.String()

	// --- Phase B: foreign keys (после создания всех таблиц) ---
	// по одному FK на ключ
	for _, fk := range fks {
		out["200_fk_"+fk.schema+"_"+fk.name] = fmt.Sprintf(
			"alter table %s add constraint %s foreign key (%s) references %s(id) on delete %s;\n",
			fk.rel, sqlIdent(fk.name), sqlIdent(fk.col), fk.refRel, fk.onDelete)
	}
	return out, nil
}
