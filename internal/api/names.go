package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/form"
)

// NormalizeTableName возвращает FQN ("module.Name") по паре {module, table}.
// Если module пустой, пытается найти уникальную таблицу с таким именем среди всех модулей.
// Вызывающий держит s.mu.
func (s *Storage) NormalizeTableName(module, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	ml := strings.ToLower(strings.TrimSpace(module))
	nl := strings.ToLower(strings.TrimSpace(name))

	// 1) есть модуль: точное, затем регистронезависимое совпадение FQN
	if ml != "" {
		if _, ok := s.Schemas[module+"."+name]; ok {
			return module + "." + name, true
		}
		for fqn := range s.Schemas {
			fm, fn := splitFQN(fqn)
			if strings.ToLower(fm) == ml && strings.ToLower(fn) == nl {
				return fqn, true
			}
		}
		return "", false
	}

	// 2) модуля нет — ищем ИМЕНО ОДНО уникальное имя среди всех
	var found string
	for fqn := range s.Schemas {
		_, fn := splitFQN(fqn)
		if strings.ToLower(fn) == nl {
			if found != "" { // неуникально
				return "", false
			}
			found = fqn
		}
	}
	return found, found != ""
}

// ResolveTable: то же под блокировкой, для обработчиков.
func (s *Storage) ResolveTable(module, name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NormalizeTableName(module, name)
}

// assignID выдаёт идентификатор новой записи по стратегии именования.
func (s *Storage) assignID(ctx context.Context, t *dsl.Table, data map[string]any) (string, error) {
	idField := idFieldOf(t)
	switch t.Naming.Strategy {
	case "", dsl.NamingUserProvided:
		id := stringify(data[idField])
		if fe := form.ValidateIdentifier(idField, id); fe != nil {
			return "", &form.ValidationError{Errors: []form.FieldError{*fe}}
		}
		return id, nil

	case dsl.NamingSeriesPrefix:
		n, err := s.Backend.NextSequence(ctx, t.FQN()+"/"+t.Naming.Prefix)
		if err != nil {
			return "", errors.Wrapf(err, "next %s series", t.FQN())
		}
		return fmt.Sprintf("%s%04d", t.Naming.Prefix, n), nil

	case dsl.NamingDerived:
		src := t.Naming.SourceField
		id := stringify(data[src])
		if id == "" {
			return "", &form.ValidationError{Errors: []form.FieldError{{
				Code:    form.ErrRequired,
				Field:   src,
				Message: "Field '" + src + "' is required to name the record",
			}}}
		}
		return id, nil

	case dsl.NamingRandom:
		return strings.ToLower(s.newID()), nil

	case dsl.NamingAutoincrement:
		n, err := s.Backend.NextSequence(ctx, t.FQN())
		if err != nil {
			return "", errors.Wrapf(err, "next %s id", t.FQN())
		}
		return strconv.FormatInt(n, 10), nil

	default:
		return "", errors.Errorf("table %s: unknown naming strategy %q", t.FQN(), t.Naming.Strategy)
	}
}
