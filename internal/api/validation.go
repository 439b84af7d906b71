package api

import (
	"fmt"
	"sort"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/form"
)

// systemFields ведёт хранилище, клиент их не пишет.
var systemFields = []string{"created_at", "updated_at", "version"}

// validatePatch: проверки на стороне хранилища: неизвестные поля,
// служебные, readonly и вычисляемые, значения select.
// Идентификатор можно прислать только при создании и только если его
// вводит пользователь.
func (s *Storage) validatePatch(t *dsl.Table, patch map[string]any, isCreate bool) (errs []form.FieldError) {
	for _, k := range systemFields {
		if _, ok := patch[k]; ok {
			errs = append(errs, ferr(form.ErrReadOnly, k, "Field '"+k+"' is read-only"))
		}
	}

	idField := idFieldOf(t)
	userID := t.Naming.Strategy == "" || t.Naming.Strategy == dsl.NamingUserProvided

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if isSystem(k) {
			continue
		}
		if k == idField {
			if !isCreate || !userID {
				errs = append(errs, ferr(form.ErrReadOnly, k, "Identifier cannot be changed"))
			}
			continue
		}
		f, ok := t.Field(k)
		if !ok {
			errs = append(errs, ferr(form.ErrUnknownField, k, fmt.Sprintf("Unknown field '%s' in %s", k, t.FQN())))
			continue
		}
		if f.ReadOnly || f.Type == dsl.TypeFormula {
			errs = append(errs, ferr(form.ErrReadOnly, k, "Field '"+k+"' is read-only"))
			continue
		}
		if f.Type == dsl.TypeSelect && !f.Gallery {
			if fe := s.checkChoice(f, patch[k]); fe != nil {
				errs = append(errs, *fe)
			}
		}
	}
	return errs
}

// checkChoice: значение select из списка (или справочника) поля.
func (s *Storage) checkChoice(f dsl.Field, v any) *form.FieldError {
	val := stringify(v)
	if val == "" {
		return nil
	}
	choices := f.Choices
	if f.ChoicesRef != "" {
		codes, ok := s.EnumChoices(f.ChoicesRef)
		if !ok {
			fe := ferr(form.ErrEnumInvalid, f.Name, "Unknown catalog '"+f.ChoicesRef+"'")
			return &fe
		}
		choices = codes
	}
	if len(choices) == 0 {
		return nil
	}
	for _, c := range choices {
		if c == val {
			return nil
		}
	}
	fe := ferr(form.ErrEnumInvalid, f.Name, fmt.Sprintf("value '%s' is not allowed", val))
	return &fe
}

func isSystem(k string) bool {
	for _, s := range systemFields {
		if s == k {
			return true
		}
	}
	return false
}

func ferr(code, field, msg string) form.FieldError {
	return form.FieldError{Code: code, Field: field, Message: msg}
}
