package form

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/gallery"
	"kalitaforms/internal/widget"
)

// Patch: значения полей для записи в хранилище.
type Patch map[string]any

// Collect собирает патч из формы f и текущих значений контролов values.
// Поля, которых нет в values, берутся из отрисованного значения. Только
// редактируемые виджеты попадают в патч; идентификатор только для новой
// записи с именованием "вводит пользователь". При любой ошибке поля патча нет.
func Collect(f *Form, values map[string]any) (Patch, []FieldError) {
	patch := Patch{}
	var errs []FieldError

	for _, w := range f.Widgets() {
		raw, ok := values[w.Field]
		if !ok {
			raw = w.Value
		}

		if w.Identifier {
			if f.Mode != widget.ModeNew || !userProvidesID(f.Naming) {
				continue
			}
			s, err := toStringStrict(raw)
			if err != nil {
				errs = append(errs, ferr(ErrInvalidIdentifier, w.Field, "ID must be text"))
				continue
			}
			if fe := ValidateIdentifier(w.Field, s); fe != nil {
				errs = append(errs, *fe)
				continue
			}
			patch[w.Field] = strings.TrimSpace(s)
			continue
		}

		if !w.Editable() {
			continue
		}

		v, code, err := coerce(w, raw)
		if err != nil {
			errs = append(errs, ferr(code, w.Field, fmt.Sprintf("%s %v", w.Label, err)))
			continue
		}
		if w.Required && isEmpty(v) {
			errs = append(errs, ferr(ErrRequired, w.Field, "Field '"+w.Label+"' is required"))
			continue
		}
		patch[w.Field] = v
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return patch, nil
}

func userProvidesID(n dsl.NamingConfig) bool {
	return n.Strategy == "" || n.Strategy == dsl.NamingUserProvided
}

// coerce приводит значение контрола к значению хранилища по виду виджета.
func coerce(w widget.Descriptor, raw any) (any, string, error) {
	switch w.Kind {
	case widget.KindGallery:
		return gallery.Serialize(gallery.Parse(raw)), "", nil
	case widget.KindCheckbox:
		if widget.IsChecked(raw) {
			return 1, "", nil
		}
		return 0, "", nil
	case widget.KindLink:
		v, err := linkKey(raw)
		return v, ErrTypeMismatch, err
	case widget.KindNumber:
		if w.Type == dsl.TypeInt {
			v, err := toIntStrict(raw)
			return v, ErrTypeMismatch, err
		}
		v, err := toFloatStrict(raw)
		return v, ErrTypeMismatch, err
	case widget.KindDate:
		v, err := toDateStrict(raw)
		return v, ErrTypeMismatch, err
	case widget.KindSelect:
		s, err := toStringStrict(raw)
		if err != nil {
			return nil, ErrTypeMismatch, err
		}
		if s == "" {
			return nil, "", nil
		}
		if len(w.Choices) > 0 && !contains(w.Choices, s) {
			return nil, ErrEnumInvalid, errors.Errorf("value '%s' is not allowed", s)
		}
		return s, "", nil
	default:
		switch t := raw.(type) {
		case nil:
			return "", "", nil
		case string:
			return t, "", nil
		case map[string]any, []any:
			return nil, ErrTypeMismatch, errors.New("must be text")
		default:
			return fmt.Sprint(t), "", nil
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Save собирает форму и пишет патч. Для новой записи возвращает id,
// выданный хранилищем.
func (e *Engine) Save(ctx context.Context, f *Form, values map[string]any) (string, error) {
	patch, errs := Collect(f, values)
	if len(errs) > 0 {
		return "", &ValidationError{Errors: errs}
	}
	log := e.log.WithFields(logrus.Fields{"table": f.Table, "mode": f.Mode})

	switch f.Mode {
	case widget.ModeNew:
		id, err := e.svc.CreateRecord(ctx, f.Table, patch)
		if err != nil {
			return "", errors.Wrapf(err, "create %s", f.Table)
		}
		log.WithField("record", id).Info("record created")
		return id, nil
	case widget.ModeEdit:
		if err := e.svc.UpdateRecord(ctx, f.Table, f.RecordID, patch); err != nil {
			return "", errors.Wrapf(err, "update %s/%s", f.Table, f.RecordID)
		}
		e.resolver.Forget(f.Table, f.RecordID)
		log.WithField("record", f.RecordID).Info("record updated")
		return f.RecordID, nil
	default:
		return "", errors.Errorf("form in %s mode cannot be saved", f.Mode)
	}
}
