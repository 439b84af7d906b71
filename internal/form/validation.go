package form

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Коды ошибок
const (
	ErrRequired          = "required"
	ErrTypeMismatch      = "type_mismatch"
	ErrEnumInvalid       = "enum_invalid"
	ErrInvalidIdentifier = "invalid_identifier"
	ErrReadOnly          = "readonly_field"
	ErrUnknownField      = "unknown_field"
	ErrNotFoundCode      = "not_found"
	ErrNotUnique         = "not_unique"
)

// ValidationError: сбор формы прерван ошибками полей.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidation достаёт ValidationError из цепочки.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// MinIdentifierLength: минимальная длина идентификатора, который вводит пользователь.
const MinIdentifierLength = 3

var (
	identifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	dateRe       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`) // YYYY-MM-DD
)

// ValidateIdentifier: правила для введённого пользователем идентификатора.
// nil: всё в порядке.
func ValidateIdentifier(field, raw string) *FieldError {
	v := strings.TrimSpace(raw)
	switch {
	case v == "":
		fe := ferr(ErrRequired, field, "ID is required")
		return &fe
	case len(v) < MinIdentifierLength:
		fe := ferr(ErrInvalidIdentifier, field, fmt.Sprintf("ID must be at least %d characters", MinIdentifierLength))
		return &fe
	case !identifierRe.MatchString(v):
		fe := ferr(ErrInvalidIdentifier, field, "ID may contain only letters, digits, underscore and hyphen")
		return &fe
	}
	return nil
}

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

func toStringStrict(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	default:
		return "", errors.New("must be string")
	}
}

// toIntStrict: пустая строка означает отсутствие значения (nil).
func toIntStrict(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		// JSON числа приходят как float64 — проверяем целостность
		if t != float64(int64(t)) {
			return nil, errors.New("must be integer")
		}
		return int64(t), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.New("must be integer")
		}
		return n, nil
	default:
		return nil, errors.New("must be integer")
	}
}

func toFloatStrict(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.New("must be a number")
		}
		return f, nil
	default:
		return nil, errors.New("must be a number")
	}
}

func toDateStrict(v any) (any, error) {
	s, err := toStringStrict(v)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !dateRe.MatchString(s) {
		return nil, errors.New("must match YYYY-MM-DD")
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return nil, errors.New("invalid date")
	}
	return s, nil
}

// linkKey: сырой ключ ссылки. Хост может прислать объект подсказки.
func linkKey(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		return s, nil
	case map[string]any:
		if s, ok := t["value"].(string); ok {
			return linkKey(s)
		}
		return nil, errors.New("must be a record key")
	default:
		return nil, errors.New("must be a record key")
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == "" || t == "[]"
	}
	return false
}
