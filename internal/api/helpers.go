package api

import (
	"fmt"
	"strings"
	"time"
)

// flatten: данные записи плюс служебные поля; ключ всегда в idField.
func flatten(rec *Record, idField string) map[string]any {
	out := map[string]any{
		"version":    rec.Version,
		"created_at": rec.CreatedAt.Format(time.RFC3339),
		"updated_at": rec.UpdatedAt.Format(time.RFC3339),
	}
	for k, v := range rec.Data {
		// пользовательские поля не перетирают служебные
		if _, clash := out[k]; clash {
			continue
		}
		out[k] = v
	}
	out[idField] = rec.ID
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	default:
		return strings.TrimSpace(fmtAny(v))
	}
}

func fmtAny(v any) string {
	return fmt.Sprintf("%v", v)
}
