// Package form собирает форму записи: раскладка, виджеты полей, display-значения
// ссылок. И обратно: патч из состояния формы.
package form

import (
	"context"

	"github.com/pkg/errors"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/gallery"
	"kalitaforms/internal/reference"
)

// ErrNotFound: таблица или запись не найдены. Бэкенды оборачивают его.
var ErrNotFound = errors.New("not found")

// ErrConflict: запись с таким идентификатором уже есть.
var ErrConflict = errors.New("record already exists")

// ErrSessionSwitched: контекст сессии сменился, пока шёл рендер.
var ErrSessionSwitched = errors.New("session context switched")

// IsNotFound проверяет ErrNotFound через цепочку обёрток.
func IsNotFound(err error) bool {
	return err != nil && errors.Cause(err) == ErrNotFound
}

// IsConflict проверяет ErrConflict через цепочку обёрток.
func IsConflict(err error) bool {
	return err != nil && errors.Cause(err) == ErrConflict
}

// SchemaSource: внешний источник метаданных.
type SchemaSource interface {
	TableSchema(ctx context.Context, table string) (*dsl.Table, error)
	// FormLayout: nil без ошибки, если раскладки нет.
	FormLayout(ctx context.Context, table string) (*dsl.FormLayout, error)
}

// RecordStore: внешнее хранилище записей.
type RecordStore interface {
	GetRecord(ctx context.Context, table, id string) (map[string]any, error)
	CreateRecord(ctx context.Context, table string, patch map[string]any) (string, error)
	UpdateRecord(ctx context.Context, table, id string, patch map[string]any) error
}

// Service: всё, что движку нужно снаружи.
type Service interface {
	SchemaSource
	RecordStore
	reference.Searcher
	reference.DisplayLookup
	gallery.FileUploader
}
