package api

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/form"
	"kalitaforms/internal/reference"
)

type Record struct {
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Data      map[string]any `json:"data"`
}

// MemoryBackend держит записи в памяти процесса.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string]*Record // FQN -> id -> запись
	seq  map[string]int64
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string]map[string]*Record),
		seq:  make(map[string]int64),
	}
}

func (m *MemoryBackend) Get(_ context.Context, t *dsl.Table, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec := m.data[t.FQN()][id]
	if rec == nil {
		return nil, errors.Wrapf(form.ErrNotFound, "record %s/%s", t.FQN(), id)
	}
	return flatten(rec, idFieldOf(t)), nil
}

func (m *MemoryBackend) Create(_ context.Context, t *dsl.Table, id string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fqn := t.FQN()
	if m.data[fqn] == nil {
		m.data[fqn] = make(map[string]*Record)
	}
	if _, exists := m.data[fqn][id]; exists {
		return errors.Wrapf(form.ErrConflict, "record %s/%s", fqn, id)
	}
	now := time.Now().UTC()
	obj := make(map[string]any, len(data))
	for k, v := range data {
		obj[k] = v
	}
	m.data[fqn][id] = &Record{
		ID:        id,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Data:      obj,
	}
	return nil
}

func (m *MemoryBackend) Update(_ context.Context, t *dsl.Table, id string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.data[t.FQN()][id]
	if rec == nil {
		return errors.Wrapf(form.ErrNotFound, "record %s/%s", t.FQN(), id)
	}
	for k, v := range patch {
		rec.Data[k] = v
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Search: подстрока term (без учёта регистра) в ключе или подписи,
// результат по возрастанию ключа.
func (m *MemoryBackend) Search(_ context.Context, t *dsl.Table, term, displayField string, limit int) ([]reference.Suggestion, error) {
	m.mu.RLock()
	recMap := m.data[t.FQN()]
	ids := make([]string, 0, len(recMap))
	for id := range recMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ql := strings.ToLower(term)
	out := make([]reference.Suggestion, 0, limit)
	for _, id := range ids {
		label := id
		if displayField != "" && displayField != idFieldOf(t) {
			if v := stringify(recMap[id].Data[displayField]); v != "" {
				label = v
			}
		}
		if ql != "" && !strings.Contains(strings.ToLower(id), ql) && !strings.Contains(strings.ToLower(label), ql) {
			continue
		}
		out = append(out, suggestion(id, label))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *MemoryBackend) NextSequence(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[key]++
	return m.seq[key], nil
}

// suggestion: ключ уходит в описание, только если подпись от него отличается.
func suggestion(id, label string) reference.Suggestion {
	s := reference.Suggestion{Value: id, Label: label}
	if label != id {
		s.Description = id
	}
	return s
}
