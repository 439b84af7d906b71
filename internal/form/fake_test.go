package form

import (
	"context"
	"io"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/gallery"
	"kalitaforms/internal/reference"
)

// fakeService: Service в памяти для тестов движка.
type fakeService struct {
	mu       sync.Mutex
	tables   map[string]*dsl.Table
	layouts  map[string]*dsl.FormLayout
	records  map[string]map[string]map[string]any
	display  reference.DisplayFields
	nextID   int
	failFile map[string]bool

	layoutErr    error
	displayErr   error
	displayCalls int
	updates      []map[string]any

	// onUpload вызывается до ответа UploadFile
	onUpload func(meta gallery.FileMeta)
}

func newFakeService(tables ...*dsl.Table) *fakeService {
	s := &fakeService{
		tables:   map[string]*dsl.Table{},
		layouts:  map[string]*dsl.FormLayout{},
		records:  map[string]map[string]map[string]any{},
		display:  reference.DisplayFields{},
		failFile: map[string]bool{},
	}
	for _, t := range tables {
		s.tables[t.FQN()] = t
		s.records[t.FQN()] = map[string]map[string]any{}
	}
	return s
}

func (s *fakeService) put(table, id string, rec map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[table][id] = rec
}

func (s *fakeService) TableSchema(_ context.Context, table string) (*dsl.Table, error) {
	t, ok := s.tables[table]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "table %s", table)
	}
	return t, nil
}

func (s *fakeService) FormLayout(_ context.Context, table string) (*dsl.FormLayout, error) {
	if s.layoutErr != nil {
		return nil, s.layoutErr
	}
	return s.layouts[table], nil
}

func (s *fakeService) GetRecord(_ context.Context, table, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[table][id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "record %s", id)
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

func (s *fakeService) CreateRecord(_ context.Context, table string, patch map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id, _ := patch[s.tables[table].IDField].(string)
	if id == "" {
		id = strconv.Itoa(s.nextID)
	}
	s.records[table][id] = patch
	return id, nil
}

func (s *fakeService) UpdateRecord(_ context.Context, table, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[table][id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "record %s", id)
	}
	for k, v := range patch {
		rec[k] = v
	}
	s.updates = append(s.updates, patch)
	return nil
}

func (s *fakeService) SearchReferences(context.Context, string, string, string, int) ([]reference.Suggestion, error) {
	return nil, nil
}

func (s *fakeService) DisplayFieldConfig(_ context.Context, table, field string) (string, bool, error) {
	df, ok := s.display.Lookup(table, field)
	return df, ok, nil
}

func (s *fakeService) ResolveDisplayValue(_ context.Context, target, key, displayField string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayCalls++
	if s.displayErr != nil {
		return "", false, s.displayErr
	}
	rec, ok := s.records[target][key]
	if !ok {
		return "", false, nil
	}
	v, _ := rec[displayField].(string)
	return v, v != "", nil
}

func (s *fakeService) UploadFile(_ context.Context, r io.Reader, meta gallery.FileMeta) (gallery.Stored, error) {
	if _, err := io.ReadAll(r); err != nil {
		return gallery.Stored{}, err
	}
	if s.onUpload != nil {
		s.onUpload(meta)
	}
	if s.failFile[meta.FileName] {
		return gallery.Stored{}, errors.New("storage unavailable")
	}
	return gallery.Stored{URL: "/files/" + meta.FileName, StoredName: meta.FileName}, nil
}
