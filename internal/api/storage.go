package api

import (
	"context"
	"io"
	"math/rand"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/form"
	"kalitaforms/internal/gallery"
	"kalitaforms/internal/reference"
)

// Backend: хранилище записей: память или Postgres.
// Нет записи: обёрнутый form.ErrNotFound; дубль id: form.ErrConflict.
type Backend interface {
	Get(ctx context.Context, t *dsl.Table, id string) (map[string]any, error)
	Create(ctx context.Context, t *dsl.Table, id string, data map[string]any) error
	Update(ctx context.Context, t *dsl.Table, id string, patch map[string]any) error
	Search(ctx context.Context, t *dsl.Table, term, displayField string, limit int) ([]reference.Suggestion, error)
	// NextSequence: следующий номер счётчика key, начиная с 1.
	NextSequence(ctx context.Context, key string) (int64, error)
}

// Catalog: всё, что читается из файлов: схемы, раскладки, справочники.
type Catalog struct {
	Schemas map[string]*dsl.Table              // FQN ("module.Name") -> схема
	Layouts map[string]*dsl.FormLayout         // FQN -> раскладка формы
	Enums   map[string]reference.EnumDirectory // каталог enum'ов
	Display reference.DisplayFields
}

// CatalogPaths: откуда читать каталог.
type CatalogPaths struct {
	DSLDir            string `json:"dsl_root"`
	LayoutsDir        string `json:"layouts_root"`
	EnumsDir          string `json:"enums_root"`
	DisplayFieldsFile string `json:"display_fields"`
}

// LoadCatalog читает DSL, раскладки, enum'ы и display-поля.
func LoadCatalog(p CatalogPaths) (*Catalog, error) {
	schemas, err := dsl.LoadAllTables(p.DSLDir)
	if err != nil {
		return nil, errors.Wrap(err, "load dsl")
	}
	layouts, err := dsl.LoadAllLayouts(p.LayoutsDir)
	if err != nil {
		return nil, errors.Wrap(err, "load layouts")
	}
	enums := map[string]reference.EnumDirectory{}
	if strings.TrimSpace(p.EnumsDir) != "" {
		if enums, err = reference.LoadEnumCatalog(p.EnumsDir); err != nil {
			return nil, errors.Wrap(err, "load enums")
		}
	}
	display := reference.DisplayFields{}
	if strings.TrimSpace(p.DisplayFieldsFile) != "" {
		if display, err = reference.LoadDisplayFields(p.DisplayFieldsFile); err != nil {
			return nil, errors.Wrap(err, "load display fields")
		}
	}
	return &Catalog{Schemas: schemas, Layouts: layouts, Enums: enums, Display: display}, nil
}

// Storage связывает каталог метаданных с бэкендом записей и хранилищем
// файлов. Реализует form.Service.
type Storage struct {
	mu      sync.RWMutex
	Schemas map[string]*dsl.Table
	Layouts map[string]*dsl.FormLayout
	Enums   map[string]reference.EnumDirectory
	Display reference.DisplayFields

	Backend     Backend
	Blob        BlobStore
	FilesPrefix string // URL-префикс, под которым раздаются файлы из Blob

	log     logrus.FieldLogger
	idMu    sync.Mutex
	entropy io.Reader
}

var _ form.Service = (*Storage)(nil)

// NewStorage наполняет каталог и готов к работе.
func NewStorage(cat *Catalog, backend Backend, blob BlobStore, log logrus.FieldLogger) *Storage {
	if log == nil {
		log = logrus.StandardLogger()
	}
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &Storage{
		Backend:     backend,
		Blob:        blob,
		FilesPrefix: "/files/",
		log:         log,
		entropy:     ulid.Monotonic(src, 0),
	}
	s.Swap(cat)
	return s
}

// Swap атомарно подменяет каталог.
func (s *Storage) Swap(cat *Catalog) {
	if cat == nil {
		cat = &Catalog{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Schemas = orEmpty(cat.Schemas)
	s.Layouts = cat.Layouts
	if s.Layouts == nil {
		s.Layouts = map[string]*dsl.FormLayout{}
	}
	s.Enums = cat.Enums
	if s.Enums == nil {
		s.Enums = map[string]reference.EnumDirectory{}
	}
	s.Display = cat.Display
	if s.Display == nil {
		s.Display = reference.DisplayFields{}
	}
}

func orEmpty(m map[string]*dsl.Table) map[string]*dsl.Table {
	if m == nil {
		return map[string]*dsl.Table{}
	}
	return m
}

// Catalog: снимок текущего каталога.
func (s *Storage) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Catalog{Schemas: s.Schemas, Layouts: s.Layouts, Enums: s.Enums, Display: s.Display}
}

// Tables: FQN всех таблиц по алфавиту.
func (s *Storage) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.Schemas))
	for fqn := range s.Schemas {
		out = append(out, fqn)
	}
	sort.Strings(out)
	return out
}

func (s *Storage) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// schema: схема по FQN (регистр имени не важен).
func (s *Storage) schema(table string) (*dsl.Table, error) {
	mod, name := splitFQN(table)
	s.mu.RLock()
	defer s.mu.RUnlock()
	fqn, ok := s.NormalizeTableName(mod, name)
	if !ok {
		return nil, errors.Wrapf(form.ErrNotFound, "table %s", table)
	}
	return s.Schemas[fqn], nil
}

func (s *Storage) TableSchema(_ context.Context, table string) (*dsl.Table, error) {
	return s.schema(table)
}

func (s *Storage) FormLayout(_ context.Context, table string) (*dsl.FormLayout, error) {
	t, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Layouts[t.FQN()], nil
}

// EnumChoices: коды справочника name.
func (s *Storage) EnumChoices(name string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir, ok := s.Enums[name]
	if !ok {
		return nil, false
	}
	return dir.Codes(), true
}

func (s *Storage) GetRecord(ctx context.Context, table, id string) (map[string]any, error) {
	t, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	return s.Backend.Get(ctx, t, id)
}

// CreateRecord проверяет патч, выдаёт id по стратегии именования таблицы
// и создаёт запись.
func (s *Storage) CreateRecord(ctx context.Context, table string, patch map[string]any) (string, error) {
	t, err := s.schema(table)
	if err != nil {
		return "", err
	}
	if errs := s.validatePatch(t, patch, true); len(errs) > 0 {
		return "", &form.ValidationError{Errors: errs}
	}
	id, err := s.assignID(ctx, t, patch)
	if err != nil {
		return "", err
	}
	data := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		data[k] = v
	}
	data[idFieldOf(t)] = id
	if err := s.Backend.Create(ctx, t, id, data); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"table": t.FQN(), "record": id}).Debug("record stored")
	return id, nil
}

func (s *Storage) UpdateRecord(ctx context.Context, table, id string, patch map[string]any) error {
	t, err := s.schema(table)
	if err != nil {
		return err
	}
	if errs := s.validatePatch(t, patch, false); len(errs) > 0 {
		return &form.ValidationError{Errors: errs}
	}
	return s.Backend.Update(ctx, t, id, patch)
}

// SearchReferences ищет записи targetTable. Без displayField подписью
// служит наиболее "человеческое" поле схемы.
func (s *Storage) SearchReferences(ctx context.Context, targetTable, term, displayField string, limit int) ([]reference.Suggestion, error) {
	t, err := s.schema(targetTable)
	if err != nil {
		return nil, err
	}
	if displayField == "" {
		displayField = pickDisplayField(t)
	}
	return s.Backend.Search(ctx, t, strings.TrimSpace(term), displayField, limit)
}

func (s *Storage) DisplayFieldConfig(_ context.Context, table, field string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	df, ok := s.Display.Lookup(table, field)
	return df, ok, nil
}

// ResolveDisplayValue: значение displayField записи key; записи нет — ok=false.
func (s *Storage) ResolveDisplayValue(ctx context.Context, targetTable, key, displayField string) (string, bool, error) {
	rec, err := s.GetRecord(ctx, targetTable, key)
	if err != nil {
		if form.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	v := stringify(rec[displayField])
	return v, v != "", nil
}

// UploadFile кладёт файл в Blob под "<table>/<field>/<ulid><ext>".
func (s *Storage) UploadFile(_ context.Context, r io.Reader, meta gallery.FileMeta) (gallery.Stored, error) {
	if s.Blob == nil {
		return gallery.Stored{}, errors.New("blob store not configured")
	}
	key := path.Join(keySegment(meta.Table), keySegment(meta.Field), s.newID()+strings.ToLower(path.Ext(meta.FileName)))
	key, size, sum, err := s.Blob.Put(key, r)
	if err != nil {
		return gallery.Stored{}, errors.Wrapf(err, "store %s", meta.FileName)
	}
	s.log.WithFields(logrus.Fields{"key": key, "size": size, "sha256": sum}).Debug("file stored")
	return gallery.Stored{URL: s.FilesPrefix + key, StoredName: key}, nil
}

// keySegment: безопасный кусок ключа файла.
func keySegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}

// pickDisplayField: поле для подписи в поиске, если настроек нет.
func pickDisplayField(t *dsl.Table) string {
	idField := idFieldOf(t)
	// 1) самые частые
	for _, c := range []string{"title", "full_name", "name", "email", "code"} {
		if c == idField {
			continue
		}
		if _, ok := t.Field(c); ok {
			return c
		}
	}
	// 2) первое текстовое поле
	for _, f := range t.Fields {
		if f.Name != idField && f.Type == dsl.TypeText && !f.Gallery {
			return f.Name
		}
	}
	// 3) fallback: сам ключ
	return idField
}

func idFieldOf(t *dsl.Table) string {
	if t.IDField != "" {
		return t.IDField
	}
	return dsl.DefaultIDField
}
