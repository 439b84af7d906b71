package form

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/gallery"
	"kalitaforms/internal/layout"
	"kalitaforms/internal/reference"
	"kalitaforms/internal/widget"
)

// EnumSource: справочники для Select[enum:<name>].
type EnumSource interface {
	EnumChoices(name string) ([]string, bool)
}

// maxLinkLookups: сколько display-значений разрешаем параллельно.
const maxLinkLookups = 8

// Engine рендерит и собирает формы записей.
type Engine struct {
	svc      Service
	resolver *reference.Resolver
	enums    EnumSource
	urls     gallery.URLResolver
	uploader *gallery.Uploader
	log      logrus.FieldLogger

	galleryLocks keyLocks
}

type Option func(*Engine)

func WithResolver(r *reference.Resolver) Option { return func(e *Engine) { e.resolver = r } }
func WithEnums(src EnumSource) Option           { return func(e *Engine) { e.enums = src } }
func WithURLResolver(u gallery.URLResolver) Option {
	return func(e *Engine) { e.urls = u }
}

func NewEngine(svc Service, log logrus.FieldLogger, opts ...Option) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Engine{
		svc:  svc,
		urls: gallery.NewURLResolver("", ""),
		log:  log,
	}
	for _, o := range opts {
		o(e)
	}
	if e.resolver == nil {
		e.resolver = reference.NewResolver(svc, 0, log)
	}
	e.uploader = gallery.NewUploader(svc, log)
	return e
}

// Resolver: кеш display-значений движка.
func (e *Engine) Resolver() *reference.Resolver { return e.resolver }

// URLs: нормализатор ссылок на картинки.
func (e *Engine) URLs() gallery.URLResolver { return e.urls }

// SectionView: секция с готовыми виджетами.
type SectionView struct {
	Title          string              `json:"title"`
	Icon           string              `json:"icon,omitempty"`
	Columns        layout.ColumnSpec   `json:"columns"`
	HasColumnBreak bool                `json:"hasColumnBreak,omitempty"`
	Widgets        []widget.Descriptor `json:"widgets"`
}

// Form: результат рендера.
type Form struct {
	Table      string           `json:"table"`
	RecordID   string           `json:"recordId,omitempty"`
	Mode       widget.Mode      `json:"mode"`
	EntityName string           `json:"entityName"`
	IDField    string           `json:"idField"`
	Naming     dsl.NamingConfig `json:"naming"`
	Sections   []SectionView    `json:"sections"`
	// Ungrouped: поля вне секций. Без раскладки здесь все поля таблицы;
	// с раскладкой: только идентификатор, если раскладка его не разместила.
	Ungrouped   []widget.Descriptor `json:"ungrouped"`
	EmptyLayout bool                `json:"emptyLayout"`
	CustomCSS   string              `json:"customCss,omitempty"`
	Generation  uint64              `json:"generation"`
}

// Widgets: все виджеты формы в порядке показа.
func (f *Form) Widgets() []widget.Descriptor {
	out := make([]widget.Descriptor, 0, len(f.Ungrouped))
	out = append(out, f.Ungrouped...)
	for _, s := range f.Sections {
		out = append(out, s.Widgets...)
	}
	return out
}

// Widget: виджет поля по имени.
func (f *Form) Widget(name string) (widget.Descriptor, bool) {
	for _, w := range f.Widgets() {
		if w.Field == name {
			return w, true
		}
	}
	return widget.Descriptor{}, false
}

// Prefill выставляет начальное значение редактируемого текстового поля
// новой формы. false: такого поля нет или его не заполнить.
func (f *Form) Prefill(field string, v string) bool {
	if f.Mode != widget.ModeNew {
		return false
	}
	set := func(ws []widget.Descriptor) bool {
		for i := range ws {
			w := &ws[i]
			if w.Field != field || !w.Editable() {
				continue
			}
			if w.Kind != widget.KindText && w.Kind != widget.KindTextArea {
				return false
			}
			w.Value = v
			return true
		}
		return false
	}
	if set(f.Ungrouped) {
		return true
	}
	for i := range f.Sections {
		if set(f.Sections[i].Widgets) {
			return true
		}
	}
	return false
}

// Render строит форму записи recordID таблицы table (FQN) в режиме mode.
// Делает пару активной в сессии: всё, что было начато для прежней пары,
// отменяется. Ошибка схемы или отсутствие записи фатальны; сбой раскладки
// или display-значений только ухудшает вид формы.
func (e *Engine) Render(ctx context.Context, sess *Session, table, recordID string, mode widget.Mode) (*Form, error) {
	if mode == widget.ModeNew {
		recordID = ""
	} else if recordID == "" {
		return nil, errors.Wrap(ErrNotFound, "record id is required")
	}

	sctx, gen := sess.Switch(table, recordID)
	rctx, cancel := context.WithCancel(sctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	log := e.log.WithFields(logrus.Fields{"table": table, "record": recordID, "mode": mode})

	schema, err := e.svc.TableSchema(rctx, table)
	if err != nil {
		return nil, errors.Wrapf(err, "load schema %s", table)
	}

	fl, err := e.svc.FormLayout(rctx, table)
	if err != nil {
		log.WithError(err).Warn("form layout unavailable, rendering without sections")
		fl = nil
	}

	record := map[string]any{}
	if mode != widget.ModeNew {
		record, err = e.svc.GetRecord(rctx, table, recordID)
		if err != nil {
			return nil, errors.Wrapf(err, "load record %s/%s", table, recordID)
		}
		if record == nil {
			return nil, errors.Wrapf(ErrNotFound, "record %s/%s", table, recordID)
		}
	}

	fields := e.prepareFields(schema)
	labels := e.resolveLinks(rctx, schema, fields, record)

	if !sess.Current(gen) {
		log.Debug("session switched during render, dropping result")
		return nil, ErrSessionSwitched
	}

	idField := schema.IDField
	if idField == "" {
		idField = dsl.DefaultIDField
	}
	opts := func(f dsl.Field) widget.Options {
		return widget.Options{
			Mode:       mode,
			Naming:     schema.Naming,
			Identifier: f.Name == idField,
			EntityName: schema.EntityName(),
			LinkLabel:  labels[f.Name],
			URLs:       e.urls,
		}
	}
	valueOf := func(f dsl.Field) any {
		v := record[f.Name]
		if f.Name == idField && v == nil && recordID != "" {
			return recordID
		}
		return v
	}

	out := &Form{
		Table:      table,
		RecordID:   recordID,
		Mode:       mode,
		EntityName: schema.EntityName(),
		IDField:    idField,
		Naming:     schema.Naming,
		Sections:   []SectionView{},
		Ungrouped:  []widget.Descriptor{},
		Generation: gen,
	}
	if fl != nil {
		out.CustomCSS = sanitizeCSS(fl.CustomCSS)
	}

	placedID := false
	for _, s := range layout.Organize(fields, fl) {
		sv := SectionView{
			Title:          s.Title,
			Icon:           s.Icon,
			Columns:        s.Columns,
			HasColumnBreak: s.HasColumnBreak,
			Widgets:        make([]widget.Descriptor, 0, len(s.Fields)),
		}
		for _, f := range s.Fields {
			if f.Name == idField {
				placedID = true
			}
			sv.Widgets = append(sv.Widgets, widget.Render(f, valueOf(f), opts(f)))
		}
		out.Sections = append(out.Sections, sv)
	}
	out.EmptyLayout = len(out.Sections) == 0

	if !placedID {
		idDef, ok := schema.Field(idField)
		if !ok {
			idDef = dsl.Field{Name: idField, Label: "ID", Type: dsl.TypeText}
		}
		out.Ungrouped = append(out.Ungrouped, widget.Render(idDef, valueOf(idDef), opts(idDef)))
	}
	if out.EmptyLayout {
		for _, f := range fields {
			if f.Name == idField || layout.IsSystemField(f.Name) {
				continue
			}
			out.Ungrouped = append(out.Ungrouped, widget.Render(f, valueOf(f), opts(f)))
		}
	}

	log.WithFields(logrus.Fields{"sections": len(out.Sections), "ungrouped": len(out.Ungrouped)}).Debug("form rendered")
	return out, nil
}

// prepareFields: копия полей схемы с подставленными значениями справочников.
func (e *Engine) prepareFields(schema *dsl.Table) []dsl.Field {
	out := make([]dsl.Field, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		if f.Type == dsl.TypeSelect && f.ChoicesRef != "" && e.enums != nil {
			if codes, ok := e.enums.EnumChoices(f.ChoicesRef); ok {
				f.Choices = append([]string(nil), codes...)
			}
		}
		out = append(out, f)
	}
	return out
}

// resolveLinks параллельно разрешает display-значения всех заполненных ссылок.
// Неудачи молча оставляют сырой ключ.
func (e *Engine) resolveLinks(ctx context.Context, schema *dsl.Table, fields []dsl.Field, record map[string]any) map[string]string {
	out := map[string]string{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxLinkLookups)
	for _, f := range fields {
		if f.Type != dsl.TypeLink || f.Gallery {
			continue
		}
		key := keyString(record[f.Name])
		target := schema.LinkTable(f)
		if key == "" || target == "" {
			continue
		}
		name := f.Name
		g.Go(func() error {
			if v, ok := e.resolver.Display(gctx, schema.FQN(), name, target, key); ok {
				mu.Lock()
				out[name] = v
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func keyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// sanitizeCSS: стиль, который может закрыть тег <style>, не подключаем.
func sanitizeCSS(css string) string {
	if strings.Contains(strings.ToLower(css), "</style") {
		return ""
	}
	return strings.TrimSpace(css)
}
