package reference

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Searcher: внешний поиск записей целевой таблицы.
type Searcher interface {
	SearchReferences(ctx context.Context, targetTable, term, displayField string, limit int) ([]Suggestion, error)
}

// ErrStaleList: выбор адресован списку, который уже заменён новым ответом.
var ErrStaleList = errors.New("picker list has changed")

const (
	DefaultPageSize = 10
	DefaultDebounce = 300 * time.Millisecond
)

// Status: состояние выпадающего списка ссылки.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSearching Status = "searching"
	StatusPopulated Status = "populated"
	StatusEmpty     Status = "empty"
	StatusFailed    Status = "failed"
)

// ItemKind: вид строки в списке.
type ItemKind string

const (
	ItemSuggestion ItemKind = "suggestion"
	ItemDivider    ItemKind = "divider"
	ItemCreate     ItemKind = "create"
)

type Item struct {
	Kind ItemKind `json:"kind"`
	Suggestion
}

// State: снимок состояния пикера для хоста.
type State struct {
	Field     string `json:"field"`
	Target    string `json:"target"`
	Open      bool   `json:"open"`
	Status    Status `json:"status"`
	Term      string `json:"term"`
	Items     []Item `json:"items,omitempty"`
	List      uint64 `json:"list"`      // номер показанного списка; выбор ссылается на него
	Highlight int    `json:"highlight"` // -1: ничего не подсвечено
	Committed string `json:"committed"`
	Error     string `json:"error,omitempty"`
	Stale     bool   `json:"stale,omitempty"`
	StaleNote string `json:"staleNote,omitempty"`
	CreateURL string `json:"createUrl,omitempty"`
}

// Key: клавиши навигации.
type Key string

const (
	KeyUp     Key = "up"
	KeyDown   Key = "down"
	KeyEnter  Key = "enter"
	KeyEscape Key = "escape"
)

// ActionKind: что произошло в результате выбора.
type ActionKind string

const (
	ActionNone     ActionKind = ""
	ActionSelected ActionKind = "selected"
	ActionCreate   ActionKind = "create"
	ActionClosed   ActionKind = "closed"
)

type Action struct {
	Kind  ActionKind `json:"kind"`
	Value string     `json:"value,omitempty"`
	URL   string     `json:"url,omitempty"`
}

// PickerConfig: какое поле обслуживает пикер.
type PickerConfig struct {
	Table        string // FQN таблицы с полем
	Field        string
	Target       string // FQN целевой таблицы
	TargetLabel  string // "Customer" для пункта "Create a new Customer"
	DisplayField string // подсказка поиску; пусто: по ключу
	PageSize     int
	Debounce     time.Duration
	Watch        WatchConfig
}

// Picker: поиск и выбор значения ссылочного поля.
// Idle → Searching → Populated|Empty|Failed; каждый ввод заводит новую задачу,
// применяется только ответ последней (last-query-wins).
type Picker struct {
	cfg    PickerConfig
	svc    Searcher
	opener CreateOpener
	log    logrus.FieldLogger
	ctx    context.Context // контекст сессии: отмена, конец жизни пикера

	mu         sync.Mutex
	state      State
	token      uint64
	cancelTask context.CancelFunc
	stopWatch  func()
	onChange   func(State)
	wg         sync.WaitGroup
}

// NewPicker создаёт пикер в контексте сессии ctx. opener может быть nil:
// тогда пункт "создать" есть в списке, но выбор его ничего не открывает.
func NewPicker(ctx context.Context, cfg PickerConfig, svc Searcher, opener CreateOpener, log logrus.FieldLogger) *Picker {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	// 0: пауза по умолчанию, отрицательная: без паузы
	switch {
	case cfg.Debounce == 0:
		cfg.Debounce = DefaultDebounce
	case cfg.Debounce < 0:
		cfg.Debounce = 0
	}
	if cfg.TargetLabel == "" {
		cfg.TargetLabel = cfg.Target
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Picker{
		cfg:    cfg,
		svc:    svc,
		opener: opener,
		ctx:    ctx,
		log:    log.WithFields(logrus.Fields{"table": cfg.Table, "field": cfg.Field, "target": cfg.Target}),
		state: State{
			Field:     cfg.Field,
			Target:    cfg.Target,
			Status:    StatusIdle,
			Highlight: -1,
		},
	}
}

// OnChange: колбэк на каждое изменение состояния (вызывается вне блокировки).
func (p *Picker) OnChange(fn func(State)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// State: текущий снимок.
func (p *Picker) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// SetCommitted выставляет уже сохранённое значение поля.
func (p *Picker) SetCommitted(value string) {
	p.mu.Lock()
	p.state.Committed = value
	p.mu.Unlock()
}

// Focus открывает список и запрашивает первую страницу без фильтра.
func (p *Picker) Focus() {
	p.start("", 0)
}

// Input: пользователь изменил текст; запрос уйдёт после паузы Debounce.
func (p *Picker) Input(term string) {
	p.start(term, p.cfg.Debounce)
}

func (p *Picker) start(term string, delay time.Duration) {
	if p.ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	p.token++
	tok := p.token
	if p.cancelTask != nil {
		p.cancelTask()
	}
	taskCtx, cancel := context.WithCancel(p.ctx)
	p.cancelTask = cancel
	p.state.Open = true
	p.state.Status = StatusSearching
	p.state.Term = term
	p.state.Error = ""
	p.wg.Add(1)
	st, fn := p.snapshotLocked(), p.onChange
	p.mu.Unlock()

	notify(fn, st)
	go p.run(taskCtx, tok, term, delay)
}

func (p *Picker) run(ctx context.Context, tok uint64, term string, delay time.Duration) {
	defer p.wg.Done()
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	res, err := p.svc.SearchReferences(ctx, p.cfg.Target, term, p.cfg.DisplayField, p.cfg.PageSize)
	p.apply(tok, term, res, err)
}

// apply применяет ответ задачи tok, если она всё ещё последняя.
func (p *Picker) apply(tok uint64, term string, res []Suggestion, err error) {
	p.mu.Lock()
	if tok != p.token || p.ctx.Err() != nil || !p.state.Open {
		p.mu.Unlock()
		p.log.WithField("term", term).Debug("dropping stale search response")
		return
	}
	p.state.List = tok
	if err != nil {
		p.log.WithError(errors.Wrap(err, "search references")).Warn("reference search failed")
		p.state.Status = StatusFailed
		p.state.Error = "Could not load suggestions. Try again."
		p.state.Items = nil
		p.state.Highlight = -1
	} else {
		if len(res) > p.cfg.PageSize {
			res = res[:p.cfg.PageSize]
		}
		p.state.Items = BuildItems(res, p.cfg.TargetLabel)
		p.state.Highlight = -1
		p.state.Stale = false
		p.state.StaleNote = ""
		if len(res) == 0 {
			p.state.Status = StatusEmpty
		} else {
			p.state.Status = StatusPopulated
		}
	}
	st, fn := p.snapshotLocked(), p.onChange
	p.mu.Unlock()
	notify(fn, st)
}

// BuildItems: найденное, затем всегда пункт "создать". Разделитель стоит
// между ними, только если что-то нашлось.
func BuildItems(res []Suggestion, targetLabel string) []Item {
	items := make([]Item, 0, len(res)+2)
	for _, s := range res {
		items = append(items, Item{Kind: ItemSuggestion, Suggestion: s})
	}
	if len(res) > 0 {
		items = append(items, Item{Kind: ItemDivider})
	}
	items = append(items, Item{
		Kind:       ItemCreate,
		Suggestion: Suggestion{Label: "+ Create a new " + targetLabel},
	})
	return items
}

// Key: навигация с клавиатуры.
func (p *Picker) Key(k Key) (Action, error) {
	switch k {
	case KeyUp, KeyDown:
		p.mu.Lock()
		if !p.state.Open || len(p.state.Items) == 0 {
			p.mu.Unlock()
			return Action{}, nil
		}
		step := 1
		if k == KeyUp {
			step = -1
		}
		p.state.Highlight = nextSelectable(p.state.Items, p.state.Highlight, step)
		st, fn := p.snapshotLocked(), p.onChange
		p.mu.Unlock()
		notify(fn, st)
		return Action{}, nil
	case KeyEnter:
		p.mu.Lock()
		h, list, open := p.state.Highlight, p.state.List, p.state.Open
		p.mu.Unlock()
		if !open || h < 0 {
			return Action{}, nil
		}
		act, err := p.SelectIn(list, h)
		if err == ErrStaleList {
			// подсветка сброшена новым списком: Enter ничего не выбирает
			return Action{}, nil
		}
		return act, err
	case KeyEscape:
		p.Close()
		return Action{Kind: ActionClosed}, nil
	default:
		return Action{}, errors.Errorf("unknown key %q", k)
	}
}

// nextSelectable: следующий индекс по кругу, минуя разделители.
func nextSelectable(items []Item, from, step int) int {
	n := len(items)
	i := from
	for range items {
		switch {
		case i < 0 && step > 0:
			i = 0
		case i < 0:
			i = n - 1
		default:
			i = (i + step + n) % n
		}
		if items[i].Kind != ItemDivider {
			return i
		}
	}
	return -1
}

// Select выбирает пункт index текущего списка: подсказка фиксирует ключ и
// закрывает список, пункт "создать" открывает форму новой записи целевой
// таблицы.
func (p *Picker) Select(index int) (Action, error) {
	return p.selectItem(index, nil)
}

// SelectIn: то же, что Select, но только если показан список list
// (State.List). Иначе ErrStaleList и ничего не меняется.
func (p *Picker) SelectIn(list uint64, index int) (Action, error) {
	return p.selectItem(index, &list)
}

func (p *Picker) selectItem(index int, list *uint64) (Action, error) {
	p.mu.Lock()
	if list != nil && *list != p.state.List {
		p.mu.Unlock()
		return Action{}, ErrStaleList
	}
	if !p.state.Open || index < 0 || index >= len(p.state.Items) {
		p.mu.Unlock()
		return Action{}, errors.Errorf("no item at %d", index)
	}
	// проверка и фиксация под одной блокировкой: apply не подменит список между ними
	it := p.state.Items[index]
	switch it.Kind {
	case ItemSuggestion:
		p.state.Committed = it.Value
		p.closeLocked()
		st, fn := p.snapshotLocked(), p.onChange
		p.mu.Unlock()
		notify(fn, st)
		return Action{Kind: ActionSelected, Value: it.Value}, nil
	case ItemCreate:
		p.mu.Unlock()
		return p.CreateNew()
	default:
		p.mu.Unlock()
		return Action{}, nil
	}
}

// CreateNew открывает создание записи целевой таблицы и следит, когда
// пользователь закроет это окно: после этого список помечается устаревшим.
func (p *Picker) CreateNew() (Action, error) {
	if p.opener == nil {
		return Action{}, errors.New("record creation is not available")
	}
	p.mu.Lock()
	term := p.state.Term
	p.mu.Unlock()

	cc, err := p.opener.OpenCreate(p.ctx, p.cfg.Target, term)
	if err != nil {
		return Action{}, errors.Wrap(err, "open create context")
	}

	stop := Watch(p.ctx, cc, p.cfg.Watch, func() {
		p.mu.Lock()
		p.state.Stale = true
		p.state.StaleNote = "A new " + p.cfg.TargetLabel + " may have been added. Search again to see it."
		st, fn := p.snapshotLocked(), p.onChange
		p.mu.Unlock()
		notify(fn, st)
	})

	p.mu.Lock()
	if p.stopWatch != nil {
		p.stopWatch()
	}
	p.stopWatch = stop
	p.state.CreateURL = cc.URL()
	st, fn := p.snapshotLocked(), p.onChange
	p.mu.Unlock()
	notify(fn, st)
	return Action{Kind: ActionCreate, URL: cc.URL()}, nil
}

// Close закрывает список; ответы в полёте будут отброшены.
func (p *Picker) Close() {
	p.mu.Lock()
	p.closeLocked()
	st, fn := p.snapshotLocked(), p.onChange
	p.mu.Unlock()
	notify(fn, st)
}

func (p *Picker) closeLocked() {
	p.token++
	if p.cancelTask != nil {
		p.cancelTask()
		p.cancelTask = nil
	}
	p.state.Open = false
	p.state.Status = StatusIdle
	p.state.Items = nil
	p.state.List = 0
	p.state.Highlight = -1
	p.state.Error = ""
}

// Dispose: пикер больше не нужен: гасим задачи и наблюдателя.
func (p *Picker) Dispose() {
	p.mu.Lock()
	p.closeLocked()
	if p.stopWatch != nil {
		p.stopWatch()
		p.stopWatch = nil
	}
	p.mu.Unlock()
}

// Wait ждёт завершения всех запущенных поисков.
func (p *Picker) Wait() {
	p.wg.Wait()
}

func (p *Picker) snapshotLocked() State {
	st := p.state
	if st.Items != nil {
		st.Items = append([]Item(nil), st.Items...)
	}
	return st
}

func notify(fn func(State), st State) {
	if fn != nil {
		fn(st)
	}
}
