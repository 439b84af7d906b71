package form

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kalitaforms/internal/reference"
)

// Session: явный контекст рендера вместо глобального состояния страницы.
// Держит активную пару (таблица, запись); смена пары отменяет все поиски и
// разрешения ссылок, начатые для прежней.
type Session struct {
	ID        string
	CreatedAt time.Time

	parent context.Context

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	gen      uint64
	table    string
	recordID string
	pickers  map[string]*reference.Picker
	lastSeen time.Time
}

// NewSession создаёт сессию; parent ограничивает её жизнь целиком.
func NewSession(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		parent:    parent,
		ctx:       ctx,
		cancel:    cancel,
		pickers:   map[string]*reference.Picker{},
		lastSeen:  now,
	}
}

// Switch делает активной пару (table, recordID). Если она уже активна,
// текущий контекст остаётся; иначе прежний отменяется.
func (s *Session) Switch(table, recordID string) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
	if s.gen > 0 && s.table == table && s.recordID == recordID && s.ctx.Err() == nil {
		return s.ctx, s.gen
	}
	s.invalidateLocked()
	s.ctx, s.cancel = context.WithCancel(s.parent)
	s.table, s.recordID = table, recordID
	s.gen++
	return s.ctx, s.gen
}

// Invalidate отменяет всё начатое в текущем контексте, не меняя пару.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
	s.ctx, s.cancel = context.WithCancel(s.parent)
	s.gen++
}

func (s *Session) invalidateLocked() {
	s.cancel()
	for k, p := range s.pickers {
		p.Dispose()
		delete(s.pickers, k)
	}
}

// Current: поколение gen всё ещё активно.
func (s *Session) Current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.ctx.Err() == nil
}

// Context: контекст и поколение активной пары.
func (s *Session) Context() (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx, s.gen
}

// Active: активная пара.
func (s *Session) Active() (table, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table, s.recordID
}

// Picker возвращает пикер поля, создавая его через build при первом обращении.
// Пикеры живут до следующего Switch.
func (s *Session) Picker(field string, build func(ctx context.Context) *reference.Picker) *reference.Picker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
	if p, ok := s.pickers[field]; ok {
		return p
	}
	p := build(s.ctx)
	s.pickers[field] = p
	return p
}

// IdleSince: время последнего обращения.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close завершает сессию.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
}

// SessionManager: сессии хоста по id.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
}

func NewSessionManager(idleTimeout time.Duration) *SessionManager {
	return &SessionManager{sessions: map[string]*Session{}, idleTimeout: idleTimeout}
}

// Create регистрирует новую сессию.
func (m *SessionManager) Create(parent context.Context) *Session {
	s := NewSession(parent)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get: сессия по id; nil, если нет или простаивала дольше idleTimeout.
func (m *SessionManager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if m.idleTimeout > 0 && time.Since(s.IdleSince()) > m.idleTimeout {
		m.Remove(id)
		return nil
	}
	return s
}

// Remove закрывает и удаляет сессию.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Cleanup удаляет простаивающие сессии. Вызывается периодически.
func (m *SessionManager) Cleanup() {
	if m.idleTimeout <= 0 {
		return
	}
	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if time.Since(s.IdleSince()) > m.idleTimeout {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range stale {
		s.Close()
	}
}
