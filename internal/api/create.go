package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kalitaforms/internal/reference"
)

// DefaultCreateTTL: сколько помним окно создания, о котором хост молчит.
const DefaultCreateTTL = 10 * time.Minute

// createContext: окно создания записи, открытое из пикера.
type createContext struct {
	token  string
	url    string
	target string
	opened time.Time
	closed atomic.Bool
}

func (c *createContext) URL() string  { return c.url }
func (c *createContext) Closed() bool { return c.closed.Load() }

// CreateRegistry выдаёт окна создания и принимает от хоста весть об их закрытии.
type CreateRegistry struct {
	origin string
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]*createContext
}

var _ reference.CreateOpener = (*CreateRegistry)(nil)

func NewCreateRegistry(origin string, ttl time.Duration) *CreateRegistry {
	if ttl <= 0 {
		ttl = DefaultCreateTTL
	}
	return &CreateRegistry{
		origin:  strings.TrimRight(origin, "/"),
		ttl:     ttl,
		entries: map[string]*createContext{},
	}
}

// OpenCreate: ссылка на форму новой записи targetTable с подставленным
// текстом поиска; закрытие сообщается через create_context.
func (r *CreateRegistry) OpenCreate(_ context.Context, targetTable, prefill string) (reference.CreateContext, error) {
	mod, name := splitFQN(targetTable)
	tok := uuid.NewString()

	q := url.Values{}
	if p := strings.TrimSpace(prefill); p != "" {
		q.Set("prefill", p)
	}
	q.Set("create_context", tok)

	cc := &createContext{
		token:  tok,
		target: targetTable,
		opened: time.Now(),
		url:    r.origin + "/app/form/" + url.PathEscape(mod) + "/" + url.PathEscape(name) + "/new?" + q.Encode(),
	}
	r.mu.Lock()
	r.entries[tok] = cc
	r.mu.Unlock()
	return cc, nil
}

// Close отмечает окно закрытым. false: такого токена нет.
func (r *CreateRegistry) Close(token string) bool {
	r.mu.Lock()
	cc, ok := r.entries[token]
	delete(r.entries, token)
	r.mu.Unlock()
	if ok {
		cc.closed.Store(true)
	}
	return ok
}

// Expire забывает окна старше ttl; наблюдатели к этому времени уже сдались.
func (r *CreateRegistry) Expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tok, cc := range r.entries {
		if time.Since(cc.opened) > r.ttl {
			delete(r.entries, tok)
		}
	}
}

// Len: сколько окон открыто.
func (r *CreateRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// POST /api/create-contexts/:token/close
func CloseCreateContextHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !srv.Creates.Close(c.Param("token")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Create context not found"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
