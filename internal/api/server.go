package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kalitaforms/internal/form"
	"kalitaforms/internal/gallery"
	"kalitaforms/internal/reference"
)

// SessionHeader: заголовок с id сессии рендера.
const SessionHeader = "X-Session-ID"

// Settings: настройки хоста рендера.
type Settings struct {
	PublicOrigin   string // origin для ссылок на создание и картинки
	StoragePrefix  string // префикс ключей файлов в хранилище
	SearchPageSize int
	SearchDebounce time.Duration
	Watch          reference.WatchConfig
	SessionIdle    time.Duration
	CreateTTL      time.Duration
	Paths          CatalogPaths // для /api/admin/reload
}

// Server: всё, что нужно обработчикам.
type Server struct {
	Storage  *Storage
	Engine   *form.Engine
	Sessions *form.SessionManager
	Creates  *CreateRegistry
	Settings Settings
	Log      logrus.FieldLogger

	// base: родительский контекст сессий; отменяется при остановке сервера.
	base context.Context
}

func NewServer(base context.Context, storage *Storage, st Settings, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if st.SearchPageSize <= 0 {
		st.SearchPageSize = reference.DefaultPageSize
	}
	urls := gallery.NewURLResolver(st.PublicOrigin, st.StoragePrefix)
	return &Server{
		Storage:  storage,
		Engine:   form.NewEngine(storage, log, form.WithEnums(storage), form.WithURLResolver(urls)),
		Sessions: form.NewSessionManager(st.SessionIdle),
		Creates:  NewCreateRegistry(st.PublicOrigin, st.CreateTTL),
		Settings: st,
		Log:      log,
		base:     base,
	}
}

// session: сессия из заголовка; нет или протухла — новая.
func (srv *Server) session(c *gin.Context) *form.Session {
	if id := c.GetHeader(SessionHeader); id != "" {
		if s := srv.Sessions.Get(id); s != nil {
			c.Header(SessionHeader, s.ID)
			return s
		}
	}
	s := srv.Sessions.Create(srv.base)
	c.Header(SessionHeader, s.ID)
	return s
}

// Sweep периодически чистит простаивающие сессии и окна создания.
func (srv *Server) Sweep(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			srv.Sessions.Cleanup()
			srv.Creates.Expire()
		}
	}
}

// writeError переводит ошибку движка в HTTP-ответ.
func (srv *Server) writeError(c *gin.Context, err error) {
	if ve, ok := form.AsValidation(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"errors": ve.Errors})
		return
	}
	switch {
	case form.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case form.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Cause(err) == form.ErrSessionSwitched:
		c.JSON(http.StatusConflict, gin.H{"error": "form context changed, reload the form"})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		srv.Log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "service unavailable", "details": err.Error()})
	}
}
