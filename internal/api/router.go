package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewRouter собирает маршруты хоста рендера.
func NewRouter(srv *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(srv.Log))

	r.GET("/api/meta", MetaListHandler(srv))
	r.GET("/api/meta/catalog/:name", MetaCatalogHandler(srv))
	r.GET("/api/meta/:module/:table", MetaTableHandler(srv))

	forms := r.Group("/api/form/:module/:table")
	{
		// статические маршруты, СНАЧАЛА
		forms.GET("/new", NewFormHandler(srv))
		forms.POST("/collect", CollectHandler(srv))

		forms.POST("", CreateFormHandler(srv))
		forms.GET("/:id", GetFormHandler(srv))
		forms.PUT("/:id", UpdateFormHandler(srv))

		forms.POST("/:id/_gallery/:field", UploadGalleryHandler(srv))
		forms.GET("/:id/_gallery/:field/lightbox", LightboxHandler(srv))
		forms.DELETE("/:id/_gallery/:field", ClearGalleryHandler(srv))
		forms.DELETE("/:id/_gallery/:field/:index", RemoveGalleryImageHandler(srv))
	}

	r.GET("/api/ref/:module/:table/:field/search", SearchRefHandler(srv))
	r.GET("/api/picker/ws", PickerSocketHandler(srv))
	r.POST("/api/create-contexts/:token/close", CloseCreateContextHandler(srv))
	r.POST("/api/admin/reload", AdminReloadHandler(srv))

	r.GET("/files/*key", ServeFileHandler(srv))
	return r
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	}
}

// RunServer слушает addr до отмены ctx, затем мягко останавливается.
func RunServer(ctx context.Context, addr string, srv *Server) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go srv.Sweep(sweepCtx, time.Minute)

	errc := make(chan error, 1)
	go func() {
		srv.Log.WithField("addr", addr).Info("listening")
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
