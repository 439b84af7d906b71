package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/form"
	"kalitaforms/internal/reference"
	"kalitaforms/internal/widget"
)

// tableParam: FQN таблицы из :module/:table; нет такой — 404.
func (srv *Server) tableParam(c *gin.Context) (string, bool) {
	fqn, ok := srv.Storage.ResolveTable(c.Param("module"), c.Param("table"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
		return "", false
	}
	return fqn, true
}

// GET /api/form/:module/:table/new?prefill=...
func NewFormHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := srv.tableParam(c)
		if !ok {
			return
		}
		f, err := srv.Engine.Render(c.Request.Context(), srv.session(c), fqn, "", widget.ModeNew)
		if err != nil {
			srv.writeError(c, err)
			return
		}
		if prefill := strings.TrimSpace(c.Query("prefill")); prefill != "" {
			if t, err := srv.Storage.schema(fqn); err == nil {
				target := pickDisplayField(t)
				if f.Naming.Strategy == "" || f.Naming.Strategy == dsl.NamingUserProvided {
					target = f.IDField
				}
				f.Prefill(target, prefill)
			}
		}
		c.JSON(http.StatusOK, f)
	}
}

// GET /api/form/:module/:table/:id?mode=view|edit
func GetFormHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := srv.tableParam(c)
		if !ok {
			return
		}
		mode := widget.ParseMode(c.DefaultQuery("mode", string(widget.ModeView)))
		if mode == widget.ModeNew {
			mode = widget.ModeEdit
		}
		f, err := srv.Engine.Render(c.Request.Context(), srv.session(c), fqn, c.Param("id"), mode)
		if err != nil {
			srv.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

type collectReq struct {
	Mode     string         `json:"mode"`
	RecordID string         `json:"recordId"`
	Values   map[string]any `json:"values"`
}

// POST /api/form/:module/:table/collect: сбор без записи.
func CollectHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := srv.tableParam(c)
		if !ok {
			return
		}
		var req collectReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		mode := widget.ParseMode(req.Mode)
		if req.Mode == "" {
			mode = widget.ModeNew
		}
		// отдельная сессия: пикеры пользователя не трогаем
		f, err := srv.Engine.Render(c.Request.Context(), form.NewSession(c.Request.Context()), fqn, req.RecordID, mode)
		if err != nil {
			srv.writeError(c, err)
			return
		}
		patch, errs := form.Collect(f, req.Values)
		if len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
			return
		}
		c.JSON(http.StatusOK, gin.H{"patch": patch})
	}
}

type saveReq struct {
	Values map[string]any `json:"values"`
}

// POST /api/form/:module/:table?create_context=...
func CreateFormHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		srv.save(c, widget.ModeNew)
	}
}

// PUT /api/form/:module/:table/:id
func UpdateFormHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		srv.save(c, widget.ModeEdit)
	}
}

func (srv *Server) save(c *gin.Context, mode widget.Mode) {
	fqn, ok := srv.tableParam(c)
	if !ok {
		return
	}
	var req saveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	ctx := c.Request.Context()
	f, err := srv.Engine.Render(ctx, form.NewSession(ctx), fqn, c.Param("id"), mode)
	if err != nil {
		srv.writeError(c, err)
		return
	}
	id, err := srv.Engine.Save(ctx, f, req.Values)
	if err != nil {
		srv.writeError(c, err)
		return
	}

	status := http.StatusOK
	if mode == widget.ModeNew {
		status = http.StatusCreated
		// окно создания из пикера закрыто, пикер пометит список устаревшим
		if tok := c.Query("create_context"); tok != "" {
			srv.Creates.Close(tok)
		}
	}
	c.JSON(status, gin.H{"id": id, "table": fqn})
}

// GET /api/ref/:module/:table/:field/search?q=&limit=
// Одноразовый поиск для хостов без websocket: тот же список, что у пикера.
func SearchRefHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := srv.tableParam(c)
		if !ok {
			return
		}
		cfg, err := srv.pickerConfig(c.Request.Context(), fqn, c.Param("field"))
		if err != nil {
			srv.writeError(c, err)
			return
		}
		sp := parseSearchParams(c.Request.URL.Query(), cfg.PageSize)
		res, err := srv.Storage.SearchReferences(c.Request.Context(), cfg.Target, sp.Term, cfg.DisplayField, sp.Limit)
		if err != nil {
			srv.Log.WithError(err).WithFields(logrus.Fields{"table": fqn, "field": cfg.Field}).Warn("reference search failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Could not load suggestions. Try again."})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"target": cfg.Target,
			"term":   sp.Term,
			"items":  reference.BuildItems(res, cfg.TargetLabel),
		})
	}
}
