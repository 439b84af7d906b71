package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// POST /api/admin/reload: перечитать каталог; пустые пути берутся из настроек.
func AdminReloadHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CatalogPaths
		if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		paths := srv.Settings.Paths
		if v := strings.TrimSpace(req.DSLDir); v != "" {
			paths.DSLDir = v
		}
		if v := strings.TrimSpace(req.LayoutsDir); v != "" {
			paths.LayoutsDir = v
		}
		if v := strings.TrimSpace(req.EnumsDir); v != "" {
			paths.EnumsDir = v
		}
		if v := strings.TrimSpace(req.DisplayFieldsFile); v != "" {
			paths.DisplayFieldsFile = v
		}

		// 1) читаем новый каталог
		cat, err := LoadCatalog(paths)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "catalog load error", "details": err.Error()})
			return
		}

		// 2) линтер до подмены
		if issues := LintCatalog(cat); len(issues) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "schema has blocking issues",
				"issues": issues,
				"hint":   "fix DSL and retry",
				"paths":  paths,
			})
			return
		}

		// 3) атомарная замена; display-значения могли смениться
		srv.Storage.Swap(cat)
		srv.Engine.Resolver().Purge()
		srv.Log.WithField("tables", len(cat.Schemas)).Info("catalog reloaded")

		c.JSON(http.StatusOK, gin.H{
			"ok":         true,
			"paths":      paths,
			"tables":     len(cat.Schemas),
			"layouts":    len(cat.Layouts),
			"enumGroups": len(cat.Enums),
			"display":    len(cat.Display),
		})
	}
}
