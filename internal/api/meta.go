package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kalitaforms/internal/dsl"
)

// ===== META HANDLERS =====

type metaTableListItem struct {
	Module     string `json:"module"`
	Table      string `json:"table"`
	EntityName string `json:"entityName"`
	HasLayout  bool   `json:"hasLayout"`
}

// GET /api/meta
func MetaListHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat := srv.Storage.Catalog()
		out := make([]metaTableListItem, 0, len(cat.Schemas))
		for _, fqn := range srv.Storage.Tables() {
			t := cat.Schemas[fqn]
			if t == nil {
				continue
			}
			_, hasLayout := cat.Layouts[fqn]
			out = append(out, metaTableListItem{
				Module:     t.Module,
				Table:      t.Name,
				EntityName: t.EntityName(),
				HasLayout:  hasLayout,
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name       string            `json:"name"`
	Label      string            `json:"label"`
	Type       dsl.FieldType     `json:"type"`
	RawType    string            `json:"rawType,omitempty"`
	Ref        string            `json:"ref,omitempty"`
	RefFQN     string            `json:"refFQN,omitempty"`
	Display    string            `json:"displayField,omitempty"`
	Choices    []string          `json:"choices,omitempty"`
	ChoicesRef string            `json:"choicesRef,omitempty"`
	Gallery    bool              `json:"gallery,omitempty"`
	Required   bool              `json:"required,omitempty"`
	ReadOnly   bool              `json:"readOnly,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
}

type metaTable struct {
	Module     string           `json:"module"`
	Table      string           `json:"table"`
	EntityName string           `json:"entityName"`
	IDField    string           `json:"idField"`
	Naming     dsl.NamingConfig `json:"naming"`
	Fields     []metaField      `json:"fields"`
	Layout     *dsl.FormLayout  `json:"layout,omitempty"`
}

// GET /api/meta/:module/:table
func MetaTableHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := srv.tableParam(c)
		if !ok {
			return
		}
		cat := srv.Storage.Catalog()
		schema := cat.Schemas[fqn]

		fields := make([]metaField, 0, len(schema.Fields))
		for _, f := range schema.Fields {
			mf := metaField{
				Name:       f.Name,
				Label:      f.DisplayLabel(),
				Type:       f.Type,
				RawType:    f.RawType,
				Choices:    append([]string(nil), f.Choices...),
				ChoicesRef: f.ChoicesRef,
				Gallery:    f.Gallery,
				Required:   f.Required,
				ReadOnly:   f.ReadOnly || f.Type == dsl.TypeFormula,
			}
			if len(f.Options) > 0 {
				mf.Options = make(map[string]string, len(f.Options))
				for k, v := range f.Options {
					mf.Options[k] = v
				}
			}
			if f.Type == dsl.TypeLink && f.LinkTarget != "" {
				mf.Ref = f.LinkTarget
				mod, name := splitFQN(schema.LinkTable(f))
				if full, ok := srv.Storage.ResolveTable(mod, name); ok {
					mf.RefFQN = full
				}
				mf.Display, _ = cat.Display.Lookup(fqn, f.Name)
			}
			fields = append(fields, mf)
		}

		c.JSON(http.StatusOK, metaTable{
			Module:     schema.Module,
			Table:      schema.Name,
			EntityName: schema.EntityName(),
			IDField:    idFieldOf(schema),
			Naming:     schema.Naming,
			Fields:     fields,
			Layout:     cat.Layouts[fqn],
		})
	}
}

// GET /api/meta/catalog/:name
func MetaCatalogHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		dir, ok := srv.Storage.Catalog().Enums[name]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Catalog not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"name":  name,
			"codes": dir.Codes(),
			"items": dir.Items,
		})
	}
}

// splitFQN("module.table") -> ("module","table")
func splitFQN(fqn string) (string, string) {
	i := strings.IndexByte(fqn, '.')
	if i <= 0 || i >= len(fqn)-1 {
		return "", fqn
	}
	return fqn[:i], fqn[i+1:]
}
