package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestAdminReload(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "good", "inv.dsl"), `
module inv

table Item:
  @naming series prefix=IT-
  name: string
  title: string
`)
	writeFile(t, filepath.Join(root, "layouts", "item.yaml"), `
table: inv.Item
entries:
  - kind: field
    field: title
`)
	writeFile(t, filepath.Join(root, "bad", "inv.dsl"), `
module inv

table Item:
  name: string
  warehouse: Link[Warehouse]
`)

	// ссылка на неизвестную таблицу: каталог не подменяется
	w := env.do(t, http.MethodPost, "/api/admin/reload", map[string]string{"dsl_root": filepath.Join(root, "bad")})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	var bad struct {
		Issues []SchemaIssue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bad))
	require.Len(t, bad.Issues, 1)
	assert.Equal(t, "link_target_unknown", bad.Issues[0].Code)
	assert.Equal(t, []string{"crm.Customer", "crm.Order"}, env.srv.Storage.Tables())

	w = env.do(t, http.MethodPost, "/api/admin/reload", map[string]string{
		"dsl_root":     filepath.Join(root, "good"),
		"layouts_root": filepath.Join(root, "layouts"),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"inv.Item"}, env.srv.Storage.Tables())

	w = env.do(t, http.MethodGet, "/api/meta", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []metaTableListItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, []metaTableListItem{{Module: "inv", Table: "Item", EntityName: "Item", HasLayout: true}}, list)

	assert.Equal(t, "IT-0001", env.create(t, "inv", "Item", map[string]any{"title": "Bolt"}))

	w = env.do(t, http.MethodPost, "/api/admin/reload", map[string]string{"dsl_root": filepath.Join(root, "missing")})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
