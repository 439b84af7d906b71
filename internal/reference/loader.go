package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadEnumCatalog читает все enum-справочники из папки reference/enums/
func LoadEnumCatalog(dir string) (map[string]EnumDirectory, error) {
	result := make(map[string]EnumDirectory)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}
	for _, file := range entries {
		if !file.IsDir() && (strings.HasSuffix(file.Name(), ".yaml") || strings.HasSuffix(file.Name(), ".yml")) {
			path := filepath.Join(dir, file.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			var enumDir EnumDirectory
			if err := yaml.Unmarshal(data, &enumDir); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			// Имя справочника — из enumDir.Name или из имени файла
			enumName := enumDir.Name
			if enumName == "" {
				enumName = strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
			}
			result[enumName] = enumDir
		}
	}
	return result, nil
}

type displayFieldsFile struct {
	Rules []DisplayFieldRule `yaml:"display_fields"`
}

// LoadDisplayFields читает настройки display-полей ссылок.
// Файла нет: пустой набор, ссылки будут показываться сырым ключом.
func LoadDisplayFields(path string) (DisplayFields, error) {
	out := DisplayFields{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	var f displayFieldsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, r := range f.Rules {
		if r.Table == "" || r.Field == "" || r.DisplayField == "" {
			return nil, fmt.Errorf("%s: rule %d must set table, field and display_field", path, i)
		}
		out.Set(r.Table, r.Field, r.DisplayField)
	}
	return out, nil
}

func sortItems(items []EnumItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
}
