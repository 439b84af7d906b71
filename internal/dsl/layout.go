package dsl

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Виды элементов раскладки формы
const (
	EntryField        = "field"
	EntrySectionBreak = "section_break"
	EntryColumnBreak  = "column_break"
)

// LayoutEntry: один элемент упорядоченной раскладки.
type LayoutEntry struct {
	Kind string `yaml:"kind" json:"kind"`

	// kind=field
	Field       string `yaml:"field,omitempty" json:"field,omitempty"`
	Label       string `yaml:"label,omitempty" json:"label,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// kind=section_break
	Title          string `yaml:"title,omitempty" json:"title,omitempty"`
	Icon           string `yaml:"icon,omitempty" json:"icon,omitempty"`
	Columns        int    `yaml:"columns,omitempty" json:"columns,omitempty"`
	ColumnTemplate string `yaml:"column_template,omitempty" json:"columnTemplate,omitempty"`
}

// FormLayout: внешне заданная раскладка формы таблицы.
type FormLayout struct {
	Table      string        `yaml:"table" json:"table"`                         // FQN: module.Name
	Columns    string        `yaml:"columns,omitempty" json:"columns,omitempty"` // глобальная настройка колонок: "2" или css-шаблон
	ShowSystem []string      `yaml:"show_system,omitempty" json:"showSystem,omitempty"`
	CustomCSS  string        `yaml:"custom_css,omitempty" json:"customCss,omitempty"`
	Entries    []LayoutEntry `yaml:"entries" json:"entries"`
}

// Empty: раскладки нет или в ней нет ни одного элемента.
func (l *FormLayout) Empty() bool {
	return l == nil || len(l.Entries) == 0
}

// LoadLayout читает один YAML-файл раскладки.
func LoadLayout(path string) (*FormLayout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l FormLayout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	l.Table = strings.TrimSpace(l.Table)
	if l.Table == "" {
		// имя таблицы берётся из имени файла: crm.Customer.yaml
		base := filepath.Base(path)
		l.Table = strings.TrimSuffix(base, filepath.Ext(base))
	}
	for i := range l.Entries {
		e := &l.Entries[i]
		e.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
		if e.Kind == "" && e.Field != "" {
			e.Kind = EntryField
		}
		switch e.Kind {
		case EntryField, EntrySectionBreak, EntryColumnBreak:
		default:
			return nil, fmt.Errorf("%s: entry %d has unknown kind %q", path, i, e.Kind)
		}
	}
	return &l, nil
}

// LoadAllLayouts обходит папку и собирает раскладки по FQN таблицы.
// Отсутствующая папка не ошибка: таблицы без раскладки показывают пустое состояние.
func LoadAllLayouts(root string) (map[string]*FormLayout, error) {
	result := make(map[string]*FormLayout)
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		return result, nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}
		l, err := LoadLayout(path)
		if err != nil {
			return err
		}
		if _, exists := result[l.Table]; exists {
			return fmt.Errorf("duplicate layout for %q (file: %s)", l.Table, path)
		}
		result[l.Table] = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
