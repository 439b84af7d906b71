package reference

// EnumDirectory описывает один справочник типа enum
type EnumDirectory struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

type EnumItem struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	// Дополнительные поля: Order, Aliases, ValidFrom, ValidTo и т.д.
	Order     int    `yaml:"order,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty"`
}

// Codes: коды справочника в порядке Order (при равенстве — как в файле).
func (d EnumDirectory) Codes() []string {
	items := append([]EnumItem(nil), d.Items...)
	sortItems(items)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Code)
	}
	return out
}

// Suggestion: один вариант в выпадающем списке ссылочного поля.
// Живёт только в пределах одного поискового запроса.
type Suggestion struct {
	Value       string `json:"value"` // сырой ключ
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// DisplayFieldRule: какое поле целевой таблицы показывать вместо ключа
// для ссылочного поля (table, field).
type DisplayFieldRule struct {
	Table        string `yaml:"table" json:"table"` // FQN таблицы с ссылочным полем
	Field        string `yaml:"field" json:"field"`
	DisplayField string `yaml:"display_field" json:"displayField"`
}

// DisplayFields: набор правил, индекс по "table/field".
type DisplayFields map[string]string

func displayKey(table, field string) string { return table + "/" + field }

// Lookup возвращает display-поле для (table, field), если оно настроено.
func (d DisplayFields) Lookup(table, field string) (string, bool) {
	v, ok := d[displayKey(table, field)]
	return v, ok && v != ""
}

// Set регистрирует правило.
func (d DisplayFields) Set(table, field, displayField string) {
	d[displayKey(table, field)] = displayField
}
