package dsl

import "strings"

// FieldType: закрытый набор типов полей формы.
type FieldType int

const (
	TypeGeneric FieldType = iota // неизвестный/будущий тип: рендерится как текст
	TypeText
	TypeLongText
	TypeInt
	TypeFloat
	TypeDate
	TypeCheck
	TypeLink
	TypeSelect
	TypeFormula
	TypeAttach
)

var typeNames = map[FieldType]string{
	TypeGeneric:  "Generic",
	TypeText:     "Text",
	TypeLongText: "LongText",
	TypeInt:      "Int",
	TypeFloat:    "Float",
	TypeDate:     "Date",
	TypeCheck:    "Check",
	TypeLink:     "Link",
	TypeSelect:   "Select",
	TypeFormula:  "Formula",
	TypeAttach:   "Attach",
}

func (t FieldType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "Generic"
}

func (t FieldType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ParseFieldType переводит имя типа из DSL в FieldType.
// Второе значение false: тип не распознан (вернётся TypeGeneric).
func ParseFieldType(raw string) (FieldType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text", "data", "string":
		return TypeText, true
	case "longtext", "long_text", "small_text", "text_editor":
		return TypeLongText, true
	case "int", "integer":
		return TypeInt, true
	case "float", "currency", "percent":
		return TypeFloat, true
	case "date":
		return TypeDate, true
	case "check", "bool":
		return TypeCheck, true
	case "link", "ref":
		return TypeLink, true
	case "select", "enum":
		return TypeSelect, true
	case "formula", "calculated":
		return TypeFormula, true
	case "attach", "attach_image", "image":
		return TypeAttach, true
	default:
		return TypeGeneric, false
	}
}

// Field описывает поле таблицы. Неизменяем в пределах одного рендера.
type Field struct {
	Name        string            `json:"name"`
	Label       string            `json:"label"`
	Description string            `json:"description,omitempty"`
	Type        FieldType         `json:"type"`
	RawType     string            `json:"rawType,omitempty"`    // как было написано в DSL
	LinkTarget  string            `json:"linkTarget,omitempty"` // для Link: целевая таблица
	Choices     []string          `json:"choices,omitempty"`    // для Select
	ChoicesRef  string            `json:"choicesRef,omitempty"` // Select[enum:<name>]: справочник
	Gallery     bool              `json:"gallery,omitempty"`    // маркер галереи; от типа не зависит
	Required    bool              `json:"required,omitempty"`
	ReadOnly    bool              `json:"readOnly,omitempty"`
	Hidden      bool              `json:"hidden,omitempty"`
	Options     map[string]string `json:"options,omitempty"` // прочие опции из DSL
}

// DisplayLabel: подпись поля, либо имя, если подписи нет.
func (f Field) DisplayLabel() string {
	if strings.TrimSpace(f.Label) != "" {
		return f.Label
	}
	return f.Name
}

// NamingStrategy: как получается идентификатор новой записи.
type NamingStrategy string

const (
	NamingUserProvided  NamingStrategy = "user"
	NamingSeriesPrefix  NamingStrategy = "series"
	NamingDerived       NamingStrategy = "field"
	NamingRandom        NamingStrategy = "random"
	NamingAutoincrement NamingStrategy = "autoincrement"
)

// ParseNamingStrategy: "prompt"/"series"/"field:x"/... → стратегия.
func ParseNamingStrategy(raw string) (NamingStrategy, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "user", "prompt", "manual":
		return NamingUserProvided, true
	case "series", "naming_series", "prefix":
		return NamingSeriesPrefix, true
	case "field", "derived":
		return NamingDerived, true
	case "random", "hash":
		return NamingRandom, true
	case "autoincrement", "autoinc":
		return NamingAutoincrement, true
	default:
		return NamingUserProvided, false
	}
}

type NamingConfig struct {
	Strategy    NamingStrategy `json:"strategy"`
	Prefix      string         `json:"prefix,omitempty"`
	SourceField string         `json:"sourceField,omitempty"`
}

// DefaultIDField: имя поля-идентификатора, если таблица не задала своё.
const DefaultIDField = "name"

// Table описывает схему таблицы из DSL
type Table struct {
	Module           string       `json:"module"`
	Name             string       `json:"name"`
	IDField          string       `json:"idField"`
	TargetEntityName string       `json:"targetEntityName,omitempty"` // человекочитаемое имя сущности
	Naming           NamingConfig `json:"naming"`
	Fields           []Field      `json:"fields"`
}

// FQN возвращает "module.Name".
func (t *Table) FQN() string {
	return t.Module + "." + t.Name
}

// Field ищет поле по имени.
func (t *Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// EntityName: имя для подписей ("Customer"), если TargetEntityName не задан.
func (t *Table) EntityName() string {
	if t.TargetEntityName != "" {
		return t.TargetEntityName
	}
	return t.Name
}

func (t *FieldType) UnmarshalText(b []byte) error {
	ft, _ := ParseFieldType(string(b))
	if strings.EqualFold(string(b), "generic") {
		ft = TypeGeneric
	}
	*t = ft
	return nil
}

// LinkTable: FQN целевой таблицы ссылочного поля. Цель без модуля
// ищется в модуле самой таблицы.
func (t *Table) LinkTable(f Field) string {
	target := strings.TrimSpace(f.LinkTarget)
	if target == "" || strings.Contains(target, ".") {
		return target
	}
	return t.Module + "." + target
}
