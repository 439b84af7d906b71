package widget

import (
	"fmt"
	"strconv"
	"strings"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/gallery"
)

// EmptyGalleryText: подсказка в пустой галерее.
const EmptyGalleryText = "No images yet. Drop files here or click to upload."

// Options: всё, что нужно диспетчеру, кроме самого поля и значения.
type Options struct {
	Mode       Mode
	Naming     dsl.NamingConfig
	Identifier bool   // поле: первичный ключ записи
	EntityName string // для подсказок: "Customer"
	// LinkLabel: уже разрешённое display-значение ссылки ("" — не удалось)
	LinkLabel string
	URLs      gallery.URLResolver
}

// Render описывает виджет для поля. Ввода-вывода нет: display-значения
// ссылок разрешает вызывающий код и передаёт в opts.LinkLabel.
func Render(def dsl.Field, value any, opts Options) Descriptor {
	if opts.Identifier {
		return renderIdentifier(def, value, opts)
	}

	readOnly := opts.Mode == ModeView || def.ReadOnly
	if def.Type == dsl.TypeFormula {
		readOnly = true
	}

	d := Descriptor{
		Field:       def.Name,
		Label:       def.DisplayLabel(),
		Description: def.Description,
		Type:        def.Type,
		ReadOnly:    readOnly,
		Required:    def.Required && !readOnly,
		Hidden:      def.Hidden,
		Value:       value,
	}

	// галерея определяется маркером поля, а не типом
	if def.Gallery {
		renderGallery(&d, value, opts.URLs)
		return d
	}

	if readOnly {
		d.Kind = KindDisplay
		d.DisplayText = displayText(def, value, opts.LinkLabel)
		if def.Type == dsl.TypeLink {
			d.LinkTarget = def.LinkTarget
		}
		return d
	}

	switch def.Type {
	case dsl.TypeText, dsl.TypeAttach:
		d.Kind = KindText
	case dsl.TypeLongText:
		d.Kind = KindTextArea
	case dsl.TypeInt:
		d.Kind = KindNumber
		d.Step = "1"
	case dsl.TypeFloat:
		d.Kind = KindNumber
		d.Step = "any"
	case dsl.TypeDate:
		d.Kind = KindDate
	case dsl.TypeCheck:
		d.Kind = KindCheckbox
		d.Value = IsChecked(value)
	case dsl.TypeSelect:
		d.Kind = KindSelect
		d.Choices = append([]string(nil), def.Choices...)
	case dsl.TypeLink:
		d.Kind = KindLink
		d.LinkTarget = def.LinkTarget
		d.Placeholder = "Search " + def.LinkTarget
		d.DisplayText = FormatLink(opts.LinkLabel, valueString(value))
	case dsl.TypeFormula:
		// сюда не попадаем: формула всегда только для чтения
		d.Kind = KindDisplay
	case dsl.TypeGeneric:
		d.Kind = KindText
	default:
		d.Kind = KindText
	}
	return d
}

func renderIdentifier(def dsl.Field, value any, opts Options) Descriptor {
	entity := opts.EntityName
	if entity == "" {
		entity = "record"
	}
	d := Descriptor{
		Field:      def.Name,
		Label:      def.DisplayLabel(),
		Type:       def.Type,
		Identifier: true,
		Value:      value,
	}

	if opts.Mode != ModeNew {
		d.Kind = KindDisplay
		d.ReadOnly = true
		d.DisplayText = valueString(value)
		d.Note = "Identifier cannot be changed"
		return d
	}

	if opts.Naming.Strategy == dsl.NamingUserProvided || opts.Naming.Strategy == "" {
		d.Kind = KindText
		d.Required = true
		d.Placeholder = "Enter " + entity + " ID"
		d.Note = "At least 3 characters: letters, digits, underscore or hyphen"
		return d
	}

	d.Kind = KindHidden
	d.Hidden = true
	d.ReadOnly = true
	d.Value = nil
	d.Note = namingNote(opts.Naming)
	return d
}

// namingNote: как будет получен идентификатор новой записи.
func namingNote(n dsl.NamingConfig) string {
	switch n.Strategy {
	case dsl.NamingSeriesPrefix:
		if n.Prefix != "" {
			return fmt.Sprintf("ID will be generated from series %s####", n.Prefix)
		}
		return "ID will be generated from the naming series"
	case dsl.NamingDerived:
		return fmt.Sprintf("ID will be taken from field %q", n.SourceField)
	case dsl.NamingRandom:
		return "A random ID will be generated"
	case dsl.NamingAutoincrement:
		return "ID will be assigned automatically (next number)"
	default:
		return ""
	}
}

func renderGallery(d *Descriptor, value any, urls gallery.URLResolver) {
	images := gallery.Parse(value)
	items := make([]GalleryItem, 0, len(images))
	for _, img := range images {
		items = append(items, GalleryItem{Image: img, DisplayURL: urls.ResolveDisplayURL(img)})
	}
	d.Kind = KindGallery
	d.Value = gallery.Serialize(images)
	d.Gallery = &GalleryView{
		Images:   items,
		CanEdit:  !d.ReadOnly,
		Lightbox: len(items) > 0,
	}
	if len(items) == 0 {
		d.Gallery.Placeholder = EmptyGalleryText
		if d.ReadOnly {
			d.Gallery.Placeholder = "No images"
		}
	}
}

// FormatLink: "Acme Co (CUST-0007)", если подпись есть и отличается от ключа,
// иначе просто ключ.
func FormatLink(label, key string) string {
	label = strings.TrimSpace(label)
	if label == "" || label == key {
		return key
	}
	if key == "" {
		return ""
	}
	return label + " (" + key + ")"
}

func displayText(def dsl.Field, value any, linkLabel string) string {
	switch def.Type {
	case dsl.TypeCheck:
		if IsChecked(value) {
			return "Yes"
		}
		return "No"
	case dsl.TypeLink:
		return FormatLink(linkLabel, valueString(value))
	default:
		return valueString(value)
	}
}

// IsChecked: true/1/"1"/"true"/"yes" считаются отмеченными.
func IsChecked(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on":
			return true
		}
	}
	return false
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
