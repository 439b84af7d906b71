// Package widget выбирает виджет для поля по его типу, режиму формы и
// признаку "только чтение" и описывает его для хоста рендера.
package widget

import (
	"kalitaforms/internal/dsl"
	"kalitaforms/internal/gallery"
)

// Mode: режим формы.
type Mode string

const (
	ModeView Mode = "view"
	ModeEdit Mode = "edit"
	ModeNew  Mode = "new"
)

// ParseMode: неизвестная строка трактуется как просмотр.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeEdit:
		return ModeEdit
	case ModeNew:
		return ModeNew
	default:
		return ModeView
	}
}

// Kind: вид виджета.
type Kind string

const (
	KindText     Kind = "text"
	KindTextArea Kind = "textarea"
	KindNumber   Kind = "number"
	KindDate     Kind = "date"
	KindCheckbox Kind = "checkbox"
	KindSelect   Kind = "select"
	KindLink     Kind = "link"
	KindGallery  Kind = "gallery"
	KindDisplay  Kind = "display" // только чтение
	KindHidden   Kind = "hidden"
)

// GalleryView: описание виджета галереи.
type GalleryView struct {
	Images      []GalleryItem `json:"images"`
	Placeholder string        `json:"placeholder,omitempty"` // текст для пустой галереи
	CanEdit     bool          `json:"canEdit"`               // add/remove/clear доступны
	Lightbox    bool          `json:"lightbox"`              // можно открыть просмотр
}

// GalleryItem: картинка с уже нормализованной ссылкой.
type GalleryItem struct {
	gallery.Image
	DisplayURL string `json:"displayUrl"`
}

// Descriptor: описание одного виджета. Материализация в DOM — дело хоста.
type Descriptor struct {
	Field       string        `json:"field"`
	Label       string        `json:"label"`
	Description string        `json:"description,omitempty"`
	Type        dsl.FieldType `json:"type"`
	Kind        Kind          `json:"kind"`
	ReadOnly    bool          `json:"readOnly"`
	Required    bool          `json:"required,omitempty"`
	Hidden      bool          `json:"hidden,omitempty"`
	Identifier  bool          `json:"identifier,omitempty"`
	Value       any           `json:"value"`
	DisplayText string        `json:"displayText,omitempty"`
	Note        string        `json:"note,omitempty"`
	Placeholder string        `json:"placeholder,omitempty"`
	Step        string        `json:"step,omitempty"`
	Choices     []string      `json:"choices,omitempty"`
	LinkTarget  string        `json:"linkTarget,omitempty"`
	Gallery     *GalleryView  `json:"gallery,omitempty"`
}

// Editable: виджет собирается в патч.
func (d Descriptor) Editable() bool {
	return !d.ReadOnly && !d.Hidden && d.Kind != KindDisplay && d.Kind != KindHidden
}
