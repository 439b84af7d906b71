// Package lightbox: просмотр картинок галереи по кругу.
package lightbox

import (
	"strconv"
	"strings"

	"kalitaforms/internal/gallery"
)

// Navigator: состояние лайтбокса над списком картинок.
type Navigator struct {
	images []gallery.Image
	index  int
	open   bool
}

// New строит навигатор над копией списка.
func New(images []gallery.Image) *Navigator {
	return &Navigator{images: gallery.Add(nil, images...)}
}

func (n *Navigator) Len() int     { return len(n.images) }
func (n *Navigator) Index() int   { return n.index }
func (n *Navigator) IsOpen() bool { return n.open }

// Open открывает лайтбокс на картинке i. Пустой список или индекс вне
// диапазона: ничего не делаем.
func (n *Navigator) Open(i int) bool {
	if i < 0 || i >= len(n.images) {
		return false
	}
	n.index = i
	n.open = true
	return true
}

// Next: следующая картинка, с последней на первую.
func (n *Navigator) Next() int {
	if len(n.images) == 0 {
		return 0
	}
	n.index = (n.index + 1) % len(n.images)
	return n.index
}

// Prev: предыдущая картинка, с первой на последнюю.
func (n *Navigator) Prev() int {
	if len(n.images) == 0 {
		return 0
	}
	n.index = (n.index - 1 + len(n.images)) % len(n.images)
	return n.index
}

func (n *Navigator) Close() { n.open = false }

// Current: текущая картинка; false, если лайтбокс закрыт.
func (n *Navigator) Current() (gallery.Image, bool) {
	if !n.open || len(n.images) == 0 {
		return gallery.Image{}, false
	}
	return n.images[n.index], true
}

// Caption: "3 / 7" для подписи под картинкой.
func (n *Navigator) Caption() string {
	if len(n.images) == 0 {
		return ""
	}
	return strconv.Itoa(n.index+1) + " / " + strconv.Itoa(len(n.images))
}

// Step: переход, запрошенный хостом.
type Step string

const (
	StepStay Step = ""
	StepNext Step = "next"
	StepPrev Step = "prev"
)

// ParseStep: "", "next" или "prev"; остальное не принимаем.
func ParseStep(s string) (Step, bool) {
	switch st := Step(strings.ToLower(strings.TrimSpace(s))); st {
	case StepStay, StepNext, StepPrev:
		return st, true
	}
	return StepStay, false
}

// Move делает шаг и возвращает новый индекс.
func (n *Navigator) Move(s Step) int {
	switch s {
	case StepNext:
		return n.Next()
	case StepPrev:
		return n.Prev()
	}
	return n.index
}

// View: кадр открытого лайтбокса.
type View struct {
	Index      int           `json:"index"`
	Count      int           `json:"count"`
	Caption    string        `json:"caption"`
	Image      gallery.Image `json:"image"`
	DisplayURL string        `json:"displayUrl"`
}

// View: текущий кадр со ссылкой для показа; false, если лайтбокс закрыт.
func (n *Navigator) View(urls gallery.URLResolver) (View, bool) {
	img, ok := n.Current()
	if !ok {
		return View{}, false
	}
	return View{
		Index:      n.index,
		Count:      len(n.images),
		Caption:    n.Caption(),
		Image:      img,
		DisplayURL: urls.ResolveDisplayURL(img),
	}, true
}
