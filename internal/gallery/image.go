// Package gallery: значение поля-галереи, упорядоченный список картинок,
// хранящийся в записи сериализованной строкой.
package gallery

import (
	"encoding/json"
	"path"
	"strings"
)

// Image: одна картинка галереи. Порядок в списке значим, дубликаты допустимы.
type Image struct {
	ID          string `json:"id,omitempty"`
	SourceURL   string `json:"url"`
	FileName    string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Shape: в каком виде пришло сырое значение.
type Shape int

const (
	ShapeEmpty      Shape = iota // пусто или не разобралось
	ShapeJSON                    // JSON-массив в строке
	ShapeLines                   // URL'ы через перевод строки
	ShapeSingleURL               // одна ссылка
	ShapeStructured              // уже массив (не строка)
)

func (s Shape) String() string {
	switch s {
	case ShapeJSON:
		return "json"
	case ShapeLines:
		return "lines"
	case ShapeSingleURL:
		return "url"
	case ShapeStructured:
		return "structured"
	default:
		return "empty"
	}
}

// ParseResult: результат разбора с признаком формы входа.
type ParseResult struct {
	Shape  Shape
	Images []Image
}

// Parse разбирает значение поля в список картинок. Никогда не паникует:
// всё, что не разобралось, даёт пустой список.
func Parse(raw any) []Image {
	return ParseValue(raw).Images
}

// ParseValue: то же, что Parse, но с формой входа.
func ParseValue(raw any) (res ParseResult) {
	defer func() {
		if r := recover(); r != nil {
			res = empty()
		}
	}()

	switch v := raw.(type) {
	case nil:
		return empty()
	case string:
		return parseString(v)
	case []byte:
		return parseString(string(v))
	case json.RawMessage:
		return parseString(string(v))
	case []Image:
		out := make([]Image, len(v))
		copy(out, v)
		return ParseResult{Shape: ShapeStructured, Images: out}
	case []string:
		items := make([]any, 0, len(v))
		for _, s := range v {
			items = append(items, s)
		}
		return structured(items)
	case []map[string]any:
		items := make([]any, 0, len(v))
		for _, m := range v {
			items = append(items, m)
		}
		return structured(items)
	case []any:
		return structured(v)
	default:
		return empty()
	}
}

func empty() ParseResult {
	return ParseResult{Shape: ShapeEmpty, Images: []Image{}}
}

func parseString(s string) ParseResult {
	s = strings.TrimSpace(s)
	if s == "" {
		return empty()
	}

	// (a) JSON-массив
	if strings.HasPrefix(s, "[") {
		var items []any
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return empty()
		}
		res := structured(items)
		if res.Shape != ShapeEmpty {
			res.Shape = ShapeJSON
		}
		return res
	}

	// (b) список через перевод строки
	if strings.ContainsAny(s, "\r\n") {
		out := []Image{}
		for _, line := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }) {
			if img, ok := fromURL(strings.TrimSpace(line)); ok {
				out = append(out, img)
			}
		}
		if len(out) == 0 {
			return empty()
		}
		return ParseResult{Shape: ShapeLines, Images: out}
	}

	// (c) одна ссылка
	if img, ok := fromURL(s); ok {
		return ParseResult{Shape: ShapeSingleURL, Images: []Image{img}}
	}
	return empty()
}

// structured: массив объектов или строк.
func structured(items []any) ParseResult {
	out := make([]Image, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if img, ok := fromURL(strings.TrimSpace(v)); ok {
				out = append(out, img)
			}
		case map[string]any:
			if img, ok := fromObject(v); ok {
				out = append(out, img)
			}
		case Image:
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return empty()
	}
	return ParseResult{Shape: ShapeStructured, Images: out}
}

// ключи, под которыми встречается ссылка на картинку в разных источниках
var (
	urlKeys  = []string{"url", "src", "sourceUrl", "source_url", "file_url", "image"}
	nameKeys = []string{"name", "fileName", "file_name", "filename"}
	descKeys = []string{"description", "caption", "alt"}
)

// fromObject: объект без ссылки остаётся в списке, если у него есть хоть
// одно известное поле (например, ещё не загруженная картинка с id и именем).
func fromObject(m map[string]any) (Image, bool) {
	img := Image{
		ID:          firstString(m, []string{"id"}),
		SourceURL:   firstString(m, urlKeys),
		FileName:    firstString(m, nameKeys),
		Description: firstString(m, descKeys),
	}
	return img, img != (Image{})
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// fromURL: голая ссылка или путь. С пробелами внутри это уже не ссылка.
func fromURL(s string) (Image, bool) {
	if s == "" || strings.ContainsAny(s, " \t") {
		return Image{}, false
	}
	return Image{SourceURL: s, FileName: fileNameOf(s)}, true
}

func fileNameOf(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	base := path.Base(u)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// Serialize: каноническая форма для хранения: JSON-массив.
func Serialize(images []Image) string {
	if len(images) == 0 {
		return "[]"
	}
	b, err := json.Marshal(images)
	if err != nil {
		// Image состоит из строк, Marshal тут не падает
		return "[]"
	}
	return string(b)
}

// Add возвращает новый список: images + newOnes. Пустые Image{} не
// добавляются: в сериализованном виде их не отличить от мусора.
func Add(images []Image, newOnes ...Image) []Image {
	out := make([]Image, 0, len(images)+len(newOnes))
	out = append(out, images...)
	for _, img := range newOnes {
		if img != (Image{}) {
			out = append(out, img)
		}
	}
	return out
}

// RemoveAt возвращает новый список без элемента index.
// Индекс вне диапазона: копия без изменений.
func RemoveAt(images []Image, index int) []Image {
	out := make([]Image, 0, len(images))
	for i, img := range images {
		if i != index {
			out = append(out, img)
		}
	}
	return out
}

// Clear: пустая галерея.
func Clear() []Image {
	return []Image{}
}
