package gallery

import (
	"strings"
	"unicode"
)

// DefaultPlaceholder показывается вместо небезопасных или пустых ссылок.
const DefaultPlaceholder = "/assets/img/image-placeholder.svg"

// URLResolver нормализует ссылку картинки для показа.
type URLResolver struct {
	Origin          string   // "https://forms.example.com", без завершающего "/"
	StoragePrefixes []string // пути хранилища: "/files/", "/private/files/"
	DefaultPrefix   string   // куда класть голые имена файлов: "/files/"
	Placeholder     string
}

// NewURLResolver: резолвер с префиксом хранилища по умолчанию.
func NewURLResolver(origin, storagePrefix string) URLResolver {
	if storagePrefix == "" {
		storagePrefix = "/files/"
	}
	if !strings.HasSuffix(storagePrefix, "/") {
		storagePrefix += "/"
	}
	return URLResolver{
		Origin:          strings.TrimSuffix(origin, "/"),
		StoragePrefixes: []string{storagePrefix, "/private" + storagePrefix},
		DefaultPrefix:   storagePrefix,
		Placeholder:     DefaultPlaceholder,
	}
}

func (r URLResolver) placeholder() string {
	if r.Placeholder != "" {
		return r.Placeholder
	}
	return DefaultPlaceholder
}

// ResolveDisplayURL возвращает безопасную ссылку для показа картинки.
func (r URLResolver) ResolveDisplayURL(img Image) string {
	u := strings.TrimSpace(img.SourceURL)
	if u == "" || unsafeURL(u) {
		return r.placeholder()
	}

	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return u
	}
	for _, p := range r.StoragePrefixes {
		if p != "" && strings.HasPrefix(u, p) {
			return r.Origin + u
		}
	}
	// javascript:, data: и прочие схемы не пропускаем
	if i := strings.IndexByte(u, ':'); i >= 0 && !strings.ContainsAny(u[:i], "/") {
		return r.placeholder()
	}
	if strings.HasPrefix(u, "//") {
		return r.placeholder()
	}
	if strings.HasPrefix(u, "/") {
		return r.Origin + u
	}
	// голое имя файла или относительный путь, считаем путём в хранилище
	prefix := r.DefaultPrefix
	if prefix == "" {
		prefix = "/files/"
	}
	return r.Origin + prefix + strings.TrimPrefix(u, "./")
}

// unsafeURL: угловые скобки или пробельные символы внутри.
func unsafeURL(u string) bool {
	if strings.ContainsAny(u, "<>\"'") {
		return true
	}
	for _, c := range u {
		if unicode.IsSpace(c) {
			return true
		}
	}
	return false
}
