package gallery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDisplayURL(t *testing.T) {
	r := NewURLResolver("https://forms.example.com/", "/files")

	cases := map[string]string{
		"":                               DefaultPlaceholder,
		"https://cdn.example.com/a.png":  "https://cdn.example.com/a.png",
		"HTTP://cdn.example.com/a.png":   "HTTP://cdn.example.com/a.png",
		"/files/a.png":                   "https://forms.example.com/files/a.png",
		"/private/files/a.png":           "https://forms.example.com/private/files/a.png",
		"/assets/logo.svg":               "https://forms.example.com/assets/logo.svg",
		"a.png":                          "https://forms.example.com/files/a.png",
		"./2024/a.png":                   "https://forms.example.com/files/2024/a.png",
		"javascript:alert(1)":            DefaultPlaceholder,
		"data:image/png;base64,AAAA":     DefaultPlaceholder,
		"//evil.example.com/a.png":       DefaultPlaceholder,
		`/files/a.png"onerror="alert(1)`: DefaultPlaceholder,
		"/files/my photo.png":            DefaultPlaceholder,
		"https://x/<script>":             DefaultPlaceholder,
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, r.ResolveDisplayURL(Image{SourceURL: in}))
		})
	}
}

func TestResolveDisplayURL_CustomPlaceholder(t *testing.T) {
	r := NewURLResolver("", "")
	r.Placeholder = "/img/none.png"
	assert.Equal(t, "/img/none.png", r.ResolveDisplayURL(Image{}))
	assert.Equal(t, "/files/a.png", r.ResolveDisplayURL(Image{SourceURL: "a.png"}))
}
