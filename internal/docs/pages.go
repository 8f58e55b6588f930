package docs

import (
	"embed"
	"errors"
	"strings"
	"sync"
)

//go:embed pages/*.md
var pageFS embed.FS

// ErrPageNotFound is returned for unknown page keys.
var ErrPageNotFound = errors.New("docs: page not found")

// DefaultPage is served when no page is named.
const DefaultPage = "readme"

// PageInfo describes one documentation page.
type PageInfo struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	File  string `json:"file"`
}

// Pages lists the published pages in navigation order.
var Pages = []PageInfo{
	{Key: "readme", Title: "Overview", File: "overview.md"},
	{Key: "context", Title: "Design Context", File: "context.md"},
	{Key: "database", Title: "Database Reference", File: "database.md"},
}

// Page is a rendered documentation page.
type Page struct {
	PageInfo
	Rendered
	Raw string `json:"-"`
}

// Library renders embedded pages once and serves them from memory.
type Library struct {
	mu    sync.Mutex
	cache map[string]Page
}

// NewLibrary returns an empty page cache.
func NewLibrary() *Library {
	return &Library{cache: make(map[string]Page)}
}

// ResolveKey lowercases key and falls back to DefaultPage when it is blank.
func ResolveKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return DefaultPage
	}
	return key
}

// Page returns the rendered page for key.
func (l *Library) Page(key string) (Page, error) {
	key = ResolveKey(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.cache[key]; ok {
		return p, nil
	}
	for _, info := range Pages {
		if info.Key != key {
			continue
		}
		raw, err := pageFS.ReadFile("pages/" + info.File)
		if err != nil {
			return Page{}, err
		}
		p := Page{PageInfo: info, Rendered: Render(string(raw)), Raw: string(raw)}
		l.cache[key] = p
		return p, nil
	}
	return Page{}, ErrPageNotFound
}

// NavTOC keeps the headings shown in the page sidebar (levels 2 to 4).
func NavTOC(toc []Heading) []Heading {
	out := make([]Heading, 0, len(toc))
	for _, h := range toc {
		if h.Level >= 2 && h.Level <= 4 {
			out = append(out, h)
		}
	}
	return out
}
