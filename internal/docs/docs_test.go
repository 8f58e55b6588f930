package docs

import (
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestSanitizeHref(t *testing.T) {
	c := qt.New(t)
	accepted := []string{"#top", "./a", "../b", "/docs", "https://example.com", "HTTP://x.io", "mailto:a@b.co", "  /trim  "}
	for _, href := range accepted {
		got, ok := SanitizeHref(href)
		c.Assert(ok, qt.IsTrue, qt.Commentf("href %q", href))
		c.Assert(got, qt.Equals, strings.TrimSpace(href))
	}
	rejected := []string{"", "   ", "//evil.com", "javascript:alert(1)", "data:text/html;base64,xx", "ftp://x", "relative"}
	for _, href := range rejected {
		_, ok := SanitizeHref(href)
		c.Assert(ok, qt.IsFalse, qt.Commentf("href %q", href))
	}
}

func TestEscapeHTML(t *testing.T) {
	c := qt.New(t)
	c.Assert(EscapeHTML(`<a href="x">'&'</a>`), qt.Equals, "&lt;a href=&quot;x&quot;&gt;&#39;&amp;&#39;&lt;/a&gt;")
}

func TestSlugify(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		in   string
		want string
	}{
		{"Getting Started", "getting-started"},
		{"  The `can` **rule**  ", "the-can-rule"},
		{"[Links](https://x) & more!", "links-more"},
		{"a -- b", "a-b"},
	}
	for _, tt := range tests {
		c.Assert(Slugify(tt.in), qt.Equals, tt.want, qt.Commentf("input %q", tt.in))
	}
}

func TestRenderInline(t *testing.T) {
	c := qt.New(t)
	c.Assert(RenderInline("use `<b>` and **bold**"), qt.Equals, "use <code>&lt;b&gt;</code> and <strong>bold</strong>")
	c.Assert(RenderInline("[site](https://x.io)"), qt.Equals, `<a href="https://x.io" rel="noreferrer noopener" target="_blank">site</a>`)
	c.Assert(RenderInline("[home](/docs)"), qt.Equals, `<a href="/docs">home</a>`)
	c.Assert(RenderInline("[bad](javascript:alert(1))"), qt.Not(qt.Contains), "href")
	c.Assert(RenderInline("`[x](/y)`"), qt.Equals, "<code>[x](/y)</code>")
}

func TestRenderBlocks(t *testing.T) {
	c := qt.New(t)
	md := strings.Join([]string{
		"# Title",
		"",
		"Intro line one",
		"continues here.",
		"## Setup",
		"- one",
		"- **two**",
		"1. first",
		"2) second",
		"> quoted",
		"> text",
		"---",
		"```go",
		"x := 1 < 2",
		"```",
		"## Setup",
	}, "\r\n")
	got := Render(md)

	c.Assert(got.HTML, qt.Equals, strings.Join([]string{
		`<h1 id="title">Title</h1>`,
		`<p>Intro line one continues here.</p>`,
		`<h2 id="setup">Setup</h2>`,
		`<ul><li>one</li><li><strong>two</strong></li></ul>`,
		`<ol><li>first</li><li>second</li></ol>`,
		`<blockquote><p>quoted text</p></blockquote>`,
		`<hr />`,
		`<pre><code class="language-go">x := 1 &lt; 2</code></pre>`,
		`<h2 id="setup-2">Setup</h2>`,
	}, "\n"))
	c.Assert(got.TOC, qt.DeepEquals, []Heading{
		{Level: 1, Text: "Title", ID: "title"},
		{Level: 2, Text: "Setup", ID: "setup"},
		{Level: 2, Text: "Setup", ID: "setup-2"},
	})
}

func TestRenderUnterminatedFenceAndEmptySlug(t *testing.T) {
	c := qt.New(t)
	got := Render("## !!!\n```\n<open")
	c.Assert(got.HTML, qt.Equals, "<h2 id=\"section\">!!!</h2>\n<pre><code>&lt;open</code></pre>")
}

func TestLibraryPages(t *testing.T) {
	c := qt.New(t)
	lib := NewLibrary()
	for _, info := range Pages {
		p, err := lib.Page(info.Key)
		c.Assert(err, qt.IsNil)
		c.Assert(p.Title, qt.Equals, info.Title)
		c.Assert(p.HTML, qt.Not(qt.Equals), "")
		c.Assert(len(NavTOC(p.TOC)) > 0, qt.IsTrue)
	}
	p, err := lib.Page(" ")
	c.Assert(err, qt.IsNil)
	c.Assert(p.Key, qt.Equals, DefaultPage)
	_, err = lib.Page("secrets")
	c.Assert(err, qt.Equals, ErrPageNotFound)
}
