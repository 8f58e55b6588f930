// Package docs renders the product documentation pages from a small markdown subset.
package docs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reExternal = regexp.MustCompile(`(?i)^https?://`)
	reMailto   = regexp.MustCompile(`(?i)^mailto:`)
	reCode     = regexp.MustCompile("`([^`]+)`")
	reStrong   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reEmphasis = regexp.MustCompile(`\*([^*]+)\*`)
	reLink     = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	reSlugDrop = regexp.MustCompile(`[^a-z0-9\s-]`)
	reSpaces   = regexp.MustCompile(`\s+`)
	reDashes   = regexp.MustCompile(`-+`)

	reRule    = regexp.MustCompile(`^-{3,}\s*$`)
	reHeading = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	reBullet  = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)
	reNumber  = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*)$`)
	reQuote   = regexp.MustCompile(`^\s*>\s?(.*)$`)
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes the five HTML special characters.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// SanitizeHref returns the trimmed href when it is a fragment, a relative or root path,
// an http(s) URL or a mailto link. Anything else, including protocol-relative URLs, is rejected.
func SanitizeHref(href string) (string, bool) {
	h := strings.TrimSpace(href)
	switch {
	case h == "":
		return "", false
	case strings.HasPrefix(h, "#"):
		return h, true
	case strings.HasPrefix(h, "//"):
		return "", false
	case strings.HasPrefix(h, "/"), strings.HasPrefix(h, "./"), strings.HasPrefix(h, "../"):
		return h, true
	case reExternal.MatchString(h), reMailto.MatchString(h):
		return h, true
	}
	return "", false
}

// StripInline removes code, strong, emphasis and link markup, keeping the text.
func StripInline(s string) string {
	s = reCode.ReplaceAllString(s, "$1")
	s = reStrong.ReplaceAllString(s, "$1")
	s = reEmphasis.ReplaceAllString(s, "$1")
	return reLink.ReplaceAllString(s, "$1")
}

// Slugify builds a heading anchor from s.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(StripInline(s)))
	s = reSlugDrop.ReplaceAllString(s, "")
	s = reSpaces.ReplaceAllString(s, "-")
	return reDashes.ReplaceAllString(s, "-")
}

// replaceMatches renders the text between matches with plain and each match with match.
func replaceMatches(re *regexp.Regexp, s string, plain func(string) string, match func([]string) string) string {
	var b strings.Builder
	last := 0
	for _, loc := range re.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(plain(s[last:loc[0]]))
		groups := make([]string, 0, len(loc)/2)
		for i := 0; i < len(loc); i += 2 {
			groups = append(groups, s[loc[i]:loc[i+1]])
		}
		b.WriteString(match(groups))
		last = loc[1]
	}
	b.WriteString(plain(s[last:]))
	return b.String()
}

func renderStrong(s string) string {
	return replaceMatches(reStrong, s, EscapeHTML, func(g []string) string {
		return "<strong>" + EscapeHTML(g[1]) + "</strong>"
	})
}

func renderLinks(s string) string {
	return replaceMatches(reLink, s, renderStrong, func(g []string) string {
		href, ok := SanitizeHref(g[2])
		if !ok {
			return renderStrong(g[1])
		}
		attrs := ""
		if reExternal.MatchString(href) {
			attrs = ` rel="noreferrer noopener" target="_blank"`
		}
		return `<a href="` + EscapeHTML(href) + `"` + attrs + `>` + renderStrong(g[1]) + `</a>`
	})
}

// RenderInline renders code spans, links and strong text. Everything else is escaped.
func RenderInline(s string) string {
	return replaceMatches(reCode, s, renderLinks, func(g []string) string {
		return "<code>" + EscapeHTML(g[1]) + "</code>"
	})
}

// Heading is one table of contents entry.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
	ID    string `json:"id"`
}

// Rendered is a rendered markdown document.
type Rendered struct {
	HTML string    `json:"html"`
	TOC  []Heading `json:"toc"`
}

type slugger map[string]int

func (s slugger) unique(base string) string {
	if base == "" {
		base = "section"
	}
	s[base]++
	if n := s[base]; n > 1 {
		return base + "-" + strconv.Itoa(n)
	}
	return base
}

func codeBlock(lang string, lines []string) string {
	class := ""
	if lang != "" {
		class = ` class="language-` + EscapeHTML(lang) + `"`
	}
	return "<pre><code" + class + ">" + EscapeHTML(strings.Join(lines, "\n")) + "</code></pre>"
}

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

func startsBlock(line string) bool {
	return reRule.MatchString(strings.TrimSpace(line)) || isFence(line) ||
		reHeading.MatchString(line) || reBullet.MatchString(line) ||
		reNumber.MatchString(line) || reQuote.MatchString(line)
}

// Render converts markdown to HTML and collects its headings.
// An unterminated code fence runs to the end of the document.
func Render(markdown string) Rendered {
	lines := strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")
	var (
		parts []string
		toc   = []Heading{}
		slugs = slugger{}
	)

	for i := 0; i < len(lines); {
		line := lines[i]

		if isFence(line) {
			lang := strings.TrimSpace(strings.TrimSpace(line)[3:])
			var code []string
			i++
			for i < len(lines) && strings.TrimSpace(lines[i]) != "```" {
				code = append(code, lines[i])
				i++
			}
			i++ // closing fence
			parts = append(parts, codeBlock(lang, code))
			continue
		}

		if strings.TrimSpace(line) == "" {
			i++
			continue
		}

		if reRule.MatchString(strings.TrimSpace(line)) {
			parts = append(parts, "<hr />")
			i++
			continue
		}

		if m := reHeading.FindStringSubmatch(line); m != nil {
			level := len(m[1])
			raw := strings.TrimSpace(m[2])
			id := slugs.unique(Slugify(raw))
			text := strings.TrimSpace(StripInline(raw))
			if text == "" {
				text = raw
			}
			toc = append(toc, Heading{Level: level, Text: text, ID: id})
			parts = append(parts, fmt.Sprintf(`<h%d id="%s">%s</h%d>`, level, EscapeHTML(id), RenderInline(raw), level))
			i++
			continue
		}

		if reQuote.MatchString(line) {
			var buf []string
			for i < len(lines) {
				m := reQuote.FindStringSubmatch(lines[i])
				if m == nil {
					break
				}
				buf = append(buf, m[1])
				i++
			}
			parts = append(parts, "<blockquote><p>"+RenderInline(strings.TrimSpace(strings.Join(buf, " ")))+"</p></blockquote>")
			continue
		}

		if reBullet.MatchString(line) || reNumber.MatchString(line) {
			re, tag, group := reBullet, "ul", 1
			if reNumber.MatchString(line) {
				re, tag, group = reNumber, "ol", 2
			}
			var b strings.Builder
			b.WriteString("<" + tag + ">")
			for i < len(lines) {
				m := re.FindStringSubmatch(lines[i])
				if m == nil {
					break
				}
				b.WriteString("<li>" + RenderInline(strings.TrimSpace(m[group])) + "</li>")
				i++
			}
			b.WriteString("</" + tag + ">")
			parts = append(parts, b.String())
			continue
		}

		var para []string
		for i < len(lines) {
			l := lines[i]
			if strings.TrimSpace(l) == "" || (len(para) > 0 && startsBlock(l)) {
				break
			}
			para = append(para, strings.TrimSpace(l))
			i++
		}
		if text := strings.TrimSpace(strings.Join(para, " ")); text != "" {
			parts = append(parts, "<p>"+RenderInline(text)+"</p>")
		}
	}

	return Rendered{HTML: strings.Join(parts, "\n"), TOC: toc}
}
