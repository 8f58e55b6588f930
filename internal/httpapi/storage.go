package httpapi

import (
	"errors"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"clmhub.io/internal/blob"
	"clmhub.io/internal/docs"
)

// storageObject serves an object to holders of a signed URL; no bearer token is needed.
func (a *API) storageObject(w http.ResponseWriter, r *http.Request) {
	if a.deps.Signer == nil || a.deps.Bucket == nil {
		writeError(w, r, http.StatusNotFound, "storage disabled")
		return
	}
	bucketName := chi.URLParam(r, "bucket")
	objectPath := chi.URLParam(r, "*")
	if p, err := url.PathUnescape(objectPath); err == nil {
		objectPath = p
	}
	if bucketName != a.deps.Bucket.Name() {
		writeError(w, r, http.StatusNotFound, blob.ErrNotFound.Error())
		return
	}
	q := r.URL.Query()
	if err := a.deps.Signer.Verify(bucketName, objectPath, q.Get("expires"), q.Get("sig")); err != nil {
		code := http.StatusForbidden
		if errors.Is(err, blob.ErrInvalidPath) {
			code = http.StatusBadRequest
		}
		writeError(w, r, code, err.Error())
		return
	}
	rc, err := a.deps.Bucket.Open(r.Context(), objectPath)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(objectPath))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(objectPath)}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

var docsTemplate = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Page.Title}}</title></head>
<body>
<nav><ul>{{range .Nav}}<li><a href="/docs/{{.Key}}">{{.Title}}</a></li>{{end}}</ul>
<ul>{{range .TOC}}<li class="toc-{{.Level}}"><a href="#{{.ID}}">{{.Text}}</a></li>{{end}}</ul></nav>
<main>{{.Body}}</main>
</body>
</html>
`))

// docsPage renders an embedded documentation page as HTML, or as JSON when asked.
func (a *API) docsPage(w http.ResponseWriter, r *http.Request) {
	page, err := a.deps.Docs.Page(chi.URLParam(r, "page"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, page)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = docsTemplate.Execute(w, map[string]any{
		"Page": page,
		"Nav":  docs.Pages,
		"TOC":  docs.NavTOC(page.TOC),
		// the renderer escapes all source text itself
		"Body": template.HTML(page.HTML),
	})
}
