package panel

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
)

var pageTmpl = template.Must(template.New("panel").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
html, body { margin: 0; height: 100%; }
.hexo-view-content { height: 100%; display: flex; }
.hexo-view-frame { flex: 1; border: 0; width: 100%; height: 100%; }
.hexo-view-empty { margin: auto; font-family: sans-serif; color: #666; }
</style>
</head>
<body>
<div class="hexo-view-content">
{{- if .ID}}
<iframe class="hexo-view-frame" src="{{.PreviewURL}}" allow="clipboard-write"></iframe>
{{- else}}
<p class="hexo-view-empty">No preview is open.</p>
{{- end}}
</div>
{{- if .ID}}
<script>
window.addEventListener("pagehide", function () {
	navigator.sendBeacon({{.CloseURL}});
});
</script>
{{- end}}
</body>
</html>
`))

type pageData struct {
	Title      string
	ID         string
	PreviewURL string
	CloseURL   string
}

// PageHandler serves the panel page (GET /panel?id=...). The frame points at
// previewURL(); an unknown or stale id renders the empty panel.
func (m *Manager) PageHandler(previewURL func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := pageData{Title: DisplayText}
		id := r.URL.Query().Get("id")
		if cur, ok := m.Current(); ok && cur.ID == id {
			data.ID = id
			data.PreviewURL = previewURL()
			data.CloseURL = "/panel/" + id + "/close"
		}

		var buf bytes.Buffer
		if err := pageTmpl.Execute(&buf, data); err != nil {
			slog.Error("panel: render failed", slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}
}
