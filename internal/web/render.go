package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"sync"
	"time"
)

//go:embed templates/*.html
var tmplFS embed.FS

var (
	once    sync.Once
	tmpl    *template.Template
	loadErr error
)

var funcs = template.FuncMap{
	"ids": func(ids []uint64) string {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fmt.Sprint(id)
		}
		return strings.Join(parts, ", ")
	},
}

func load() {
	tmpl, loadErr = template.New("base").Funcs(funcs).ParseFS(tmplFS, "templates/*.html")
}

// Render writes the named template to w with data enriched by Now.
func Render(w io.Writer, name string, data map[string]any) error {
	once.Do(load)
	if loadErr != nil {
		return loadErr
	}
	if data == nil {
		data = map[string]any{}
	}
	data["Now"] = time.Now().Format(time.RFC822)
	return tmpl.ExecuteTemplate(w, name, data)
}
