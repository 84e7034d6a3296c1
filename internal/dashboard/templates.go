package dashboard

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/rewired-gh/forecastlens/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// PageData holds everything the index page renders on first load.
type PageData struct {
	Title            string
	Models           []models.ModelInfo
	Transforms       []models.TransformInfo
	DefaultModel     string
	DefaultTransform string
	Transcript       []turnView
}

var markdown = goldmark.New()

// markdownToHTML renders assistant text. Raw HTML in the input is omitted.
func markdownToHTML(input string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(input))
	}
	return template.HTML(buf.String())
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"markdown": markdownToHTML,
	}
}

type templateEngine struct {
	pages map[string]*template.Template
}

func newTemplateEngine() (*templateEngine, error) {
	engine := &templateEngine{pages: make(map[string]*template.Template)}
	for _, page := range []string{"index.html"} {
		t, err := template.New("layout.html").Funcs(templateFuncs()).ParseFS(
			templateFS,
			"templates/layout.html",
			"templates/"+page,
		)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", page, err)
		}
		engine.pages[page] = t
	}
	return engine, nil
}

// Render executes the named page inside the layout.
func (e *templateEngine) Render(w io.Writer, name string, data interface{}) error {
	t, ok := e.pages[name]
	if !ok {
		return fmt.Errorf("template %q not found", name)
	}
	if rw, ok := w.(http.ResponseWriter); ok {
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	return t.ExecuteTemplate(w, "layout.html", data)
}
