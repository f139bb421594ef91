package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var ledgerTemplate = template.Must(template.New("ledger.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string {
		return t.UTC().Format("Jan 2, 2006 15:04 UTC")
	},
	"join": strings.Join,
}).ParseFS(templateFS, "templates/ledger.html"))

type TemplateData struct {
	Title       string
	ContentHTML template.HTML
	UpdatedAt   time.Time
	EntryID     int64
	Entries     []TemplateEntry
	GeneratedAt time.Time
}

type TemplateEntry struct {
	ID                int64
	ChangeDescription string
	CreatedAt         time.Time
	Vetoes            []string
	Reversed          bool
	Live              bool
	Digest            string
}

func RenderHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := ledgerTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
