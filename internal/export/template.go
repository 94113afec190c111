package export

import (
	"bytes"
	"html/template"
	"strings"

	"persona/api/internal/persona"
)

var personaTemplate = template.Must(template.New("persona").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Name}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  <div class="meta">{{.Project}} | {{.Type}} | version {{.Version}}</div>
  {{range .Paragraphs}}<p>{{.}}</p>
  {{end}}
</body>
</html>`))

type templateData struct {
	persona.Persona
	Paragraphs []string
}

// RenderPersonaHTML renders a persona as a standalone HTML page. Blank lines
// in the body separate paragraphs.
func RenderPersonaHTML(p persona.Persona) (string, error) {
	var buf bytes.Buffer
	if err := personaTemplate.Execute(&buf, templateData{Persona: p, Paragraphs: paragraphs(p.Persona)}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func paragraphs(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			out = append(out, block)
		}
	}
	return out
}
