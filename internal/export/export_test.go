package export

import (
	"context"
	"errors"
	"strings"
	"testing"

	"persona/api/internal/persona"
)

type fakePersonas struct {
	personas map[int]persona.Persona
	err      error
}

func (f fakePersonas) Get(_ context.Context, _, _, _ string, version int) (persona.Persona, bool, error) {
	if f.err != nil {
		return persona.Persona{}, false, f.err
	}
	p, ok := f.personas[version]
	return p, ok, nil
}

func newTestService(personas fakePersonas) (*Service, *[]string) {
	svc := NewService(personas)
	var rendered []string
	stub := func(_ context.Context, html, title string) (*Result, error) {
		rendered = append(rendered, html)
		return &Result{Data: []byte("out"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}
	svc.converters[FormatPDF] = stub
	svc.converters[FormatDOCX] = stub
	return svc, &rendered
}

func TestExportRendersRequestedVersion(t *testing.T) {
	personas := fakePersonas{personas: map[int]persona.Persona{
		0: {Project: "acme", Type: "briefing", Name: "Analyst", Persona: "current", Version: 2},
		1: {Project: "acme", Type: "briefing", Name: "Analyst", Persona: "first draft", Version: 1},
	}}
	svc, rendered := newTestService(personas)

	result, err := svc.Export(context.Background(), Request{Project: "acme", Type: "briefing", Name: "Analyst", Version: 1, Format: FormatPDF})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Analyst-v1.pdf" {
		t.Fatalf("unexpected filename %q", result.Filename)
	}
	if len(*rendered) != 1 || !strings.Contains((*rendered)[0], "first draft") {
		t.Fatalf("expected version 1 to be rendered, got %v", *rendered)
	}
}

func TestExportErrors(t *testing.T) {
	svc, _ := newTestService(fakePersonas{personas: map[int]persona.Persona{}})
	ctx := context.Background()

	if _, err := svc.Export(ctx, Request{Name: "x", Format: "odt"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := svc.Export(ctx, Request{Name: "x", Format: FormatDOCX}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	boom := errors.New("table offline")
	failing, _ := newTestService(fakePersonas{err: boom})
	if _, err := failing.Export(ctx, Request{Name: "x", Format: FormatPDF}); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	for _, raw := range []string{"pdf", "docx"} {
		if f, err := ParseFormat(raw); err != nil || string(f) != raw {
			t.Errorf("ParseFormat(%q) = %q, %v", raw, f, err)
		}
	}
	if _, err := ParseFormat("PDF "); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestRenderPersonaHTMLEscapesAndSplitsParagraphs(t *testing.T) {
	html, err := RenderPersonaHTML(persona.Persona{
		Project: "acme",
		Type:    "briefing",
		Name:    "Analyst <b>",
		Persona: "First line.\r\n\r\nSecond <script>alert(1)</script>\n\n\n",
		Version: 3,
	})
	if err != nil {
		t.Fatalf("RenderPersonaHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>") || strings.Contains(html, "<b>") {
		t.Fatalf("persona content must be escaped: %s", html)
	}
	if strings.Count(html, "<p>") != 2 {
		t.Fatalf("expected 2 paragraphs: %s", html)
	}
	if !strings.Contains(html, "version 3") {
		t.Fatalf("expected version in meta line: %s", html)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Lead Analyst v2":       "Lead-Analyst-v2",
		"../../etc/passwd":      "----etcpasswd",
		"":                      "persona",
		"Ünïcödé":               "ncd",
		strings.Repeat("a", 80): strings.Repeat("a", 50),
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("<p>a b#é</p>")
	want := "%3Cp%3Ea%20b%23%C3%A9%3C%2Fp%3E"
	if got != want {
		t.Fatalf("percentEncodeForDataURL = %q, want %q", got, want)
	}
}
