package export

import (
	"context"
	"fmt"

	"persona/api/internal/persona"
)

// PersonaGetter is the read side of persona.Store.
type PersonaGetter interface {
	Get(ctx context.Context, project, personaType, name string, version int) (persona.Persona, bool, error)
}

type converter func(ctx context.Context, html, title string) (*Result, error)

type Service struct {
	personas   PersonaGetter
	converters map[Format]converter
}

func NewService(personas PersonaGetter) *Service {
	return &Service{
		personas: personas,
		converters: map[Format]converter{
			FormatPDF:  exportPDF,
			FormatDOCX: exportDOCX,
		},
	}
}

// Export loads the requested version and converts it.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	convert, ok := s.converters[req.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	p, found, err := s.personas.Get(ctx, req.Project, req.Type, req.Name, req.Version)
	if err != nil {
		return nil, fmt.Errorf("get persona: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, req.Name, req.Version)
	}

	html, err := RenderPersonaHTML(p)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return convert(ctx, html, fmt.Sprintf("%s v%d", p.Name, p.Version))
}
