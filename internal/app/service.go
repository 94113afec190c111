package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"persona/api/internal/document"
	"persona/api/internal/export"
	"persona/api/internal/gitrepo"
	"persona/api/internal/persona"
	"persona/api/internal/search"
)

type personaStore interface {
	Add(context.Context, persona.Persona) (persona.Persona, error)
	Update(context.Context, persona.Persona) (persona.Persona, error)
	Get(ctx context.Context, project, personaType, name string, version int) (persona.Persona, bool, error)
	List(ctx context.Context, project, personaType string) ([]persona.Persona, error)
	Versions(ctx context.Context, project, personaType, name string) ([]persona.Persona, error)
	Ping(context.Context) error
}

type documentService interface {
	List(context.Context) ([]document.Document, error)
	Get(ctx context.Context, id string) ([]byte, string, error)
	GetMetadata(ctx context.Context, id string) (document.Metadata, error)
	Save(ctx context.Context, data []byte, declaredType string) (string, error)
	UpdateMetadata(ctx context.Context, id string, update document.MetadataUpdate) error
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexPersona(persona.Persona)
}

type historyMirror interface {
	Record(p persona.Persona, action string) (gitrepo.CommitInfo, error)
	History(project, personaType, name string, limit int) ([]gitrepo.CommitInfo, error)
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// Dependencies wires the collaborators of a Service. Search, History and
// Exporter are optional.
type Dependencies struct {
	Personas  personaStore
	Documents documentService
	Search    searchService
	History   historyMirror
	Exporter  exporter
}

type Service struct {
	personas  personaStore
	documents documentService
	search    searchService
	history   historyMirror
	exporter  exporter
}

func New(deps Dependencies) *Service {
	return &Service{
		personas:  deps.Personas,
		documents: deps.Documents,
		search:    deps.Search,
		history:   deps.History,
		exporter:  deps.Exporter,
	}
}

type CreatePersonaInput struct {
	Project string `json:"project"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

type UpdatePersonaInput struct {
	Persona string `json:"persona"`
}

func (s *Service) CreatePersona(ctx context.Context, in CreatePersonaInput) (persona.Persona, error) {
	if err := requireFields(map[string]string{"project": in.Project, "type": in.Type, "name": in.Name, "persona": in.Persona}); err != nil {
		return persona.Persona{}, err
	}
	if !persona.ValidType(in.Type) {
		return persona.Persona{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "type must be one of correspondence, briefing", map[string]any{"type": in.Type})
	}
	if !persona.ValidName(in.Name) {
		return persona.Persona{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name must not contain ':'", map[string]any{"name": in.Name})
	}
	created, err := s.personas.Add(ctx, persona.Persona{Project: in.Project, Type: in.Type, Name: in.Name, Persona: in.Persona})
	if err != nil {
		return persona.Persona{}, err
	}
	s.afterWrite(ctx, created, gitrepo.ActionAdd)
	return created, nil
}

func (s *Service) UpdatePersona(ctx context.Context, project, personaType, name string, in UpdatePersonaInput) (persona.Persona, error) {
	if err := requireFields(map[string]string{"persona": in.Persona}); err != nil {
		return persona.Persona{}, err
	}
	updated, err := s.personas.Update(ctx, persona.Persona{Project: project, Type: personaType, Name: name, Persona: in.Persona})
	if err != nil {
		return persona.Persona{}, err
	}
	s.afterWrite(ctx, updated, gitrepo.ActionUpdate)
	return updated, nil
}

// GetPersona returns the current version when version is 0.
func (s *Service) GetPersona(ctx context.Context, project, personaType, name string, version int) (persona.Persona, error) {
	p, found, err := s.personas.Get(ctx, project, personaType, name, version)
	if err != nil {
		return persona.Persona{}, err
	}
	if !found {
		return persona.Persona{}, &persona.Error{Kind: persona.KindNotFound, Name: name}
	}
	return p, nil
}

func (s *Service) ListPersonas(ctx context.Context, project, personaType string) ([]persona.Persona, error) {
	return s.personas.List(ctx, project, personaType)
}

func (s *Service) PersonaVersions(ctx context.Context, project, personaType, name string) ([]persona.Persona, error) {
	versions, err := s.personas.Versions(ctx, project, personaType, name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, &persona.Error{Kind: persona.KindNotFound, Name: name}
	}
	return versions, nil
}

func (s *Service) PersonaHistory(ctx context.Context, project, personaType, name string, limit int) ([]gitrepo.CommitInfo, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	if _, err := s.GetPersona(ctx, project, personaType, name, 0); err != nil {
		return nil, err
	}
	return s.history.History(project, personaType, name, limit)
}

func (s *Service) ExportPersona(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.exporter == nil {
		return nil, export.ErrPDFDependencyMissing
	}
	return s.exporter.Export(ctx, req)
}

func (s *Service) SearchPersonas(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) ListDocuments(ctx context.Context) ([]document.Document, error) {
	return s.documents.List(ctx)
}

func (s *Service) GetDocument(ctx context.Context, id string) ([]byte, string, error) {
	return s.documents.Get(ctx, id)
}

func (s *Service) GetDocumentMetadata(ctx context.Context, id string) (document.Metadata, error) {
	return s.documents.GetMetadata(ctx, id)
}

func (s *Service) SaveDocument(ctx context.Context, data []byte, contentType string) (string, error) {
	return s.documents.Save(ctx, data, contentType)
}

func (s *Service) UpdateDocumentMetadata(ctx context.Context, id string, update document.MetadataUpdate) error {
	return s.documents.UpdateMetadata(ctx, id, update)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.personas.Ping(ctx)
}

// afterWrite propagates a stored version to search and the history mirror.
// Failures are logged; the table remains the source of truth.
func (s *Service) afterWrite(ctx context.Context, p persona.Persona, action string) {
	if s.search != nil {
		s.search.IndexPersona(p)
	}
	if s.history != nil {
		if _, err := s.history.Record(p, action); err != nil {
			slog.WarnContext(ctx, "Record persona history failed", "name", p.Name, "version", p.Version, "err", err)
		}
	}
}

func requireFields(fields map[string]string) error {
	var missing []string
	for _, name := range []string{"project", "type", "name", "persona"} {
		if value, ok := fields[name]; ok && strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", strings.Join(missing, ", ")+" required", map[string]any{"missing": missing})
	}
	return nil
}
