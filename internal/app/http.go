package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"persona/api/internal/document"
	"persona/api/internal/export"
	"persona/api/internal/search"
	"persona/api/internal/util"
)

const defaultHistoryLimit = 50

type HTTPServer struct {
	service          *Service
	corsOrigin       string
	maxDocumentBytes int64
}

func NewHTTPServer(service *Service, corsOrigin string, maxDocumentBytes int64) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, maxDocumentBytes: maxDocumentBytes}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/healthy" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/healthz" {
		s.handleReady(w, r)
		return
	}

	parts, err := splitPath(r.URL.EscapedPath())
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", "Malformed path", nil)
		return
	}
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case parts[0] == "personas":
		s.handlePersonas(w, r, parts[1:])
	case parts[0] == "search" && len(parts) == 2 && parts[1] == "personas":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleSearch(w, r)
	case parts[0] == "documents":
		s.handleDocuments(w, r, parts[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"table": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["table"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handlePersonas serves /personas and everything below it. parts excludes
// the leading "personas" segment.
func (s *HTTPServer) handlePersonas(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()

	switch len(parts) {
	case 0:
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body CreatePersonaInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreatePersona(ctx, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case 2:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		personas, err := s.service.ListPersonas(ctx, parts[0], parts[1])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if len(personas) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, personas)

	case 3:
		project, personaType, name := parts[0], parts[1], parts[2]
		switch r.Method {
		case http.MethodGet:
			version, err := positiveQueryInt(r, "version")
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			// A missing persona is a 404, never a 200 with a null body.
			p, err := s.service.GetPersona(ctx, project, personaType, name, version)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, p)
		case http.MethodPut:
			var body UpdatePersonaInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			updated, err := s.service.UpdatePersona(ctx, project, personaType, name, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, updated)
		default:
			methodNotAllowed(w)
		}

	case 4:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handlePersonaResource(w, r, parts[0], parts[1], parts[2], parts[3])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handlePersonaResource(w http.ResponseWriter, r *http.Request, project, personaType, name, resource string) {
	ctx := r.Context()

	switch resource {
	case "versions":
		versions, err := s.service.PersonaVersions(ctx, project, personaType, name)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, versions)

	case "history":
		limit, err := positiveQueryInt(r, "limit")
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if limit == 0 {
			limit = defaultHistoryLimit
		}
		commits, err := s.service.PersonaHistory(ctx, project, personaType, name, limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, commits)

	case "export":
		version, err := positiveQueryInt(r, "version")
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		rawFormat := r.URL.Query().Get("format")
		if rawFormat == "" {
			rawFormat = string(export.FormatPDF)
		}
		format, err := export.ParseFormat(strings.ToLower(rawFormat))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		result, err := s.service.ExportPersona(ctx, export.Request{
			Project: project,
			Type:    personaType,
			Name:    name,
			Version: version,
			Format:  format,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := positiveQueryInt(r, "limit")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	offset, err := strconv.Atoi(query.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	resp := s.service.SearchPersonas(r.Context(), search.Query{
		Text:    strings.TrimSpace(query.Get("q")),
		Project: query.Get("project"),
		Type:    query.Get("type"),
		Limit:   limit,
		Offset:  offset,
	})
	writeJSON(w, http.StatusOK, resp)
}

// handleDocuments serves /documents. parts excludes the leading segment.
func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		documents, err := s.service.ListDocuments(ctx)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, documents)

	case len(parts) == 0 && r.Method == http.MethodPost:
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxDocumentBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", fmt.Sprintf("Document exceeds %d bytes", tooLarge.Limit), nil)
				return
			}
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read document body", nil)
			return
		}
		id, err := s.service.SaveDocument(ctx, data, r.Header.Get("Content-Type"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})

	case len(parts) == 1 && r.Method == http.MethodGet:
		data, contentType, err := s.service.GetDocument(ctx, parts[0])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)

	case len(parts) == 1 && r.Method == http.MethodPut:
		var body document.MetadataUpdate
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateDocumentMetadata(ctx, parts[0], body); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": parts[0]})

	case len(parts) == 2 && parts[1] == "metadata" && r.Method == http.MethodGet:
		metadata, err := s.service.GetDocumentMetadata(ctx, parts[0])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, metadata)

	case len(parts) <= 1:
		methodNotAllowed(w)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "request_id", requestIDFrom(r.Context()), "code", code, "err", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		slog.InfoContext(ctx, "Request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// decodeBody decodes a single JSON object and rejects unknown fields.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		if strings.HasPrefix(err.Error(), "json: unknown field ") {
			return fmt.Errorf("unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		}
		return errors.New("invalid JSON body")
	}
	if decoder.More() {
		return errors.New("invalid JSON body")
	}
	return nil
}

// positiveQueryInt returns 0 when the parameter is absent.
func positiveQueryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", name+" must be a positive integer", map[string]any{name: raw})
	}
	return value, nil
}

// splitPath splits an escaped path and unescapes each segment, so encoded
// slashes stay inside their segment.
func splitPath(escaped string) ([]string, error) {
	trimmed := strings.Trim(escaped, "/")
	if trimmed == "" {
		return nil, nil
	}
	raw := strings.Split(trimmed, "/")
	parts := make([]string, len(raw))
	for i, segment := range raw {
		part, err := url.PathUnescape(segment)
		if err != nil {
			return nil, err
		}
		parts[i] = part
	}
	return parts, nil
}
