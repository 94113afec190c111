package search

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"persona/api/internal/persona"
)

// PersonaLister is the slice of the persona store the scan searcher needs.
type PersonaLister interface {
	List(ctx context.Context, project, personaType string) ([]persona.Persona, error)
}

// Scan searches by listing one project/type partition and matching
// case-insensitively. It is the fallback for backends without full-text
// support, and only answers queries scoped to a partition.
type Scan struct {
	personas PersonaLister
}

func NewScan(personas PersonaLister) *Scan {
	return &Scan{personas: personas}
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.TrimSpace(q.Text)
	if needle == "" || q.Project == "" || q.Type == "" {
		return nil, 0, nil
	}
	heads, err := s.personas.List(ctx, q.Project, q.Type)
	if err != nil {
		return nil, 0, err
	}

	var matches []Result
	for _, p := range heads {
		idx, length := indexFold(p.Persona, needle)
		if idx < 0 {
			if nameIdx, _ := indexFold(p.Name, needle); nameIdx < 0 {
				continue
			}
		}
		matches = append(matches, Result{
			Project: p.Project,
			Type:    p.Type,
			Name:    p.Name,
			Version: p.Version,
			Snippet: snippet(p.Persona, idx, length),
		})
	}

	total := len(matches)
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + normalizeLimit(q.Limit)
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

// indexFold returns the byte offset and byte length of the first match of
// needle in s under simple case folding, or -1. Offsets are into s itself, so
// case mappings that change encoded length cannot shift them.
func indexFold(s, needle string) (int, int) {
	if needle == "" {
		return -1, 0
	}
	for i := 0; i < len(s); {
		if n, ok := matchFoldAt(s[i:], needle); ok {
			return i, n
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1, 0
}

func matchFoldAt(s, needle string) (int, bool) {
	n := 0
	for _, want := range needle {
		if n >= len(s) {
			return 0, false
		}
		got, size := utf8.DecodeRuneInString(s[n:])
		if !equalFoldRune(got, want) {
			return 0, false
		}
		n += size
	}
	return n, true
}

func equalFoldRune(a, b rune) bool {
	return a == b || unicode.ToLower(a) == unicode.ToLower(b) || unicode.ToUpper(a) == unicode.ToUpper(b)
}

// snippet returns about 60 bytes either side of the match at idx, or the
// start of body when there was no body match. Cuts fall on rune boundaries.
func snippet(body string, idx, length int) string {
	const radius = 60
	if idx+length > len(body) {
		idx = -1
	}
	if idx < 0 {
		if len(body) <= 2*radius {
			return body
		}
		return body[:runeFloor(body, 2*radius)] + "…"
	}
	start := runeCeil(body, max(idx-radius, 0))
	end := runeFloor(body, min(idx+length+radius, len(body)))
	out := body[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(body) {
		out += "…"
	}
	return out
}

// runeFloor moves i back to the start of the rune containing it.
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil moves i forward to the next rune start.
func runeCeil(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
