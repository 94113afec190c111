// Package persona stores versioned persona prompts on top of a table.Client.
//
// Every identity (project, type, name) owns one head row holding the current
// version and one immutable snapshot row per version. Both live in the
// partition "{project}_{type}"; the head row key is the normalised name and
// snapshot row keys append ":{version}".
package persona

import (
	"fmt"
	"strconv"
	"strings"
)

// Known persona types. Creation is restricted to these.
const (
	TypeCorrespondence = "correspondence"
	TypeBriefing       = "briefing"
)

var allowedTypes = map[string]struct{}{
	TypeCorrespondence: {},
	TypeBriefing:       {},
}

// ValidType reports whether t may be used to create a persona.
func ValidType(t string) bool {
	_, ok := allowedTypes[t]
	return ok
}

// Row kinds, stored on every entity so head rows can be scanned on their own.
const (
	kindHead     = "head"
	kindSnapshot = "snapshot"
)

type Persona struct {
	Project string `json:"project"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Persona string `json:"persona"`
	Version int    `json:"version"`
}

// PartitionKey returns the partition shared by every row of a project/type.
func PartitionKey(project, personaType string) string {
	return project + "_" + personaType
}

// NormalizeName lower-cases name and replaces every space with an
// underscore. It is idempotent.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// ValidName reports whether name can be stored. ':' separates the version in
// snapshot row keys, so a name containing it would share keys with another
// identity's snapshots.
func ValidName(name string) bool {
	return !strings.Contains(name, ":")
}

// RowKey returns the head row key when version is 0, otherwise the snapshot
// row key for that version.
func RowKey(name string, version int) string {
	base := NormalizeName(name)
	if version <= 0 {
		return base
	}
	return base + ":" + strconv.Itoa(version)
}

func (p Persona) properties(kind string) map[string]any {
	return map[string]any{
		"project": p.Project,
		"type":    p.Type,
		"name":    p.Name,
		"persona": p.Persona,
		"version": p.Version,
		"kind":    kind,
		"key":     NormalizeName(p.Name),
	}
}

func fromProperties(partitionKey string, props map[string]any) (Persona, error) {
	version, err := intProperty(props["version"])
	if err != nil {
		return Persona{}, fmt.Errorf("decode version: %w", err)
	}
	p := Persona{
		Project: stringProperty(props["project"]),
		Type:    stringProperty(props["type"]),
		Name:    stringProperty(props["name"]),
		Persona: stringProperty(props["persona"]),
		Version: version,
	}
	// Rows written before project and type were stored explicitly only carry
	// them in the partition key.
	if p.Project == "" && p.Type == "" {
		p.Project, p.Type, _ = strings.Cut(partitionKey, "_")
	}
	return p, nil
}

func stringProperty(v any) string {
	s, _ := v.(string)
	return s
}

func intProperty(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	case fmt.Stringer:
		return strconv.Atoi(n.String())
	default:
		return 0, fmt.Errorf("unsupported version type %T", v)
	}
}
