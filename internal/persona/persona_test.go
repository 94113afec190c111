package persona

import (
	"encoding/json"
	"testing"
)

func TestRowKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		version int
		want    string
	}{
		{name: "lower cases", input: "Analyst", want: "analyst"},
		{name: "single space", input: "My Name", want: "my_name"},
		{name: "already normalised", input: "my_name", want: "my_name"},
		{name: "consecutive spaces", input: "My  Long Name", want: "my__long_name"},
		{name: "snapshot", input: "My Name", version: 3, want: "my_name:3"},
		{name: "negative version means head", input: "My Name", version: -1, want: "my_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RowKey(tt.input, tt.version); got != tt.want {
				t.Errorf("RowKey(%q, %d) = %q, want %q", tt.input, tt.version, got, tt.want)
			}
		})
	}
}

func TestNormalizeNameIsIdempotent(t *testing.T) {
	for _, name := range []string{"My Name", "my_name", "A  B  C", "MiXeD case Name"} {
		once := NormalizeName(name)
		if twice := NormalizeName(once); twice != once {
			t.Errorf("NormalizeName not idempotent for %q: %q then %q", name, once, twice)
		}
	}
	if NormalizeName("My Name") != NormalizeName("my_name") {
		t.Error("expected \"My Name\" and \"my_name\" to share a row key")
	}
}

func TestPartitionKey(t *testing.T) {
	if got := PartitionKey("acme", TypeBriefing); got != "acme_briefing" {
		t.Fatalf("PartitionKey = %q", got)
	}
}

func TestValidType(t *testing.T) {
	if !ValidType(TypeBriefing) || !ValidType(TypeCorrespondence) {
		t.Fatal("expected known types to be valid")
	}
	if ValidType("memo") || ValidType("") {
		t.Fatal("expected unknown types to be rejected")
	}
}

func TestFromPropertiesVersionEncodings(t *testing.T) {
	for _, raw := range []any{2, int64(2), float64(2), "2", json.Number("2")} {
		p, err := fromProperties("acme_briefing", map[string]any{"project": "acme", "type": "briefing", "version": raw})
		if err != nil {
			t.Fatalf("fromProperties(%T) error = %v", raw, err)
		}
		if p.Version != 2 {
			t.Errorf("fromProperties(%T) version = %d", raw, p.Version)
		}
	}
	if _, err := fromProperties("acme_briefing", map[string]any{"version": []int{1}}); err == nil {
		t.Error("expected error for unsupported version type")
	}
}

func TestFromPropertiesFallsBackToPartitionKey(t *testing.T) {
	p, err := fromProperties("acme_briefing", map[string]any{"name": "x", "version": 1.0})
	if err != nil {
		t.Fatalf("fromProperties error = %v", err)
	}
	if p.Project != "acme" || p.Type != "briefing" {
		t.Fatalf("unexpected project/type %+v", p)
	}

	// Explicit attributes win over the lossy partition split.
	p, err = fromProperties("my_project_briefing", map[string]any{"project": "my_project", "type": "briefing"})
	if err != nil {
		t.Fatalf("fromProperties error = %v", err)
	}
	if p.Project != "my_project" || p.Type != "briefing" {
		t.Fatalf("unexpected project/type %+v", p)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindAlreadyExists, Name: "A"}, "persona A already exists"},
		{&Error{Kind: KindNotFound, Name: "A"}, "persona A does not exist"},
		{&Error{Kind: KindConflict, Name: "A"}, "persona A was modified concurrently"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
	if KindOf(nil) != KindUnknown {
		t.Error("KindOf(nil) should be Unknown")
	}
	if KindAlreadyExists.String() != "AlreadyExists" || Kind(99).String() != "Unknown" {
		t.Error("unexpected Kind strings")
	}
}
