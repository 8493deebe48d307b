package record

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestUnmarshalOriginalLayout(t *testing.T) {
	data := `[{"id":"1717000000000","name":"OpenAI","apiKey":"sk-abc","platform":"openai",
		"expiryDate":"2030-01-01","created_at":"2024-05-29T16:26:40.000Z","updated_at":"2024-05-29T16:26:40.000Z"}]`

	rs, err := Unmarshal(KindAPIKey, []byte(data))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(rs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(rs))
	}
	k := rs[0].(APIKey)
	if k.ID != "1717000000000" || k.Secret != "sk-abc" || k.Platform != "openai" {
		t.Errorf("unexpected record: %+v", k)
	}
	if k.CreatedAt.IsZero() {
		t.Error("expected created_at to be parsed")
	}
}

func TestUnmarshalNullIsEmpty(t *testing.T) {
	rs, err := Unmarshal(KindWebsite, []byte("null"))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(rs) != 0 {
		t.Errorf("expected empty, got %d", len(rs))
	}
}

func TestUnmarshalRejectsWrongShape(t *testing.T) {
	for _, data := range []string{`{"id":"1"}`, `not json`, `[{"name": 5}]`} {
		if _, err := Unmarshal(KindMFA, []byte(data)); err == nil {
			t.Errorf("expected error for %q", data)
		}
	}
}

func TestMarshalEmptyIsArray(t *testing.T) {
	b, err := Marshal(nil)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != "[]" {
		t.Errorf("expected [], got %s", b)
	}
}

func TestMarshalOmitsEmptyOptionalFields(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b, err := Marshal([]Record{Website{Common: Common{ID: "1", Name: "x", CreatedAt: now, UpdatedAt: now}}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(b), "url") || strings.Contains(string(b), "category") {
		t.Errorf("expected optional fields omitted, got %s", b)
	}

	var raw []map[string]any
	json.Unmarshal(b, &raw)
	if raw[0]["created_at"] != "2025-01-01T00:00:00Z" {
		t.Errorf("unexpected created_at encoding: %v", raw[0]["created_at"])
	}
}

func TestCollectionsSetDropsForeignKinds(t *testing.T) {
	var c Collections
	c.Set(KindWebsite, []Record{Website{Common: Common{ID: "w"}}, MFA{Common: Common{ID: "m"}}})
	if len(c.Websites) != 1 || c.Websites[0].ID != "w" {
		t.Errorf("unexpected websites: %+v", c.Websites)
	}
	if c.Len() != 1 {
		t.Errorf("expected Len 1, got %d", c.Len())
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"website":   KindWebsite,
		"websites":  KindWebsite,
		"apiKeys":   KindAPIKey,
		"api-key":   KindAPIKey,
		"MFA":       KindMFA,
		"mfaTokens": KindMFA,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseKind("card"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestAPIKeyExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		expiry string
		want   bool
	}{
		{"", false},
		{"2025-01-01", true},
		{"2026-01-01", false},
		{"12/31/2024", true},
		{"next year", false},
	}
	for _, tt := range tests {
		if got := (APIKey{ExpiryDate: tt.expiry}).Expired(now); got != tt.want {
			t.Errorf("Expired(%q) = %v, want %v", tt.expiry, got, tt.want)
		}
	}
}
