package snapshot

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/benaskins/aivault/internal/record"
)

var exportTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func populatedStore(t *testing.T) *record.Store {
	t.Helper()
	s := record.NewStore(record.GuardFunc(func() bool { return true }))
	for _, f := range []record.Fields{
		record.WebsiteFields{Name: "OpenAI", URL: "https://openai.com", Category: "LLM"},
		record.WebsiteFields{Name: "Anthropic", URL: "https://anthropic.com"},
		record.APIKeyFields{Name: "prod", Platform: "openai", Secret: "sk-123", ExpiryDate: "2030-01-01"},
		record.MFAFields{Name: "github", Secret: "aaaa bbbb cccc"},
	} {
		if _, err := s.Create(f); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	return s
}

func TestExportEncodeDecodeRoundTrip(t *testing.T) {
	s := populatedStore(t)
	before, _ := s.Collections()

	doc, err := Export(s, exportTime)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !reflect.DeepEqual(got.Collections, before) {
		t.Errorf("collections changed across round trip:\n got %+v\nwant %+v", got.Collections, before)
	}
	if !got.ExportDate.Equal(exportTime) || got.Version != Version {
		t.Errorf("unexpected header %v %q", got.ExportDate, got.Version)
	}
}

func TestEncodeIsPrettyAndComplete(t *testing.T) {
	s := record.NewStore(record.GuardFunc(func() bool { return true }))
	doc, _ := Export(s, exportTime)
	data, _ := Encode(doc)

	if !strings.Contains(string(data), "\n  \"websites\": []") {
		t.Errorf("expected indented output with empty arrays, got:\n%s", data)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	for _, key := range []string{"websites", "apiKeys", "mfaTokens", "exportDate", "version"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing %q", key)
		}
	}
	if raw["version"] != "1.0" {
		t.Errorf("expected version 1.0, got %v", raw["version"])
	}
}

func TestExportWhileLocked(t *testing.T) {
	s := record.NewStore(record.GuardFunc(func() bool { return false }))
	if _, err := Export(s, exportTime); !errors.Is(err, record.ErrNotUnlocked) {
		t.Errorf("expected ErrNotUnlocked, got %v", err)
	}
}

func TestDecodeMissingCollectionIsEmpty(t *testing.T) {
	data := `{
		"websites": [{"id": "w1", "name": "OpenAI"}],
		"mfaTokens": [{"id": "m1", "name": "github", "secret": "x"}],
		"exportDate": "2024-05-29T16:26:40.000Z",
		"version": "1.0"
	}`
	doc, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(doc.APIKeys) != 0 {
		t.Errorf("expected no api keys, got %d", len(doc.APIKeys))
	}
	if len(doc.Websites) != 1 || len(doc.MFATokens) != 1 {
		t.Errorf("unexpected collections %+v", doc.Collections)
	}
}

func TestDecodeToleratesCommentsAndTrailingCommas(t *testing.T) {
	data := `{
		// edited by hand
		"websites": [
			{"id": "w1", "name": "OpenAI",},
		],
		/* no keys */
		"version": "1.0",
	}`
	doc, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(doc.Websites) != 1 {
		t.Errorf("expected 1 website, got %d", len(doc.Websites))
	}
}

func TestDecodeMissingVersionIsCurrent(t *testing.T) {
	doc, err := Decode([]byte(`{"websites": []}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.Version != "1.0" {
		t.Errorf("expected 1.0, got %q", doc.Version)
	}
}

func TestDecodeFormatErrors(t *testing.T) {
	tests := map[string]string{
		"not json":          `this is not a backup`,
		"array":             `[1, 2, 3]`,
		"null":              `null`,
		"wrong shape":       `{"websites": {"id": "w1"}}`,
		"wrong field type":  `{"apiKeys": [{"id": "k1", "name": 7}]}`,
		"unknown version":   `{"version": "2.0"}`,
		"numeric version":   `{"version": 1.0}`,
		"missing id":        `{"websites": [{"name": "x"}]}`,
		"duplicate id":      `{"mfaTokens": [{"id": "m", "name": "a"}, {"id": "m", "name": "b"}]}`,
		"blank name":        `{"websites": [{"id": "w", "name": "  "}]}`,
		"bad export date":   `{"exportDate": "yesterday"}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(data))
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatError, got %v", err)
			}
			if !IsFormatError(err) {
				t.Error("IsFormatError disagrees with errors.As")
			}
		})
	}
}

func TestFileName(t *testing.T) {
	if got := FileName(time.UnixMilli(1717000000123)); got != "ai-vault-backup-1717000000123.json" {
		t.Errorf("unexpected name %q", got)
	}
}

func TestWriteAndReadFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	doc, _ := Export(populatedStore(t), exportTime)

	path, err := WriteFile(dir, doc)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if filepath.Base(path) != FileName(exportTime) {
		t.Errorf("unexpected path %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600, got %o", perm)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !reflect.DeepEqual(got.Collections, doc.Collections) {
		t.Error("file round trip changed collections")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the backup file, got %d entries", len(entries))
	}
}

func TestReadFileWrapsFormatError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	os.WriteFile(path, []byte("{"), 0600)

	_, err := ReadFile(path)
	if !IsFormatError(err) {
		t.Errorf("expected FormatError, got %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("expected path in error, got %v", err)
	}
}
