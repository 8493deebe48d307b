// Package snapshot converts the whole vault to and from a portable,
// versioned JSON document used for backups.
//
// Exported documents carry secrets in clear. Import is destructive: a
// decoded document replaces every collection, and a collection missing
// from the document becomes empty.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/benaskins/aivault/internal/record"
)

// Version is the schema version written by Export.
const Version = "1.0"

// Document is the export/import payload.
type Document struct {
	record.Collections
	ExportDate time.Time `json:"exportDate"`
	Version    string    `json:"version"`
}

// FormatError reports a document that cannot be imported.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return "invalid snapshot: " + e.Err.Error()
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErrorf(format string, args ...any) error {
	return &FormatError{Err: fmt.Errorf(format, args...)}
}

// Source is anything that can hand out the full set of collections.
type Source interface {
	Collections() (record.Collections, error)
}

// Export captures every collection of src.
func Export(src Source, now time.Time) (Document, error) {
	c, err := src.Collections()
	if err != nil {
		return Document{}, err
	}
	// Empty collections encode as [] rather than null.
	if c.Websites == nil {
		c.Websites = []record.Website{}
	}
	if c.APIKeys == nil {
		c.APIKeys = []record.APIKey{}
	}
	if c.MFATokens == nil {
		c.MFATokens = []record.MFA{}
	}
	return Document{Collections: c, ExportDate: now.UTC(), Version: Version}, nil
}

// Encode renders doc as indented JSON.
func Encode(doc Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a snapshot. Comments and trailing commas are tolerated so
// hand-edited backups still import. Every failure is a *FormatError.
func Decode(data []byte) (Document, error) {
	stripped := jsonc.ToJSON(data)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(stripped, &fields); err != nil {
		return Document{}, &FormatError{Err: err}
	}
	if fields == nil {
		return Document{}, formatErrorf("document is not an object")
	}

	version := Version
	if raw, ok := fields["version"]; ok {
		if err := json.Unmarshal(raw, &version); err != nil {
			return Document{}, formatErrorf("version: %w", err)
		}
	}

	switch version {
	case "1.0":
		return decodeV1(stripped)
	default:
		return Document{}, formatErrorf("unsupported version %q", version)
	}
}

func decodeV1(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return Document{}, &FormatError{Err: err}
	}
	doc.Version = "1.0"

	for _, k := range record.Kinds() {
		if err := checkCollection(k, doc.Get(k)); err != nil {
			return Document{}, err
		}
	}
	return doc, nil
}

// checkCollection enforces the record invariants the store relies on.
func checkCollection(k record.Kind, rs []record.Record) error {
	seen := make(map[string]bool, len(rs))
	for i, r := range rs {
		base := r.Base()
		if base.ID == "" {
			return formatErrorf("%s[%d]: missing id", k.Key(), i)
		}
		if seen[base.ID] {
			return formatErrorf("%s[%d]: duplicate id %q", k.Key(), i, base.ID)
		}
		seen[base.ID] = true
		if strings.TrimSpace(base.Name) == "" {
			return formatErrorf("%s[%d]: missing name", k.Key(), i)
		}
	}
	return nil
}

// FileName returns the backup file name for an export taken at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("ai-vault-backup-%d.json", now.UnixMilli())
}

// WriteFile encodes doc into dir under FileName(doc.ExportDate) and
// returns the path. The file is readable by the owner only.
func WriteFile(dir string, doc Document) (string, error) {
	data, err := Encode(doc)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating export dir: %w", err)
	}

	path := filepath.Join(dir, FileName(doc.ExportDate))
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	return path, nil
}

// ReadFile reads and decodes the snapshot at path.
func ReadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := Decode(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// IsFormatError reports whether err is or wraps a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
