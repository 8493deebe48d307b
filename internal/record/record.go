// Package record defines the three kinds of vault records and the in-memory
// store that owns them.
//
// Records are plain values. The Store hands out copies, so a caller can never
// mutate a collection except through the Store's own operations.
package record

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the three record collections.
type Kind string

const (
	KindWebsite Kind = "website"
	KindAPIKey  Kind = "apikey"
	KindMFA     Kind = "mfa"
)

// Kinds returns every record kind in collection order.
func Kinds() []Kind {
	return []Kind{KindWebsite, KindAPIKey, KindMFA}
}

// Key returns the collection name used in secret storage and snapshots.
func (k Kind) Key() string {
	switch k {
	case KindWebsite:
		return "websites"
	case KindAPIKey:
		return "apiKeys"
	case KindMFA:
		return "mfaTokens"
	}
	return ""
}

// Valid reports whether k names a known kind.
func (k Kind) Valid() bool {
	return k.Key() != ""
}

// ParseKind accepts a kind name, its collection key, or a common alias.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "website", "websites", "web", "site":
		return KindWebsite, nil
	case "apikey", "apikeys", "api-key", "api", "key":
		return KindAPIKey, nil
	case "mfa", "mfatokens", "mfa-token", "token", "backup-codes":
		return KindMFA, nil
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// Common holds the fields every record carries.
type Common struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is one stored item. The concrete types are Website, APIKey and MFA.
type Record interface {
	Kind() Kind
	Base() Common
	// Fields returns the mutable part of the record, suitable for Update.
	Fields() Fields

	withBase(Common) Record
	searchable() []string
}

// Website is a bookmarked tool reference.
type Website struct {
	Common
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

func (w Website) Kind() Kind     { return KindWebsite }
func (w Website) Base() Common   { return w.Common }
func (w Website) Fields() Fields { return WebsiteFields{Name: w.Name, URL: w.URL, Description: w.Description, Category: w.Category} }

func (w Website) withBase(c Common) Record {
	w.Common = c
	return w
}

func (w Website) searchable() []string {
	return []string{w.Name, w.Description, w.Category}
}

// APIKey is an API credential. APIKey.Secret is sensitive.
type APIKey struct {
	Common
	Platform   string `json:"platform,omitempty"`
	Secret     string `json:"apiKey,omitempty"`
	Notes      string `json:"notes,omitempty"`
	ExpiryDate string `json:"expiryDate,omitempty"`
}

func (k APIKey) Kind() Kind   { return KindAPIKey }
func (k APIKey) Base() Common { return k.Common }
func (k APIKey) Fields() Fields {
	return APIKeyFields{Name: k.Name, Platform: k.Platform, Secret: k.Secret, Notes: k.Notes, ExpiryDate: k.ExpiryDate}
}

func (k APIKey) withBase(c Common) Record {
	k.Common = c
	return k
}

func (k APIKey) searchable() []string {
	return []string{k.Name, k.Platform}
}

// expiryLayouts are the date formats accepted for ExpiryDate. Anything else
// is kept verbatim and never reported as expired.
var expiryLayouts = []string{time.RFC3339, "2006-01-02", "2006/01/02", "01/02/2006"}

// Expired reports whether the key's expiry date parses and lies before now.
func (k APIKey) Expired(now time.Time) bool {
	s := strings.TrimSpace(k.ExpiryDate)
	if s == "" {
		return false
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Before(now)
		}
	}
	return false
}

// MFA holds multi-factor backup codes as free text. MFA.Secret is sensitive.
type MFA struct {
	Common
	Secret string `json:"secret,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

func (m MFA) Kind() Kind     { return KindMFA }
func (m MFA) Base() Common   { return m.Common }
func (m MFA) Fields() Fields { return MFAFields{Name: m.Name, Secret: m.Secret, Notes: m.Notes} }

func (m MFA) withBase(c Common) Record {
	m.Common = c
	return m
}

func (m MFA) searchable() []string {
	return []string{m.Name}
}

// Matches reports whether query is a case-insensitive substring of any of the
// record's searchable fields. An empty query matches everything.
func Matches(r Record, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	for _, field := range r.searchable() {
		if field != "" && strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
