package record

import (
	"fmt"
	"strings"
)

// Fields is the user-editable part of a record. Each record kind has its
// own variant; the variant decides which collection an operation targets.
type Fields interface {
	Kind() Kind
	build(Common) Record
	name() string
}

// WebsiteFields are the editable fields of a Website.
type WebsiteFields struct {
	Name        string
	URL         string
	Description string
	Category    string
}

func (f WebsiteFields) Kind() Kind   { return KindWebsite }
func (f WebsiteFields) name() string { return f.Name }

func (f WebsiteFields) build(c Common) Record {
	return Website{Common: c, URL: f.URL, Description: f.Description, Category: f.Category}
}

// APIKeyFields are the editable fields of an APIKey.
type APIKeyFields struct {
	Name       string
	Platform   string
	Secret     string
	Notes      string
	ExpiryDate string
}

func (f APIKeyFields) Kind() Kind   { return KindAPIKey }
func (f APIKeyFields) name() string { return f.Name }

func (f APIKeyFields) build(c Common) Record {
	return APIKey{Common: c, Platform: f.Platform, Secret: f.Secret, Notes: f.Notes, ExpiryDate: f.ExpiryDate}
}

// MFAFields are the editable fields of an MFA record.
type MFAFields struct {
	Name   string
	Secret string
	Notes  string
}

func (f MFAFields) Kind() Kind   { return KindMFA }
func (f MFAFields) name() string { return f.Name }

func (f MFAFields) build(c Common) Record {
	return MFA{Common: c, Secret: f.Secret, Notes: f.Notes}
}

// Validate checks the rules shared by create and update. A name made only of
// whitespace counts as missing.
func Validate(f Fields) error {
	if f == nil {
		return fmt.Errorf("%w: no fields given", ErrValidation)
	}
	if !f.Kind().Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, f.Kind())
	}
	if strings.TrimSpace(f.name()) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	return nil
}
