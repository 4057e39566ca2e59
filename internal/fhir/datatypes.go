package fhir

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Meta carries server-assigned versioning data.
type Meta struct {
	VersionID   string     `json:"versionId,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	Source      string     `json:"source,omitempty"`
	Profile     []string   `json:"profile,omitempty"`
	Tag         []Coding   `json:"tag,omitempty"`
}

type Coding struct {
	System       string `json:"system,omitempty"`
	Version      string `json:"version,omitempty"`
	Code         string `json:"code,omitempty"`
	Display      string `json:"display,omitempty"`
	UserSelected *bool  `json:"userSelected,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// FirstCoding returns the first coding, if any.
func (c *CodeableConcept) FirstCoding() (Coding, bool) {
	if c == nil || len(c.Coding) == 0 {
		return Coding{}, false
	}
	return c.Coding[0], true
}

// HasCode reports whether any coding carries code.
func (c *CodeableConcept) HasCode(code string) bool {
	if c == nil {
		return false
	}
	for _, coding := range c.Coding {
		if coding.Code == code {
			return true
		}
	}
	return false
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Identifier struct {
	Use      string           `json:"use,omitempty"`
	Type     *CodeableConcept `json:"type,omitempty"`
	System   string           `json:"system,omitempty"`
	Value    string           `json:"value,omitempty"`
	Period   *Period          `json:"period,omitempty"`
	Assigner *Reference       `json:"assigner,omitempty"`
}

type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`

	// blank is set when a document carried "reference": "".
	blank bool
}

// UnmarshalJSON keeps an explicit empty literal reference apart from an
// absent one.
func (r *Reference) UnmarshalJSON(data []byte) error {
	type plain Reference
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	var literal struct {
		Reference *string `json:"reference"`
	}
	if err := json.Unmarshal(data, &literal); err != nil {
		return err
	}
	*r = Reference(decoded)
	r.blank = literal.Reference != nil && *literal.Reference == ""
	return nil
}

// Literal returns the literal reference and whether one was given. An
// explicit empty reference counts as given.
func (r *Reference) Literal() (string, bool) {
	if r == nil {
		return "", false
	}
	return r.Reference, r.Reference != "" || r.blank
}

// Split returns the type and id of a literal "Type/id" reference.
func (r *Reference) Split() (resourceType, id string, ok bool) {
	if r == nil {
		return "", "", false
	}
	parts := strings.Split(r.Reference, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
	Period *Period  `json:"period,omitempty"`
}

type ContactPoint struct {
	System string  `json:"system,omitempty"`
	Value  string  `json:"value,omitempty"`
	Use    string  `json:"use,omitempty"`
	Rank   int     `json:"rank,omitempty"`
	Period *Period `json:"period,omitempty"`
}

type Address struct {
	Use        string   `json:"use,omitempty"`
	Type       string   `json:"type,omitempty"`
	Text       string   `json:"text,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	District   string   `json:"district,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
	Period     *Period  `json:"period,omitempty"`
}

type Quantity struct {
	Value      *float64 `json:"value,omitempty"`
	Comparator string   `json:"comparator,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	System     string   `json:"system,omitempty"`
	Code       string   `json:"code,omitempty"`
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseDateTime parses the FHIR date and dateTime forms, including the
// partial year and year-month precisions.
func ParseDateTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
