package auth

import (
	"fmt"
	"strconv"

	"github.com/mitchellh/mapstructure"

	"github.com/terraconstructs/fhirapi/internal/authz"
)

// Claims is the identity bundle carried by an access token.
type Claims struct {
	Subject        string   `mapstructure:"sub"`
	Roles          []string `mapstructure:"roles"`
	PatientID      string   `mapstructure:"patient_id"`
	OrganizationID string   `mapstructure:"organization_id"`
	IssuedAt       int64    `mapstructure:"iat"`
	ExpiresAt      int64    `mapstructure:"exp"`
}

// ClaimsFromMap decodes verified JWT claims. Numeric dates may arrive as
// float64 or json.Number and a lone role string is accepted as a
// one-element list.
func ClaimsFromMap(raw map[string]any) (*Claims, error) {
	var c Claims
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &c,
	})
	if err != nil {
		return nil, fmt.Errorf("create claims decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("claim field sub is empty")
	}
	return &c, nil
}

// ToMap returns the claims as JWT claim fields. Empty optional fields are
// omitted.
func (c *Claims) ToMap() map[string]any {
	m := map[string]any{
		"sub":   c.Subject,
		"roles": append([]string{}, c.Roles...),
		"iat":   c.IssuedAt,
		"exp":   c.ExpiresAt,
	}
	if c.PatientID != "" {
		m["patient_id"] = c.PatientID
	}
	if c.OrganizationID != "" {
		m["organization_id"] = c.OrganizationID
	}
	return m
}

// SecurityContext converts the bundle for the authorization core. Unknown
// role names are dropped.
func (c *Claims) SecurityContext() *authz.SecurityContext {
	sc := authz.NewWithRoleSet(c.Subject, authz.ParseRoles(c.Roles))
	if c.PatientID != "" {
		sc = sc.WithPatientID(c.PatientID)
	}
	if c.OrganizationID != "" {
		sc = sc.WithOrganizationID(c.OrganizationID)
	}
	return sc.WithClaims(map[string]string{
		"iat": strconv.FormatInt(c.IssuedAt, 10),
		"exp": strconv.FormatInt(c.ExpiresAt, 10),
	})
}
