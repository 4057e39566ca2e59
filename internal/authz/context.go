package authz

import "maps"

// SystemUserID is the user id of the synthesized context used for trusted
// internal calls.
const SystemUserID = "system"

// SecurityContext carries the identity, roles and compartment attributes of
// one request. It is immutable: the With* helpers return modified copies.
// A nil *SecurityContext behaves as an anonymous context with no roles.
type SecurityContext struct {
	userID         string
	roles          RoleSet
	patientID      string
	hasPatientID   bool
	organizationID string
	hasOrgID       bool
	claims         map[string]string
}

// New builds a context for userID holding roles.
func New(userID string, roles ...Role) *SecurityContext {
	return &SecurityContext{userID: userID, roles: NewRoleSet(roles...)}
}

// NewWithRoleSet builds a context for userID holding an existing role set.
func NewWithRoleSet(userID string, roles RoleSet) *SecurityContext {
	return &SecurityContext{userID: userID, roles: roles}
}

// Admin builds an administrator context.
func Admin(userID string) *SecurityContext {
	return New(userID, RoleAdmin)
}

// Clinician builds a clinician context. An empty organizationID is treated
// as absent.
func Clinician(userID, organizationID string) *SecurityContext {
	sc := New(userID, RoleClinician)
	if organizationID != "" {
		sc.organizationID = organizationID
		sc.hasOrgID = true
	}
	return sc
}

// Patient builds a context restricted to the compartment of patientID.
func Patient(userID, patientID string) *SecurityContext {
	sc := New(userID, RolePatient)
	sc.patientID = patientID
	sc.hasPatientID = true
	return sc
}

// System builds the fixed context for trusted internal and background calls.
func System() *SecurityContext {
	return New(SystemUserID, RoleSystem)
}

func (c *SecurityContext) clone() *SecurityContext {
	if c == nil {
		return &SecurityContext{}
	}
	cp := *c
	cp.claims = maps.Clone(c.claims)
	return &cp
}

// WithPatientID returns a copy with the patient compartment set.
func (c *SecurityContext) WithPatientID(patientID string) *SecurityContext {
	cp := c.clone()
	cp.patientID = patientID
	cp.hasPatientID = true
	return cp
}

// WithOrganizationID returns a copy with the organization set.
func (c *SecurityContext) WithOrganizationID(organizationID string) *SecurityContext {
	cp := c.clone()
	cp.organizationID = organizationID
	cp.hasOrgID = true
	return cp
}

// WithClaims returns a copy with claims merged into the claim map.
func (c *SecurityContext) WithClaims(claims map[string]string) *SecurityContext {
	cp := c.clone()
	if cp.claims == nil {
		cp.claims = make(map[string]string, len(claims))
	}
	maps.Copy(cp.claims, claims)
	return cp
}

func (c *SecurityContext) UserID() string {
	if c == nil {
		return ""
	}
	return c.userID
}

func (c *SecurityContext) Roles() RoleSet {
	if c == nil {
		return 0
	}
	return c.roles
}

// PatientID returns the compartment the context is restricted to, if any.
func (c *SecurityContext) PatientID() (string, bool) {
	if c == nil || !c.hasPatientID {
		return "", false
	}
	return c.patientID, true
}

// OrganizationID is carried for callers; access decisions do not use it.
func (c *SecurityContext) OrganizationID() (string, bool) {
	if c == nil || !c.hasOrgID {
		return "", false
	}
	return c.organizationID, true
}

// Claim returns an advisory claim value.
func (c *SecurityContext) Claim(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.claims[key]
	return v, ok
}

// Claims returns a copy of the advisory claim map.
func (c *SecurityContext) Claims() map[string]string {
	if c == nil {
		return map[string]string{}
	}
	if c.claims == nil {
		return map[string]string{}
	}
	return maps.Clone(c.claims)
}

func (c *SecurityContext) HasRole(role Role) bool {
	return c.Roles().Has(role)
}

func (c *SecurityContext) HasAnyRole(roles ...Role) bool {
	return c.Roles().HasAny(NewRoleSet(roles...))
}

// HasAllRoles reports whether every listed role is held. An empty list is
// trivially satisfied.
func (c *SecurityContext) HasAllRoles(roles ...Role) bool {
	return c.Roles().HasAll(NewRoleSet(roles...))
}

func (c *SecurityContext) IsAdmin() bool     { return c.HasRole(RoleAdmin) }
func (c *SecurityContext) IsClinician() bool { return c.HasRole(RoleClinician) }
func (c *SecurityContext) IsPatient() bool   { return c.HasRole(RolePatient) }
func (c *SecurityContext) IsSystem() bool    { return c.HasRole(RoleSystem) }

// unrestricted reports whether the context bypasses instance checks.
func (c *SecurityContext) unrestricted() bool {
	return c.IsAdmin() || c.IsSystem()
}
