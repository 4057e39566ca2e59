package authz

import (
	"strconv"
	"strings"
)

// Role is the class of actor making a request.
type Role uint8

const (
	RoleAdmin Role = iota
	RoleClinician
	RolePatient
	RoleSystem

	roleCount
)

var roleNames = [roleCount]string{
	RoleAdmin:     "Admin",
	RoleClinician: "Clinician",
	RolePatient:   "Patient",
	RoleSystem:    "System",
}

func (r Role) String() string {
	if r >= roleCount {
		return "Role(" + strconv.Itoa(int(r)) + ")"
	}
	return roleNames[r]
}

// ParseRole maps a role name from a token to a Role. Unknown names are
// reported with ok=false.
func ParseRole(name string) (Role, bool) {
	for r, n := range roleNames {
		if n == name {
			return Role(r), true
		}
	}
	return 0, false
}

// RoleSet is a bitset over the closed Role enumeration.
type RoleSet uint8

// NewRoleSet builds a set from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s = s.With(r)
	}
	return s
}

// ParseRoles builds a set from role names, silently dropping names it does
// not recognise.
func ParseRoles(names []string) RoleSet {
	var s RoleSet
	for _, name := range names {
		if r, ok := ParseRole(name); ok {
			s = s.With(r)
		}
	}
	return s
}

func (s RoleSet) With(r Role) RoleSet {
	if r >= roleCount {
		return s
	}
	return s | 1<<r
}

func (s RoleSet) Has(r Role) bool {
	return r < roleCount && s&(1<<r) != 0
}

// HasAny reports whether s and other share at least one role.
func (s RoleSet) HasAny(other RoleSet) bool { return s&other != 0 }

// HasAll reports whether s contains every role in other.
func (s RoleSet) HasAll(other RoleSet) bool { return s&other == other }

func (s RoleSet) IsEmpty() bool { return s == 0 }

// Roles lists the members in declaration order.
func (s RoleSet) Roles() []Role {
	roles := make([]Role, 0, roleCount)
	for r := Role(0); r < roleCount; r++ {
		if s.Has(r) {
			roles = append(roles, r)
		}
	}
	return roles
}

// Names lists the member names in declaration order.
func (s RoleSet) Names() []string {
	roles := s.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return names
}

func (s RoleSet) String() string {
	return "{" + strings.Join(s.Names(), ",") + "}"
}

// Permission is the action being authorized, independent of resource type.
type Permission uint8

const (
	PermissionRead Permission = iota
	PermissionCreate
	PermissionUpdate
	PermissionDelete
	PermissionSearch
	PermissionReadHistory

	permissionCount
)

var permissionNames = [permissionCount]string{
	PermissionRead:        "Read",
	PermissionCreate:      "Create",
	PermissionUpdate:      "Update",
	PermissionDelete:      "Delete",
	PermissionSearch:      "Search",
	PermissionReadHistory: "ReadHistory",
}

func (p Permission) String() string {
	if p >= permissionCount {
		return "Permission(" + strconv.Itoa(int(p)) + ")"
	}
	return permissionNames[p]
}

// Permissions lists every permission in declaration order.
func Permissions() []Permission {
	perms := make([]Permission, permissionCount)
	for i := range perms {
		perms[i] = Permission(i)
	}
	return perms
}

// AllRoles lists every role in declaration order.
func AllRoles() []Role {
	roles := make([]Role, roleCount)
	for i := range roles {
		roles[i] = Role(i)
	}
	return roles
}

type permissionSet uint8

func permissions(perms ...Permission) permissionSet {
	var s permissionSet
	for _, p := range perms {
		s |= 1 << p
	}
	return s
}

var allPermissions = permissionSet(1<<permissionCount - 1)

// rolePermissions is the static role to permission matrix. It is never
// written after initialisation.
var rolePermissions = [roleCount]permissionSet{
	RoleAdmin: allPermissions,
	RoleClinician: permissions(
		PermissionRead, PermissionCreate, PermissionUpdate, PermissionSearch, PermissionReadHistory,
	),
	RolePatient: permissions(PermissionRead, PermissionSearch, PermissionReadHistory),
	RoleSystem:  allPermissions,
}

// RoleGrants reports whether role is granted perm by the matrix.
func RoleGrants(role Role, perm Permission) bool {
	if role >= roleCount || perm >= permissionCount {
		return false
	}
	return rolePermissions[role]&(1<<perm) != 0
}

// Grants reports whether any role in the set is granted perm.
func (s RoleSet) Grants(perm Permission) bool {
	for r := Role(0); r < roleCount; r++ {
		if s.Has(r) && RoleGrants(r, perm) {
			return true
		}
	}
	return false
}
