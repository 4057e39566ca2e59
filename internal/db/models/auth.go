package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// User is a local login principal. Roles are stored comma-joined and parsed
// leniently when a token is issued.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID             string     `bun:"id,pk"`
	Username       string     `bun:"username,notnull,unique"`
	PasswordHash   string     `bun:"password_hash,notnull"`
	Roles          string     `bun:"roles,notnull,default:''"`
	PatientID      *string    `bun:"patient_id"`
	OrganizationID *string    `bun:"organization_id"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt    *time.Time `bun:"last_login_at"`
	DisabledAt     *time.Time `bun:"disabled_at"`
}

// RoleNames splits the stored role list.
func (u *User) RoleNames() []string {
	if u == nil || strings.TrimSpace(u.Roles) == "" {
		return nil
	}
	parts := strings.Split(u.Roles, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// SetRoleNames stores names comma-joined.
func (u *User) SetRoleNames(names []string) {
	u.Roles = strings.Join(names, ",")
}

// Disabled reports whether the account may no longer log in.
func (u *User) Disabled() bool {
	return u != nil && u.DisabledAt != nil
}
