package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// GroupRoles maps a group name to the ordered roles a user holds in it.
// Stored as a JSON column on the users table.
type GroupRoles map[string][]string

// Has reports whether at least one role is held in group.
func (gr GroupRoles) Has(group string) bool { return len(gr[group]) > 0 }

// RolesIn returns a copy of the roles held in group.
func (gr GroupRoles) RolesIn(group string) []string {
	return append([]string(nil), gr[group]...)
}

// Groups returns the groups with at least one role, sorted.
func (gr GroupRoles) Groups() []string {
	out := make([]string, 0, len(gr))
	for g, roles := range gr {
		if len(roles) > 0 {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

// Grant appends role to group unless already present. It reports whether
// the map changed.
func (gr GroupRoles) Grant(group, role string) bool {
	for _, r := range gr[group] {
		if r == role {
			return false
		}
	}
	gr[group] = append(gr[group], role)
	return true
}

// Clone returns a deep copy.
func (gr GroupRoles) Clone() GroupRoles {
	out := make(GroupRoles, len(gr))
	for g, roles := range gr {
		out[g] = append([]string(nil), roles...)
	}
	return out
}

// Value implements driver.Valuer.
func (gr GroupRoles) Value() (driver.Value, error) {
	if gr == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(gr)
}

// Scan implements sql.Scanner.
func (gr *GroupRoles) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*gr = GroupRoles{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("model: unsupported roles column type")
	}
	m := GroupRoles{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
	}
	*gr = m
	return nil
}

// User mirrors the `users` table.
type User struct {
	ID             uint64     `json:"-"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	Email          string     `json:"email,omitempty"`
	Mobile         string     `json:"mobile,omitempty"`
	CountryCode    string     `json:"countryCode,omitempty"`
	PasswordHash   string     `json:"-"`
	EmailVerified  bool       `json:"emailVerified"`
	MobileVerified bool       `json:"mobileVerified"`
	Roles          GroupRoles `json:"roles"`
	Avatar         string     `json:"avatar,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Sanitized returns a copy safe to hand to clients.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.Roles = u.Roles.Clone()
	return u
}
