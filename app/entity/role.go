package entity

import (
	"fmt"
	"strings"
)

// Role ids match the seeded rows of the roles table.
type Role uint8

const (
	RoleUser      Role = 1
	RoleModerator Role = 2
	RoleAdmin     Role = 3
)

var AllRoles = []Role{RoleUser, RoleModerator, RoleAdmin}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) Valid() bool {
	return r >= RoleUser && r <= RoleAdmin
}

func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "user":
		return RoleUser, nil
	case "moderator":
		return RoleModerator, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("unknown role %q", name)
}

type Roles []Role

func (rs Roles) Has(role Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// CanManageUsers gates destructive user administration.
func (rs Roles) CanManageUsers() bool {
	return rs.Has(RoleAdmin)
}

func (rs Roles) Names() []string {
	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, r.String())
	}
	return names
}
