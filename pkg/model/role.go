package model

// Role represents the permission level attached to an API token.
type Role int

const (
	RoleViewer     Role = iota // Read-only dashboard access
	RoleModerator              // Can issue and revoke bans, prune violations
	RoleAdmin                  // Moderator rights plus settings changes
	RoleGameServer             // Reports violations and player connect/disconnect
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	case RoleGameServer:
		return "gameserver"
	default:
		return "unknown"
	}
}

// ParseRole converts a string to a Role. Unknown names map to RoleViewer.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	case "moderator":
		return RoleModerator
	case "gameserver", "game_server":
		return RoleGameServer
	default:
		return RoleViewer
	}
}

// Valid returns true if the role is a recognised value.
func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleGameServer
}

// MarshalYAML writes the role by name.
func (r Role) MarshalYAML() (any, error) {
	return r.String(), nil
}

// UnmarshalYAML reads a role by name.
func (r *Role) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*r = ParseRole(s)
	return nil
}
