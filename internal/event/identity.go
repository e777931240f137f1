package event

// Role is the identity system's role name for a user.
type Role string

// Known roles. Anything else is treated as an ordinary user.
const (
	RoleUser       Role = "user"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Privileged reports whether the role may perform moderation actions.
func (r Role) Privileged() bool {
	switch r {
	case RoleModerator, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// Identity is the already-authenticated actor supplied by the identity
// system. The hub trusts it verbatim.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Valid reports whether the identity carries the fields a join requires.
func (i Identity) Valid() bool {
	return i.UserID > 0 && i.Username != ""
}
