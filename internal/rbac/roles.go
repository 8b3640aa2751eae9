package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// CallRoles may place and control calls.
var CallRoles = []string{RoleUser, RoleAgent}

func IsAdmin(role string) bool { return role == RoleAdmin }
