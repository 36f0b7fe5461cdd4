package domain

// Role is what the identity provider says the current user is.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Session is the authenticated caller: user id plus role. It is supplied by
// the identity provider and read-only from this service's perspective.
type Session struct {
	UserID string
	Role   Role
}

// CanViewAll reports whether the session may see every postulación rather
// than only its own.
func CanViewAll(s Session) bool {
	return s.Role == RoleAdmin
}

// CanAdminister reports whether the session may drive status transitions.
// Currently equivalent to CanViewAll, but callers must not assume that.
func CanAdminister(s Session) bool {
	return s.Role == RoleAdmin
}
