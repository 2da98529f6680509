package lifecycle

import "github.com/DKmica/TreeProAIv2-sub008/errors"

// Role is the capability an actor carries when requesting a transition.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSales    Role = "sales"
	RoleDispatch Role = "dispatch"
	RoleCrew     Role = "crew"
	RoleOffice   Role = "office"

	// RoleSystem is used by internal producers (recurrence generator,
	// automation actions) and passes every role gate.
	RoleSystem Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSales, RoleDispatch, RoleCrew, RoleOffice, RoleSystem:
		return true
	}
	return false
}

// ParseRole converts a string into a Role, rejecting unknown values.
func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	if !r.Valid() {
		return "", errors.Newf("unknown actor role %q", raw)
	}
	return r, nil
}

// Actor identifies who is requesting a transition.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor is the actor recorded for machine-initiated transitions.
var SystemActor = Actor{ID: "system", Role: RoleSystem}
