// Package operator holds the single bootstrap account that
// authenticates against the Trigger API (C9), per SPEC_FULL.md §4.5.
package operator

import "time"

// Operator is the bootstrap account seeded from OPERATOR_EMAIL /
// OPERATOR_PASSWORD at startup. There is exactly one role: "operator".
type Operator struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Role is the sole RBAC role this API recognizes.
const Role = "operator"
