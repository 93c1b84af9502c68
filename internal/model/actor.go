package model

import "time"

// Role classifies an actor.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleManager    Role = "MANAGER"
	RoleCreator    Role = "CREATOR"
)

// Actor is a resolved identity shared by manager and creator records.
// Empty UID, Name and Email mean the value is absent (NULL in the store).
type Actor struct {
	ID            int64     `db:"id" json:"id"`
	UID           string    `db:"uid" json:"uid,omitempty"`
	Username      string    `db:"username" json:"username"`
	Name          string    `db:"name" json:"name,omitempty"`
	Email         string    `db:"email" json:"email,omitempty"`
	EmailVerified bool      `db:"email_verified" json:"email_verified"`
	Role          Role      `db:"role" json:"role"`
	Password      string    `db:"password" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
