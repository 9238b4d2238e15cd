package domain

import "time"

// StaffRole enumerates clinic operator roles.
type StaffRole string

const (
	StaffRoleFrontDesk StaffRole = "FRONT_DESK"
	StaffRoleProvider  StaffRole = "PROVIDER"
	StaffRoleAdmin     StaffRole = "ADMIN"
)

// StaffMember is a clinic user allowed into the inbox.
type StaffMember struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         StaffRole
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
