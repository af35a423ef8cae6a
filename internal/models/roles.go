package models

import "strings"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

type Capability string

const (
	CapManageReservations Capability = "reservations:manage"
	CapCancelAny          Capability = "reservations:cancel-any"
	CapViewReports        Capability = "reports:view"
	CapScanCheckin        Capability = "checkin:scan"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin:   {CapManageReservations, CapCancelAny, CapViewReports, CapScanCheckin},
	RoleManager: {CapManageReservations, CapCancelAny, CapScanCheckin},
}

// ParseRole normalizes a stored role name; unknown or empty roles become RoleUser.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleManager:
		return r
	}
	return RoleUser
}

func (r Role) Permits(c Capability) bool {
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}

// Requester is the authenticated caller as supplied by the identity layer.
type Requester struct {
	UserID string
	Role   Role
}

func (r Requester) Permits(c Capability) bool {
	return r.Role.Permits(c)
}

func (r Requester) Owns(userID string) bool {
	return r.UserID != "" && r.UserID == userID
}
