package models

import "time"

type Availability string

const (
	AvailabilityAvailable   Availability = "available"
	AvailabilityReserved    Availability = "reserved"
	AvailabilityMaintenance Availability = "maintenance"
)

// Resource is the catalog view of a bookable field.
type Resource struct {
	ID          string  `json:"id" validate:"required"`
	Name        string  `json:"name"`
	HourlyRate  float64 `json:"price_per_hour" validate:"gte=0"`
	Maintenance bool    `json:"maintenance"`
}

// ResourceStatus is the stored availability flag. LockSeq is bumped by every
// resource-scoped unit of work so that concurrent ones conflict.
type ResourceStatus struct {
	ResourceID   string       `bson:"_id" json:"resource_id"`
	Availability Availability `bson:"availability" json:"availability"`
	LockSeq      int64        `bson:"lock_seq" json:"-"`
	UpdatedAt    time.Time    `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

type ResourceAvailability struct {
	ResourceID         string       `json:"resource_id"`
	Availability       Availability `json:"availability"`
	ActiveReservations int64        `json:"active_reservations"`
	Repaired           bool         `json:"repaired,omitempty"`
}

func DeriveAvailability(maintenance bool, active int64) Availability {
	switch {
	case maintenance:
		return AvailabilityMaintenance
	case active > 0:
		return AvailabilityReserved
	default:
		return AvailabilityAvailable
	}
}
