package models

import "time"

type CheckinToken struct {
	ID            string     `bson:"_id" json:"id"`
	ReservationID string     `bson:"reservation_id" json:"reservation_id"`
	UserID        string     `bson:"user_id" json:"user_id"`
	ResourceID    string     `bson:"resource_id" json:"resource_id"`
	Payload       string     `bson:"payload" json:"payload"`
	Consumed      bool       `bson:"consumed" json:"consumed"`
	ConsumedAt    *time.Time `bson:"consumed_at,omitempty" json:"consumed_at,omitempty"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
}
