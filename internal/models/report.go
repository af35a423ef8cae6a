package models

type DailyRevenue struct {
	Date     string  `bson:"_id" json:"date"`
	Revenue  float64 `bson:"revenue" json:"total_revenue"`
	Bookings int64   `bson:"bookings" json:"bookings"`
}

type RevenueSummary struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	TotalRevenue float64 `json:"total_revenue"`
	Bookings     int64   `json:"bookings"`
}
