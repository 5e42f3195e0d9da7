package carrier

import "time"

// Profile is a carrier as offered to shippers. Latitude and Longitude come
// from the last reported live location and are nil when the carrier never
// reported one.
type Profile struct {
	ID                string
	UserID            *string
	CompanyName       string
	Email             string
	Phone             string
	VehicleType       string
	CapacityTons      *float64
	AvailableRoutes   []string
	InsuranceCoverage string
	Rating            float64
	Latitude          *float64
	Longitude         *float64
	LocatedAt         *time.Time
	CreatedAt         time.Time
}

// Match is a search hit ranked by distance from the pickup city.
type Match struct {
	Profile    Profile
	DistanceKM *float64
	TravelTime string
}
