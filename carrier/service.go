package carrier

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ProfileReader abstracts repository operations for the service.
type ProfileReader interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
	ByRoute(ctx context.Context, city string, limit int) ([]Profile, error)
}

// Coordinates is a point in decimal degrees.
type Coordinates struct {
	Lat float64
	Lng float64
}

// KnownCities maps lower-case city names to their coordinates.
var KnownCities = map[string]Coordinates{
	"chennai":    {13.0827, 80.2707},
	"coimbatore": {11.0168, 76.9558},
	"madurai":    {9.9252, 78.1198},
	"trichy":     {10.7905, 78.7047},
	"bangalore":  {12.9716, 77.5946},
	"hyderabad":  {17.3850, 78.4867},
	"mumbai":     {19.0760, 72.8777},
}

const (
	earthRadiusKM = 6371.0
	averageKMH    = 60.0
	searchLimit   = 10
)

// Service exposes business-level carrier operations.
type Service struct {
	repo ProfileReader
}

// NewService builds a Service using the provided repository.
func NewService(repo ProfileReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the carrier profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit carrier profiles.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.List(ctx, limit)
}

// Search finds carriers serving the pickup location and ranks them by
// distance from it. Carriers without a known position are listed last.
// An empty source yields no matches.
func (s *Service) Search(ctx context.Context, source string) ([]Match, error) {
	city := CityOf(source)
	if city == "" {
		return []Match{}, nil
	}

	profiles, err := s.repo.ByRoute(ctx, city, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("carrier: search %q: %w", city, err)
	}

	origin, known := KnownCities[strings.ToLower(city)]
	matches := make([]Match, 0, len(profiles))
	for _, p := range profiles {
		m := Match{Profile: p, TravelTime: "N/A"}
		if known && p.Latitude != nil && p.Longitude != nil {
			d := Haversine(origin, Coordinates{Lat: *p.Latitude, Lng: *p.Longitude})
			m.DistanceKM = &d
			m.TravelTime = travelTime(d)
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i].DistanceKM, matches[j].DistanceKM
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return matches, nil
}

// CityOf returns the first comma-separated part of a location.
func CityOf(location string) string {
	city, _, _ := strings.Cut(location, ",")
	return strings.TrimSpace(city)
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(a, b Coordinates) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(b.Lat - a.Lat)
	dLng := rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func travelTime(km float64) string {
	hours := km / averageKMH
	whole := math.Floor(hours)
	minutes := math.Round((hours - whole) * 60)
	if minutes == 60 {
		whole++
		minutes = 0
	}
	return fmt.Sprintf("%dh %dm", int(whole), int(minutes))
}
