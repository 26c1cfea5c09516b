package signals

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/shrike/internal/domain"
)

const earthRadiusKm = 6371.0

// Geo flags physically implausible travel between the most recent located
// baseline transaction and the current one.
type Geo struct {
	cfg domain.GeoConfig
}

func NewGeo(cfg domain.GeoConfig) *Geo {
	return &Geo{cfg: cfg}
}

func (g *Geo) Name() string { return "geo_velocity" }

func (g *Geo) Evaluate(_ context.Context, tx *domain.Transaction, baseline *domain.UserProfile) domain.Signal {
	if !tx.Location.HasCoords {
		return neutral(g.Name(), "no location on transaction")
	}

	prev, ok := lastLocated(baseline)
	if !ok {
		return neutral(g.Name(), "no located history")
	}

	km := haversineKm(prev.Location.Lat, prev.Location.Lon, tx.Location.Lat, tx.Location.Lon)
	elapsed := tx.Timestamp.Sub(prev.Timestamp)

	if elapsed <= 0 {
		if km < 1 {
			return neutral(g.Name(), "no movement")
		}
		return domain.Signal{
			Evaluator: g.Name(),
			Score:     1.0,
			Rationale: fmt.Sprintf("%.0f km with no elapsed time", km),
		}
	}

	speed := km / elapsed.Hours()
	ratio := speed / g.cfg.MaxSpeedKmh

	var score float64
	switch {
	case ratio >= 1:
		score = 1.0
	case ratio > 0.5:
		score = (ratio - 0.5) * 2
	}

	return domain.Signal{
		Evaluator: g.Name(),
		Score:     score,
		Rationale: fmt.Sprintf("%.0f km in %s implies %.0f km/h", km, elapsed.Round(1e9), speed),
	}
}

func lastLocated(baseline *domain.UserProfile) (*domain.Transaction, bool) {
	for i := len(baseline.History) - 1; i >= 0; i-- {
		if baseline.History[i].Location.HasCoords {
			return &baseline.History[i], true
		}
	}
	return nil, false
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
