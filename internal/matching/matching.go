package matching

import (
	"context"
	"sort"

	"github.com/example/ride-negotiation/internal/eta"
	"github.com/example/ride-negotiation/internal/geo"
	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/observability"
)

type Geo interface {
	Nearby(lat, lon float64, limit int) []models.Driver
}

// Service produces driver candidates for a rider's route, scored by ETA
// and rating and returned already sorted. Every candidate carries the same
// quoted price, derived from the pickup-to-dropoff distance; ETA only
// affects ranking. Zero candidates is a valid outcome, not an error.
type Service struct {
	Geo             Geo
	DefaultSpeedMps float64
	TopN            int
	ETAClient       eta.Client // optional OSRM client
	ETACache        *eta.Cache // optional ETA cache

	BaseFareCents int64
	PerKmCents    int64
}

func (s *Service) RequestDrivers(ctx context.Context, account string, pickup, dropoff models.Coord) ([]models.DriverCandidate, error) {
	if s.TopN <= 0 {
		s.TopN = 10
	}
	cands := s.Geo.Nearby(pickup.Lat, pickup.Lon, s.TopN)
	observability.CandidatesServed.Observe(float64(len(cands)))
	if len(cands) == 0 {
		return nil, nil
	}
	var tripMeters float64
	if dropoff != (models.Coord{}) {
		tripMeters = geo.Haversine(pickup.Lat, pickup.Lon, dropoff.Lat, dropoff.Lon)
	}
	quote := eta.QuoteFareCents(tripMeters, s.BaseFareCents, s.PerKmCents)

	type scored struct {
		d      models.Driver
		etaSec float64
		cost   float64
	}
	scoredList := make([]scored, 0, len(cands))
	for _, d := range cands {
		etaSec := s.estimate(d.Loc, pickup)
		cost := etaSec + 30.0*(5.0-d.Rating) // cost = w1*eta + w2*(5 - rating)
		scoredList = append(scoredList, scored{d, etaSec, cost})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].cost < scoredList[j].cost })

	out := make([]models.DriverCandidate, 0, len(scoredList))
	for _, sc := range scoredList {
		out = append(out, models.DriverCandidate{
			Name:       sc.d.Name,
			Contact:    sc.d.Contact,
			CarNo:      sc.d.CarNo,
			Rating:     sc.d.Rating,
			EthAddress: sc.d.ID,
			PriceCents: quote,
			ETASeconds: sc.etaSec,
		})
	}
	return out, nil
}

func (s *Service) estimate(from, to models.Coord) float64 {
	if s.ETACache != nil {
		if v, ok := s.ETACache.Get(from, to); ok {
			return v
		}
	}
	if s.ETAClient != nil {
		if v, err := s.ETAClient.EstimateSeconds(from, to); err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(from, to, v)
			}
			return v
		}
		// fallback to naive estimator
	}
	return eta.EstimateSeconds(from, to, s.DefaultSpeedMps)
}
