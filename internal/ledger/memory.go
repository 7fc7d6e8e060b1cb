package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-negotiation/internal/eta"
	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/observability"
)

// Memory is the reference Ledger: a mutex-guarded map that arbitrates all
// writes, optionally writing through to a RideStore and emitting events to
// an EventSink. Both extras are best-effort and may be nil.
type Memory struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride

	Store  RideStore
	Events EventSink

	// fare rates for rides registered without a price
	BaseFareCents int64
	PerKmCents    int64
}

func NewMemory() *Memory {
	return &Memory{rides: make(map[string]*models.Ride), BaseFareCents: 250, PerKmCents: 120}
}

func (m *Memory) RegisterRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return nil
	}
	cp := *r
	if cp.Status == "" {
		cp.Status = models.StatusRequested
	}
	// price derives from the trip distance unless the caller quotes one
	if cp.PriceCents == 0 && cp.DistanceMeters > 0 {
		cp.PriceCents = eta.QuoteFareCents(cp.DistanceMeters, m.BaseFareCents, m.PerKmCents)
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.rides[cp.ID] = &cp
	if m.Store != nil {
		_ = m.Store.SaveRide(&cp)
	}
	m.emit(cp.ID, "registered", cp.RiderAddress, cp.Status)
	return nil
}

func (m *Memory) GetRide(ctx context.Context, rideID string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) AssignDriver(ctx context.Context, rideID, driverAddr string, priceCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	if r.AssignedDriver != "" {
		if r.AssignedDriver == driverAddr {
			// idempotent re-accept; a quote may still fill a missing price
			if r.PriceCents == 0 && priceCents > 0 {
				r.PriceCents = priceCents
				m.touch(r)
			}
			return nil
		}
		observability.AssignConflicts.Inc()
		return ErrConflict
	}
	if !r.Status.CanTransition(models.StatusDriverSelected) {
		return ErrTransition
	}
	r.AssignedDriver = driverAddr
	if r.PriceCents == 0 && priceCents > 0 {
		r.PriceCents = priceCents
	}
	r.Status = models.StatusDriverSelected
	m.touch(r)
	m.emit(rideID, "assigned", driverAddr, r.Status)
	return nil
}

func (m *Memory) SetRiderConfirmation(ctx context.Context, rideID, actor string, confirmed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Terminal() {
		return ErrTransition
	}
	r.RiderConfirmation = confirmed
	m.afterConfirmation(r)
	m.emit(rideID, "rider_confirmed", actor, r.Status)
	return nil
}

func (m *Memory) SetDriverConfirmation(ctx context.Context, rideID, actor string, confirmed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Terminal() {
		return ErrTransition
	}
	r.DriverConfirmation = confirmed
	m.afterConfirmation(r)
	m.emit(rideID, "driver_confirmed", actor, r.Status)
	return nil
}

// afterConfirmation promotes the ride to pickup_confirmed once both flags
// are set. Caller holds the lock.
func (m *Memory) afterConfirmation(r *models.Ride) {
	if r.RiderConfirmation && r.DriverConfirmation && r.Status.CanTransition(models.StatusPickupConfirmed) {
		r.Status = models.StatusPickupConfirmed
	}
	m.touch(r)
}

func (m *Memory) CompleteRide(ctx context.Context, rideID, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	if r.Status == models.StatusCompleted {
		return nil // both participants may independently record completion
	}
	// dropoff presumes a confirmed pickup
	if r.Status != models.StatusPickupConfirmed && r.Status != models.StatusDropoffConfirmed {
		return ErrTransition
	}
	if r.Status == models.StatusPickupConfirmed {
		r.Status = models.StatusDropoffConfirmed
		m.touch(r)
		m.emit(rideID, "dropoff_confirmed", actor, r.Status)
	}
	r.Status = models.StatusCompleted
	m.touch(r)
	m.emit(rideID, "completed", actor, r.Status)
	return nil
}

func (m *Memory) CancelRide(ctx context.Context, rideID, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	if r.Status == models.StatusCancelled {
		return nil
	}
	if !r.Status.CanTransition(models.StatusCancelled) {
		return ErrTransition
	}
	r.Status = models.StatusCancelled
	m.touch(r)
	m.emit(rideID, "cancelled", actor, r.Status)
	return nil
}

func (m *Memory) PendingForDriver(ctx context.Context, driverAddr string) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status.Terminal() {
			continue
		}
		if r.AssignedDriver == driverAddr && !r.DriverConfirmation {
			cp := *r
			out = append(out, &cp)
			continue
		}
		if r.AssignedDriver == "" && r.Status == models.StatusRequested {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) touch(r *models.Ride) {
	r.UpdatedAt = time.Now()
	if m.Store != nil {
		_ = m.Store.UpdateRide(r)
	}
}

func (m *Memory) emit(rideID, kind, actor string, status models.RideStatus) {
	if m.Events == nil {
		return
	}
	_ = m.Events.PublishRideEvent(models.RideEvent{
		RideID:    rideID,
		Kind:      kind,
		Actor:     actor,
		Status:    status,
		Timestamp: time.Now(),
	})
}
