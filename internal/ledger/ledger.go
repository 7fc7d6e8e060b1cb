package ledger

import (
	"context"
	"errors"

	"github.com/example/ride-negotiation/internal/models"
)

// The ledger is the source of truth for ride state and the sole arbiter of
// conflicting writes. Clients must treat its rejections as authoritative.
var (
	ErrNotFound   = errors.New("ride not found")
	ErrConflict   = errors.New("ride already assigned")
	ErrTransition = errors.New("illegal ride status transition")
)

// Ledger defines the canonical ride-state operations. Writes carry the
// caller's identity; reads are free-form.
type Ledger interface {
	// RegisterRide creates the ride if it does not exist, pricing it from
	// the trip distance when the caller supplies no price. Registering an
	// already-known ride id is a no-op so a re-entered request step never
	// creates a duplicate.
	RegisterRide(ctx context.Context, r *models.Ride) error

	GetRide(ctx context.Context, rideID string) (*models.Ride, error)

	// AssignDriver sets the assigned driver exactly once. Re-assigning the
	// same driver is a no-op success; a different driver gets ErrConflict.
	// priceCents fills a missing price and never overwrites one already on
	// the ride. Serves both the rider's accept-driver and the driver's
	// accept-ride paths.
	AssignDriver(ctx context.Context, rideID, driverAddr string, priceCents int64) error

	SetRiderConfirmation(ctx context.Context, rideID, actor string, confirmed bool) error
	SetDriverConfirmation(ctx context.Context, rideID, actor string, confirmed bool) error

	// CompleteRide is recorded by whichever participant triggers it first;
	// completing a completed ride is a no-op.
	CompleteRide(ctx context.Context, rideID, actor string) error

	CancelRide(ctx context.Context, rideID, actor string) error

	// PendingForDriver lists rides awaiting the given driver: rides the
	// rider requested of them plus unassigned open requests.
	PendingForDriver(ctx context.Context, driverAddr string) ([]*models.Ride, error)
}

// RideStore is the persistence sink behind the in-memory arbiter.
type RideStore interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
}

// EventSink receives ride lifecycle events on successful writes.
type EventSink interface {
	PublishRideEvent(ev models.RideEvent) error
}
