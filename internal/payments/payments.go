package payments

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/observability"
)

// TransferRequest is one value transfer. Memo must be unique per attempt;
// backends use it as their idempotency key.
type TransferRequest struct {
	To          string
	AmountCents int64
	FeeCents    int64
	Memo        string
}

// Transferrer executes a single transfer and reports the receipt height.
type Transferrer interface {
	Transfer(ctx context.Context, req TransferRequest) (uint64, error)
}

// LegError reports which leg of a payment failed. The other leg may well
// have succeeded; callers must retry only the failed one.
type LegError struct {
	Leg models.LegKind
	Err error
}

func (e *LegError) Error() string { return fmt.Sprintf("payment leg %s failed: %v", e.Leg, e.Err) }
func (e *LegError) Unwrap() error { return e.Err }

// SplitFee divides the ride price into the driver fee and the platform fee.
// The platform takes feePct; rounding goes in the driver's favor.
func SplitFee(priceCents int64, feePct float64) (driverCents, platformCents int64) {
	platformCents = int64(math.Floor(float64(priceCents) * feePct))
	driverCents = priceCents - platformCents
	return driverCents, platformCents
}

// Coordinator drives the two transfer legs of a ride payment. Each leg is
// tracked individually; MakePayments only ever issues transfers for legs
// that have not yet succeeded, with a fresh memo per attempt.
type Coordinator struct {
	transfer        Transferrer
	feePct          float64
	platformAccount string

	legs map[models.LegKind]*models.TransferLeg
}

func NewCoordinator(t Transferrer, feePct float64, platformAccount string) *Coordinator {
	return &Coordinator{
		transfer:        t,
		feePct:          feePct,
		platformAccount: platformAccount,
		legs:            make(map[models.LegKind]*models.TransferLeg),
	}
}

// RestoreLeg marks a leg as already succeeded, used when resuming a session
// that recorded the receipt height before the process went away.
func (c *Coordinator) RestoreLeg(kind models.LegKind, txHeight uint64) {
	c.legs[kind] = &models.TransferLeg{Kind: kind, State: models.LegSucceeded, TxHeight: txHeight}
}

// Legs returns a snapshot of both legs in a fixed order.
func (c *Coordinator) Legs() []models.TransferLeg {
	out := make([]models.TransferLeg, 0, 2)
	for _, k := range []models.LegKind{models.LegDriverFee, models.LegPlatformFee} {
		if l, ok := c.legs[k]; ok {
			out = append(out, *l)
		}
	}
	return out
}

// Settled reports whether both legs have succeeded.
func (c *Coordinator) Settled() bool {
	for _, k := range []models.LegKind{models.LegDriverFee, models.LegPlatformFee} {
		l, ok := c.legs[k]
		if !ok || l.State != models.LegSucceeded {
			return false
		}
	}
	return true
}

// MakePayments issues the driver-fee and platform-fee transfers for the
// ride. Already-succeeded legs are never re-sent. On a leg failure the
// remaining legs are still attempted, and the first failure is returned as
// a *LegError so the caller can surface a retry.
func (c *Coordinator) MakePayments(ctx context.Context, ride *models.Ride) error {
	driverCents, platformCents := SplitFee(ride.PriceCents, c.feePct)
	plan := []struct {
		kind   models.LegKind
		to     string
		amount int64
	}{
		{models.LegDriverFee, ride.AssignedDriver, driverCents},
		{models.LegPlatformFee, c.platformAccount, platformCents},
	}

	var firstErr *LegError
	for _, p := range plan {
		leg := c.legs[p.kind]
		if leg != nil && leg.State == models.LegSucceeded {
			continue
		}
		memo := legMemo(ride.ID, p.kind)
		leg = &models.TransferLeg{Kind: p.kind, To: p.to, AmountCents: p.amount, Memo: memo, State: models.LegPending}
		c.legs[p.kind] = leg

		height, err := c.transfer.Transfer(ctx, TransferRequest{To: p.to, AmountCents: p.amount, Memo: memo})
		if err != nil {
			leg.State = models.LegFailed
			observability.PaymentLegAttempts.WithLabelValues(string(p.kind), "failed").Inc()
			if firstErr == nil {
				firstErr = &LegError{Leg: p.kind, Err: err}
			}
			continue
		}
		leg.State = models.LegSucceeded
		leg.TxHeight = height
		observability.PaymentLegAttempts.WithLabelValues(string(p.kind), "succeeded").Inc()
	}
	if firstErr != nil {
		return firstErr
	}
	return nil
}

func legMemo(rideID string, kind models.LegKind) string {
	return rideID + ":" + string(kind) + ":" + uuid.NewString()
}
