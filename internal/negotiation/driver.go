package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-negotiation/internal/handoff"
	"github.com/example/ride-negotiation/internal/ledger"
	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/session"
)

var driverSteps = []Step{
	StepAwaitingRideAcceptance,
	StepAwaitingPickupHandoff,
	StepAwaitingDropoffConfirmation,
	StepCompleted,
}

// DriverFlow walks a driver through a booking: accept an incoming ride
// (the ledger picks exactly one winner under contention), display the
// pickup handoff code while confirming arrival, and complete.
type DriverFlow struct {
	flowCore

	cfg   Config
	log   *slog.Logger
	sess  *session.State
	store session.Store

	ledger ledger.Ledger

	requests []*models.Ride
	selected *models.Ride
}

func NewDriverFlow(lg ledger.Ledger, store session.Store, sess *session.State, cfg Config, log *slog.Logger) *DriverFlow {
	f := &DriverFlow{
		cfg:    cfg.withDefaults(),
		log:    log,
		sess:   sess,
		store:  store,
		ledger: lg,
	}
	f.steps = driverSteps
	if sess.StepIndex > 0 && sess.StepIndex < len(f.steps) {
		f.idx = sess.StepIndex
	}
	return f
}

func (f *DriverFlow) Role() models.Role { return models.RoleDriver }

// LoadRequests lists rides awaiting this driver. An empty list surfaces
// ErrUnavailable and the step does not change.
func (f *DriverFlow) LoadRequests(ctx context.Context) error {
	if err := f.begin(); err != nil {
		return err
	}
	defer f.end()
	if f.steps[f.idx] != StepAwaitingRideAcceptance {
		return ErrNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	defer cancel()
	reqs, err := f.ledger.PendingForDriver(ctx, f.sess.Account)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return fmt.Errorf("pending rides: %w", err)
	}
	if len(reqs) == 0 {
		return ErrUnavailable
	}
	f.requests = reqs
	return nil
}

func (f *DriverFlow) Requests() []*models.Ride { return f.requests }

func (f *DriverFlow) SelectRequest(rideID string) error {
	if f.CurrentStep() != StepAwaitingRideAcceptance {
		return ErrNotReady
	}
	for _, r := range f.requests {
		if r.ID == rideID {
			f.selected = r
			f.sess.RideID = r.ID
			return nil
		}
	}
	return fmt.Errorf("%w: unknown ride %s", ErrNotReady, rideID)
}

// HandoffCode renders the QR code the rider scans at pickup.
func (f *DriverFlow) HandoffCode() (*handoff.Code, error) {
	if f.sess.RideID == "" {
		return nil, ErrNotReady
	}
	return handoff.Encode(f.sess.RideID)
}

func (f *DriverFlow) Advance(ctx context.Context) error {
	if err := f.begin(); err != nil {
		return err
	}
	defer f.end()
	if f.terminal() {
		return ErrNotReady
	}

	callCtx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	defer cancel()

	var err error
	switch f.steps[f.idx] {
	case StepAwaitingRideAcceptance:
		err = f.acceptRide(callCtx)
	case StepAwaitingPickupHandoff:
		err = f.confirmPickup(callCtx)
	case StepAwaitingDropoffConfirmation:
		err = f.completeRide(callCtx)
	default:
		return ErrNotReady
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}
	f.advanceCursor()
	f.persist(ctx)
	return nil
}

// acceptRide claims the ride for this driver. When two drivers race, the
// ledger picks exactly one winner; the loser gets ErrConflict ("ride no
// longer available"), never a silent success. Re-accepting a ride already
// assigned to this driver is a no-op, so re-entry after Back is safe.
func (f *DriverFlow) acceptRide(ctx context.Context) error {
	if f.selected == nil {
		return ErrNotReady
	}
	if err := f.ledger.AssignDriver(ctx, f.selected.ID, f.sess.Account, 0); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			f.log.Warn("ride no longer available", "ride_id", f.selected.ID, "driver", f.sess.Account)
		}
		return err
	}
	f.log.Info("ride accepted", "ride_id", f.selected.ID, "driver", f.sess.Account)
	return nil
}

// confirmPickup flips the driver confirmation flag, signalling the rider's
// poll that the driver has arrived.
func (f *DriverFlow) confirmPickup(ctx context.Context) error {
	if err := f.ledger.SetDriverConfirmation(ctx, f.sess.RideID, f.sess.Account, true); err != nil {
		return fmt.Errorf("driver confirmation: %w", err)
	}
	f.log.Info("driver confirmed pickup", "ride_id", f.sess.RideID)
	return nil
}

func (f *DriverFlow) completeRide(ctx context.Context) error {
	if err := f.ledger.CompleteRide(ctx, f.sess.RideID, f.sess.Account); err != nil {
		return fmt.Errorf("complete ride: %w", err)
	}
	f.log.Info("ride completed", "ride_id", f.sess.RideID)
	return nil
}

func (f *DriverFlow) Cancel(ctx context.Context) error {
	if err := f.begin(); err != nil {
		return err
	}
	defer f.end()
	if f.terminal() {
		return ErrNotReady
	}
	if f.sess.RideID != "" {
		callCtx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
		defer cancel()
		if err := f.ledger.CancelRide(callCtx, f.sess.RideID, f.sess.Account); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("cancel ride: %w", err)
		}
	}
	f.markCancelled()
	f.persist(ctx)
	return nil
}

func (f *DriverFlow) StepContent(ctx context.Context) (*StepContent, error) {
	step := f.CurrentStep()
	content := &StepContent{Step: step}
	switch step {
	case StepAwaitingRideAcceptance:
		content.Prompt = "Ride Confirmation"
		content.Requests = f.requests
	case StepAwaitingPickupHandoff:
		content.Prompt = "Picked Up"
		if code, err := f.HandoffCode(); err == nil {
			content.HandoffPNG = code.PNG
		}
	case StepAwaitingDropoffConfirmation:
		content.Prompt = "Dropped off"
	case StepCompleted:
		content.Prompt = "Ride Completed!"
	case StepCancelled:
		content.Prompt = "Ride Cancelled"
	}
	if f.sess.RideID != "" {
		ctx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
		defer cancel()
		if ride, err := f.ledger.GetRide(ctx, f.sess.RideID); err == nil {
			content.Ride = ride
		}
	}
	return content, nil
}

func (f *DriverFlow) persist(ctx context.Context) {
	f.sess.StepIndex = f.idx
	if err := f.store.Save(ctx, f.sess); err != nil {
		f.log.Warn("session save failed", "account", f.sess.Account, "error", err)
	}
}
