package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-negotiation/internal/eta"
	"github.com/example/ride-negotiation/internal/geo"
	"github.com/example/ride-negotiation/internal/handoff"
	"github.com/example/ride-negotiation/internal/ledger"
	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/observability"
	"github.com/example/ride-negotiation/internal/payments"
	"github.com/example/ride-negotiation/internal/session"
)

const maxSeats = 2

var riderSteps = []Step{
	StepAwaitingLocation,
	StepAwaitingSeatCount,
	StepAwaitingDriverSelection,
	StepAwaitingPickupConfirmation,
	StepAwaitingDropoffConfirmation,
	StepCompleted,
}

// RiderFlow walks a rider through booking: choose route, pick seats (the
// ride is registered here), select a driver, confirm pickup (driver
// confirmation poll, two-leg payment, QR scan, then the single
// rider-confirmation write), and complete.
type RiderFlow struct {
	flowCore

	cfg   Config
	log   *slog.Logger
	sess  *session.State
	store session.Store

	ledger   ledger.Ledger
	matching MatchingService
	pay      *payments.Coordinator

	pickup, dropoff *models.Place
	distanceMeters  float64
	seats           int

	candidates []models.DriverCandidate
	selected   *models.DriverCandidate

	driverConfirmed bool
	handoffVerified bool
}

func NewRiderFlow(lg ledger.Ledger, m MatchingService, pay *payments.Coordinator, store session.Store, sess *session.State, cfg Config, log *slog.Logger) *RiderFlow {
	f := &RiderFlow{
		cfg:      cfg.withDefaults(),
		log:      log,
		sess:     sess,
		store:    store,
		ledger:   lg,
		matching: m,
		pay:      pay,
		seats:    1,
	}
	f.steps = riderSteps
	if sess.StepIndex > 0 && sess.StepIndex < len(f.steps) {
		f.idx = sess.StepIndex
	}
	for kind, height := range sess.LegHeights {
		pay.RestoreLeg(models.LegKind(kind), height)
	}
	return f
}

func (f *RiderFlow) Role() models.Role { return models.RoleRider }

// SetRoute records pickup and dropoff. Only valid while the location step
// is current; distanceMeters of zero falls back to the crow-flies distance.
func (f *RiderFlow) SetRoute(pickup, dropoff models.Place, distanceMeters float64) error {
	if f.CurrentStep() != StepAwaitingLocation {
		return ErrNotReady
	}
	if distanceMeters <= 0 {
		distanceMeters = geo.Haversine(pickup.Lat, pickup.Lon, dropoff.Lat, dropoff.Lon)
	}
	f.pickup, f.dropoff = &pickup, &dropoff
	f.distanceMeters = distanceMeters
	return nil
}

func (f *RiderFlow) SetSeats(n int) error {
	if f.CurrentStep() != StepAwaitingSeatCount {
		return ErrNotReady
	}
	if n < 1 || n > maxSeats {
		return fmt.Errorf("%w: seats must be 1..%d", ErrNotReady, maxSeats)
	}
	f.seats = n
	return nil
}

// FareEstimateCents is the display-only price estimate for the chosen
// route. The ledger prices the ride from the same trip distance at
// registration, and that stored price is authoritative.
func (f *RiderFlow) FareEstimateCents() int64 {
	if f.pickup == nil || f.dropoff == nil {
		return 0
	}
	return eta.QuoteFareCents(f.distanceMeters, f.cfg.BaseFareCents, f.cfg.PerKmCents)
}

// LoadCandidates queries matching for the rider's pickup location. Zero
// candidates surfaces ErrUnavailable, leaves the step unchanged, and does
// not touch the ledger; the caller re-prompts, there is no auto-retry.
func (f *RiderFlow) LoadCandidates(ctx context.Context) error {
	if err := f.begin(); err != nil {
		return err
	}
	defer f.end()
	if f.steps[f.idx] != StepAwaitingDriverSelection || f.pickup == nil || f.dropoff == nil {
		return ErrNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	defer cancel()
	cands, err := f.matching.RequestDrivers(ctx, f.sess.Account, f.pickup.Coord, f.dropoff.Coord)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return fmt.Errorf("matching: %w", err)
	}
	if len(cands) == 0 {
		return ErrUnavailable
	}
	// served sorted by the matching service; no client-side resort
	f.candidates = cands
	f.selected = nil
	return nil
}

func (f *RiderFlow) Candidates() []models.DriverCandidate { return f.candidates }

func (f *RiderFlow) SelectCandidate(i int) error {
	if f.CurrentStep() != StepAwaitingDriverSelection {
		return ErrNotReady
	}
	if i < 0 || i >= len(f.candidates) {
		return fmt.Errorf("%w: no candidate %d", ErrNotReady, i)
	}
	f.selected = &f.candidates[i]
	f.sess.SelectedDriver = f.selected.EthAddress
	return nil
}

// AwaitDriverConfirmation polls the ledger until the assigned driver has
// confirmed, at the configured cadence, up to the configured bound. The
// poll is a side-effect-free read.
func (f *RiderFlow) AwaitDriverConfirmation(ctx context.Context) error {
	if err := f.begin(); err != nil {
		return err
	}
	defer f.end()
	if f.steps[f.idx] != StepAwaitingPickupConfirmation || f.sess.RideID == "" {
		return ErrNotReady
	}
	deadline := time.Now().Add(f.cfg.PollTimeout)
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	for {
		confirmed, err := f.pollOnce(ctx)
		if err != nil {
			return err
		}
		if confirmed {
			f.driverConfirmed = true
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		select {
		case <-ctx.Done():
			// caller cancellation, not the poll bound
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *RiderFlow) pollOnce(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	defer cancel()
	ride, err := f.ledger.GetRide(ctx, f.sess.RideID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, ErrTimeout
		}
		return false, fmt.Errorf("poll ride: %w", err)
	}
	if ride.Status == models.StatusCancelled {
		f.markCancelled()
		return false, fmt.Errorf("ride %s was cancelled", ride.ID)
	}
	return ride.DriverConfirmation, nil
}

// Pay issues the two transfer legs. A leg that already succeeded is never
// re-sent; on a *payments.LegError the caller retries and only the failed
// leg goes out again. Receipt heights are persisted to the session so a
// resumed flow cannot double-pay.
func (f *RiderFlow) Pay(ctx context.Context) error {
	if err := f.begin(); err != nil {
		return err
	}
	defer f.end()
	if f.steps[f.idx] != StepAwaitingPickupConfirmation || !f.driverConfirmed {
		return ErrNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	defer cancel()
	ride, err := f.ledger.GetRide(ctx, f.sess.RideID)
	if err != nil {
		return fmt.Errorf("load ride for payment: %w", err)
	}
	payErr := f.pay.MakePayments(ctx, ride)
	for _, leg := range f.pay.Legs() {
		if leg.State == models.LegSucceeded {
			f.sess.RecordLeg(leg.Kind, leg.TxHeight)
		}
	}
	f.persist(ctx)
	if payErr != nil {
		f.log.Warn("payment leg failed", "ride_id", ride.ID, "error", payErr)
	}
	return payErr
}

// VerifyHandoff checks the scanned QR payload against the ride id. It is a
// local equality check, deliberately not a cryptographic proof.
func (f *RiderFlow) VerifyHandoff(scanned string) error {
	if f.CurrentStep() != StepAwaitingPickupConfirmation || f.sess.RideID == "" {
		return ErrNotReady
	}
	if err := handoff.Verify(scanned, f.sess.RideID); err != nil {
		return err
	}
	f.handoffVerified = true
	return nil
}

// Advance performs the current step's single side effect and moves the
// cursor on success. On any failure the step is unchanged and re-enterable.
func (f *RiderFlow) Advance(ctx context.Context) error {
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
	case StepAwaitingLocation:
		if f.pickup == nil || f.dropoff == nil {
			return ErrNotReady
		}
		// local step, no side effect
	case StepAwaitingSeatCount:
		err = f.registerRide(callCtx)
	case StepAwaitingDriverSelection:
		err = f.acceptDriver(callCtx)
	case StepAwaitingPickupConfirmation:
		err = f.finalizeConfirmation(callCtx)
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

// registerRide writes the ride to the ledger under a client-generated UUID.
// The id is minted once, so re-entering this step after Back cannot create
// a duplicate ride.
func (f *RiderFlow) registerRide(ctx context.Context) error {
	if f.seats < 1 || f.seats > maxSeats {
		return ErrNotReady
	}
	if f.sess.RideID == "" {
		f.sess.RideID = uuid.NewString()
	}
	ride := &models.Ride{
		ID:             f.sess.RideID,
		RiderAddress:   f.sess.Account,
		Pickup:         *f.pickup,
		Dropoff:        *f.dropoff,
		DistanceMeters: f.distanceMeters,
		Seats:          f.seats,
		Status:         models.StatusRequested,
	}
	if err := f.ledger.RegisterRide(ctx, ride); err != nil {
		return fmt.Errorf("register ride: %w", err)
	}
	observability.RidesRequested.Inc()
	f.log.Info("ride registered", "ride_id", ride.ID, "rider", f.sess.Account)
	return nil
}

// acceptDriver records the chosen driver on the ledger. A ride that already
// has a different driver surfaces ErrConflict and nothing changes.
func (f *RiderFlow) acceptDriver(ctx context.Context) error {
	if f.selected == nil {
		return ErrNotReady
	}
	err := f.ledger.AssignDriver(ctx, f.sess.RideID, f.selected.EthAddress, f.selected.PriceCents)
	if err != nil {
		return err
	}
	f.log.Info("driver accepted", "ride_id", f.sess.RideID, "driver", f.selected.EthAddress)
	return nil
}

// finalizeConfirmation is the single write that flips the rider
// confirmation, gated on driver confirmation, both payment legs settled,
// and a verified handoff scan.
func (f *RiderFlow) finalizeConfirmation(ctx context.Context) error {
	if !f.driverConfirmed || !f.pay.Settled() || !f.handoffVerified {
		return ErrNotReady
	}
	if err := f.ledger.SetRiderConfirmation(ctx, f.sess.RideID, f.sess.Account, true); err != nil {
		return fmt.Errorf("rider confirmation: %w", err)
	}
	f.log.Info("pickup confirmed", "ride_id", f.sess.RideID)
	return nil
}

func (f *RiderFlow) completeRide(ctx context.Context) error {
	if err := f.ledger.CompleteRide(ctx, f.sess.RideID, f.sess.Account); err != nil {
		return fmt.Errorf("complete ride: %w", err)
	}
	f.log.Info("ride completed", "ride_id", f.sess.RideID)
	return nil
}

// Cancel aborts the booking from any non-terminal step. Cancelled is
// absorbing.
func (f *RiderFlow) Cancel(ctx context.Context) error {
	if err := f.begin(); err != nil {
		return err
	}
	defer f.end()
	if f.terminal() {
		return ErrNotReady
	}
	if f.sess.RideID != "" {
		ctx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
		defer cancel()
		if err := f.ledger.CancelRide(ctx, f.sess.RideID, f.sess.Account); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("cancel ride: %w", err)
		}
	}
	f.markCancelled()
	f.persist(ctx)
	return nil
}

func (f *RiderFlow) StepContent(ctx context.Context) (*StepContent, error) {
	step := f.CurrentStep()
	content := &StepContent{Step: step}
	switch step {
	case StepAwaitingLocation:
		content.Prompt = "Choose source & destination"
	case StepAwaitingSeatCount:
		content.Prompt = "Enter number of seats"
	case StepAwaitingDriverSelection:
		content.Prompt = "Select Driver"
		content.Candidates = f.candidates
	case StepAwaitingPickupConfirmation:
		content.Prompt = "Picked Up"
		content.Legs = f.pay.Legs()
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

func (f *RiderFlow) persist(ctx context.Context) {
	f.sess.StepIndex = f.idx
	if err := f.store.Save(ctx, f.sess); err != nil {
		f.log.Warn("session save failed", "account", f.sess.Account, "error", err)
	}
}
