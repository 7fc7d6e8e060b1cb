// Package negotiation implements the ride-booking handshake as two
// role-specific step flows driven against a shared ride ledger. Each step
// advances only when its precondition is met, performs at most one
// externally-observable side effect, and stays put on failure so the
// participant can retry.
package negotiation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-negotiation/internal/handoff"
	"github.com/example/ride-negotiation/internal/ledger"
	"github.com/example/ride-negotiation/internal/models"
)

var (
	// ErrNotReady means a step precondition is unmet; recover locally by
	// supplying the missing input, no escalation.
	ErrNotReady = errors.New("step not ready to advance")
	// ErrBusy means an advance is already in flight; the flows strictly
	// serialize their side effects.
	ErrBusy = errors.New("operation already in flight")
	// ErrUnavailable means matching returned no candidates or no requests.
	ErrUnavailable = errors.New("no drivers available")
	// ErrTimeout means the counterparty did not respond within the bound.
	ErrTimeout = errors.New("timed out waiting for confirmation")

	// Ledger conflicts and handoff mismatches pass through unchanged so
	// callers can match on a single sentinel per failure class.
	ErrConflict           = ledger.ErrConflict
	ErrVerificationFailed = handoff.ErrVerificationFailed
)

type Step string

const (
	StepAwaitingLocation            Step = "awaiting_location"
	StepAwaitingSeatCount           Step = "awaiting_seat_count"
	StepAwaitingDriverSelection     Step = "awaiting_driver_selection"
	StepAwaitingRideAcceptance      Step = "awaiting_ride_acceptance"
	StepAwaitingPickupHandoff       Step = "awaiting_pickup_handoff"
	StepAwaitingPickupConfirmation  Step = "awaiting_pickup_confirmation"
	StepAwaitingDropoffConfirmation Step = "awaiting_dropoff_confirmation"
	StepCompleted                   Step = "completed"
	StepCancelled                   Step = "cancelled"
)

// MatchingService returns driver candidates for a rider's route, sorted by
// the service. The quoted price comes from the pickup-to-dropoff distance;
// an empty result is not an error.
type MatchingService interface {
	RequestDrivers(ctx context.Context, account string, pickup, dropoff models.Coord) ([]models.DriverCandidate, error)
}

// StepContent is the read-only projection a UI renders for the current
// step.
type StepContent struct {
	Step       Step                     `json:"step"`
	Prompt     string                   `json:"prompt"`
	Ride       *models.Ride             `json:"ride,omitempty"`
	Candidates []models.DriverCandidate `json:"candidates,omitempty"`
	Requests   []*models.Ride           `json:"requests,omitempty"`
	Legs       []models.TransferLeg     `json:"legs,omitempty"`
	HandoffPNG []byte                   `json:"handoff_png,omitempty"`
}

// StepFlow is the capability set shared by the rider and driver flows.
type StepFlow interface {
	Role() models.Role
	Steps() []Step
	CurrentStep() Step
	StepContent(ctx context.Context) (*StepContent, error)
	Advance(ctx context.Context) error
	Back() error
	Cancel(ctx context.Context) error
}

// Config carries the negotiation timing and fare-estimate knobs.
type Config struct {
	CallTimeout  time.Duration // per ledger/matching/payment call
	PollInterval time.Duration // confirmation poll cadence
	PollTimeout  time.Duration // max wait before surfacing ErrTimeout

	BaseFareCents int64 // display estimate only
	PerKmCents    int64
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 60 * time.Second
	}
	if c.BaseFareCents <= 0 {
		c.BaseFareCents = 250
	}
	if c.PerKmCents <= 0 {
		c.PerKmCents = 120
	}
	return c
}

// flowCore holds the step cursor and the in-flight guard shared by both
// flows. Cancelled is absorbing; the cursor is untouched so the last view
// remains renderable.
type flowCore struct {
	mu        sync.Mutex
	busy      bool
	steps     []Step
	idx       int
	cancelled bool
}

func (f *flowCore) begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return ErrBusy
	}
	f.busy = true
	return nil
}

func (f *flowCore) end() {
	f.mu.Lock()
	f.busy = false
	f.mu.Unlock()
}

func (f *flowCore) CurrentStep() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		return StepCancelled
	}
	return f.steps[f.idx]
}

func (f *flowCore) Steps() []Step {
	out := make([]Step, len(f.steps))
	copy(out, f.steps)
	return out
}

func (f *flowCore) terminal() bool {
	return f.cancelled || f.steps[f.idx] == StepCompleted
}

func (f *flowCore) advanceCursor() {
	f.mu.Lock()
	if f.idx < len(f.steps)-1 {
		f.idx++
	}
	f.mu.Unlock()
}

// Back is a view-only regression: it never undoes side effects already
// committed to the ledger.
func (f *flowCore) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return ErrBusy
	}
	if f.cancelled || f.idx == 0 || f.steps[f.idx] == StepCompleted {
		return ErrNotReady
	}
	f.idx--
	return nil
}

func (f *flowCore) markCancelled() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
}
