package negotiation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-negotiation/internal/ledger"
	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/payments"
	"github.com/example/ride-negotiation/internal/session"
)

type fakeMatching struct {
	cands []models.DriverCandidate
	err   error
	calls int
}

func (f *fakeMatching) RequestDrivers(ctx context.Context, account string, pickup, dropoff models.Coord) ([]models.DriverCandidate, error) {
	f.calls++
	return f.cands, f.err
}

// scriptedTransfer fails a configurable number of times per recipient and
// records every request it sees.
type scriptedTransfer struct {
	mu     sync.Mutex
	failTo map[string]int
	calls  []payments.TransferRequest
	next   uint64
}

func (s *scriptedTransfer) Transfer(ctx context.Context, req payments.TransferRequest) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.failTo[req.To] > 0 {
		s.failTo[req.To]--
		return 0, errors.New("transfer refused")
	}
	s.next++
	return s.next, nil
}

func (s *scriptedTransfer) callsTo(addr string) []payments.TransferRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payments.TransferRequest
	for _, c := range s.calls {
		if c.To == addr {
			out = append(out, c)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		CallTimeout:  time.Second,
		PollInterval: time.Millisecond,
		PollTimeout:  200 * time.Millisecond,
	}
}

var twoCandidates = []models.DriverCandidate{
	{Name: "Ann", Contact: "111", CarNo: "AA-1", Rating: 4.8, EthAddress: "0xdriver1", PriceCents: 1500},
	{Name: "Bob", Contact: "222", CarNo: "BB-2", Rating: 4.1, EthAddress: "0xdriver2", PriceCents: 1400},
}

type riderFixture struct {
	flow     *RiderFlow
	ledger   *ledger.Memory
	matching *fakeMatching
	transfer *scriptedTransfer
	sess     *session.State
}

func newRiderFixture(t *testing.T) *riderFixture {
	t.Helper()
	led := ledger.NewMemory()
	m := &fakeMatching{cands: twoCandidates}
	tr := &scriptedTransfer{failTo: map[string]int{}}
	pay := payments.NewCoordinator(tr, 0.2, "platform")
	sess := session.New("0xrider", models.RoleRider)
	flow := NewRiderFlow(led, m, pay, session.NewMemoryStore(), sess, testConfig(), testLogger())
	return &riderFixture{flow: flow, ledger: led, matching: m, transfer: tr, sess: sess}
}

// advanceToSelection walks the flow through route and seat entry so a
// ride exists on the ledger and candidates are loaded.
func (fx *riderFixture) advanceToSelection(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	pickup := models.Place{Coord: models.Coord{Lat: 37.0, Lon: -122.0}, AddressText: "A St"}
	dropoff := models.Place{Coord: models.Coord{Lat: 37.1, Lon: -122.1}, AddressText: "B Ave"}
	if err := fx.flow.SetRoute(pickup, dropoff, 8047); err != nil { // "5 mi"
		t.Fatalf("SetRoute: %v", err)
	}
	if err := fx.flow.Advance(ctx); err != nil {
		t.Fatalf("advance past location: %v", err)
	}
	if err := fx.flow.SetSeats(1); err != nil {
		t.Fatalf("SetSeats: %v", err)
	}
	if err := fx.flow.Advance(ctx); err != nil {
		t.Fatalf("advance past seats: %v", err)
	}
	if err := fx.flow.LoadCandidates(ctx); err != nil {
		t.Fatalf("LoadCandidates: %v", err)
	}
}

// advanceToPickup additionally accepts the first candidate.
func (fx *riderFixture) advanceToPickup(t *testing.T) {
	t.Helper()
	fx.advanceToSelection(t)
	if err := fx.flow.SelectCandidate(0); err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if err := fx.flow.Advance(context.Background()); err != nil {
		t.Fatalf("advance past selection: %v", err)
	}
}

func TestRiderAdvanceWithoutRouteNotReady(t *testing.T) {
	fx := newRiderFixture(t)
	if err := fx.flow.Advance(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if got := fx.flow.CurrentStep(); got != StepAwaitingLocation {
		t.Fatalf("step moved to %s", got)
	}
}

func TestRiderFareEstimate(t *testing.T) {
	fx := newRiderFixture(t)
	if got := fx.flow.FareEstimateCents(); got != 0 {
		t.Fatalf("estimate before route = %d", got)
	}
	pickup := models.Place{Coord: models.Coord{Lat: 37.0, Lon: -122.0}}
	dropoff := models.Place{Coord: models.Coord{Lat: 37.1, Lon: -122.1}}
	if err := fx.flow.SetRoute(pickup, dropoff, 8047); err != nil {
		t.Fatalf("SetRoute: %v", err)
	}
	// defaults: 250 base + 120/km over ceil(8.047) km
	if got := fx.flow.FareEstimateCents(); got != 250+9*120 {
		t.Fatalf("estimate = %d", got)
	}
}

func TestRiderSeatBounds(t *testing.T) {
	fx := newRiderFixture(t)
	_ = fx.flow.SetRoute(models.Place{}, models.Place{Coord: models.Coord{Lat: 1}}, 1000)
	_ = fx.flow.Advance(context.Background())
	if err := fx.flow.SetSeats(3); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected seat bound error, got %v", err)
	}
	if err := fx.flow.SetSeats(0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected seat bound error, got %v", err)
	}
	if err := fx.flow.SetSeats(2); err != nil {
		t.Fatalf("2 seats should be allowed: %v", err)
	}
}

func TestRiderRegisterIdempotentAfterBack(t *testing.T) {
	fx := newRiderFixture(t)
	fx.advanceToSelection(t)
	rideID := fx.sess.RideID
	if rideID == "" {
		t.Fatal("expected ride id after registration")
	}
	first, err := fx.ledger.GetRide(context.Background(), rideID)
	if err != nil {
		t.Fatalf("GetRide: %v", err)
	}

	if err := fx.flow.Back(); err != nil {
		t.Fatalf("Back: %v", err)
	}
	if err := fx.flow.Advance(context.Background()); err != nil {
		t.Fatalf("re-advance: %v", err)
	}
	if fx.sess.RideID != rideID {
		t.Fatalf("ride id changed on re-advance: %s -> %s", rideID, fx.sess.RideID)
	}
	second, err := fx.ledger.GetRide(context.Background(), rideID)
	if err != nil {
		t.Fatalf("GetRide: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("re-advance re-registered the ride")
	}
}

func TestScenarioANoDoubleAssign(t *testing.T) {
	fx := newRiderFixture(t)
	fx.advanceToSelection(t)
	if err := fx.flow.SelectCandidate(0); err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if err := fx.flow.Advance(context.Background()); err != nil {
		t.Fatalf("accept driver: %v", err)
	}

	ride, err := fx.ledger.GetRide(context.Background(), fx.sess.RideID)
	if err != nil {
		t.Fatalf("GetRide: %v", err)
	}
	if ride.AssignedDriver != "0xdriver1" {
		t.Fatalf("assigned driver = %q", ride.AssignedDriver)
	}
	// priced from the 8047 m trip at registration; the accept cannot change it
	if ride.PriceCents != 1330 {
		t.Fatalf("ledger price = %d", ride.PriceCents)
	}

	// regress the view, pick the other candidate, try again
	if err := fx.flow.Back(); err != nil {
		t.Fatalf("Back: %v", err)
	}
	if err := fx.flow.SelectCandidate(1); err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if err := fx.flow.Advance(context.Background()); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	ride, _ = fx.ledger.GetRide(context.Background(), fx.sess.RideID)
	if ride.AssignedDriver != "0xdriver1" {
		t.Fatalf("assignment changed to %q", ride.AssignedDriver)
	}
}

func TestScenarioBRetryFailedLegOnly(t *testing.T) {
	fx := newRiderFixture(t)
	fx.transfer.failTo["platform"] = 1
	fx.advanceToPickup(t)
	ctx := context.Background()

	if err := fx.ledger.SetDriverConfirmation(ctx, fx.sess.RideID, "0xdriver1", true); err != nil {
		t.Fatalf("driver confirm: %v", err)
	}
	if err := fx.flow.AwaitDriverConfirmation(ctx); err != nil {
		t.Fatalf("AwaitDriverConfirmation: %v", err)
	}

	var legErr *payments.LegError
	if err := fx.flow.Pay(ctx); !errors.As(err, &legErr) || legErr.Leg != models.LegPlatformFee {
		t.Fatalf("expected platform leg failure, got %v", err)
	}
	if got := len(fx.transfer.callsTo("0xdriver1")); got != 1 {
		t.Fatalf("driver leg sent %d times", got)
	}
	// the finalize step must refuse while a leg is unpaid
	if err := fx.flow.VerifyHandoff("ride:" + fx.sess.RideID); err != nil {
		t.Fatalf("VerifyHandoff: %v", err)
	}
	if err := fx.flow.Advance(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady with unpaid leg, got %v", err)
	}
	ride, _ := fx.ledger.GetRide(ctx, fx.sess.RideID)
	if ride.RiderConfirmation {
		t.Fatal("rider confirmation written while a leg was unpaid")
	}

	if err := fx.flow.Pay(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := len(fx.transfer.callsTo("0xdriver1")); got != 1 {
		t.Fatalf("driver leg re-sent, %d calls", got)
	}
	platformCalls := fx.transfer.callsTo("platform")
	if len(platformCalls) != 2 {
		t.Fatalf("platform leg calls = %d", len(platformCalls))
	}
	if platformCalls[0].Memo == platformCalls[1].Memo {
		t.Fatal("retry reused the memo")
	}
	if err := fx.flow.Advance(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	ride, _ = fx.ledger.GetRide(ctx, fx.sess.RideID)
	if !ride.RiderConfirmation {
		t.Fatal("rider confirmation not written")
	}
	if ride.Status != models.StatusPickupConfirmed {
		t.Fatalf("status = %s", ride.Status)
	}
}

func TestScenarioCHandoffMismatch(t *testing.T) {
	fx := newRiderFixture(t)
	fx.advanceToPickup(t)
	ctx := context.Background()

	_ = fx.ledger.SetDriverConfirmation(ctx, fx.sess.RideID, "0xdriver1", true)
	if err := fx.flow.AwaitDriverConfirmation(ctx); err != nil {
		t.Fatalf("AwaitDriverConfirmation: %v", err)
	}
	if err := fx.flow.Pay(ctx); err != nil {
		t.Fatalf("Pay: %v", err)
	}

	if err := fx.flow.VerifyHandoff("ride:some-other-ride"); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	if err := fx.flow.Advance(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("finalize before scan should be ErrNotReady, got %v", err)
	}
	ride, _ := fx.ledger.GetRide(ctx, fx.sess.RideID)
	if ride.RiderConfirmation {
		t.Fatal("rider confirmation written without a verified scan")
	}

	if err := fx.flow.VerifyHandoff("ride:" + fx.sess.RideID); err != nil {
		t.Fatalf("VerifyHandoff: %v", err)
	}
	if err := fx.flow.Advance(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}
}

func TestScenarioDNoDriversAvailable(t *testing.T) {
	fx := newRiderFixture(t)
	fx.matching.cands = nil
	fx.advanceToSelectionExpectUnavailable(t)
}

func (fx *riderFixture) advanceToSelectionExpectUnavailable(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_ = fx.flow.SetRoute(models.Place{}, models.Place{Coord: models.Coord{Lat: 1}}, 1000)
	_ = fx.flow.Advance(ctx)
	_ = fx.flow.SetSeats(1)
	_ = fx.flow.Advance(ctx)
	if err := fx.flow.LoadCandidates(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := fx.flow.CurrentStep(); got != StepAwaitingDriverSelection {
		t.Fatalf("step moved to %s", got)
	}
	ride, err := fx.ledger.GetRide(ctx, fx.sess.RideID)
	if err != nil {
		t.Fatalf("GetRide: %v", err)
	}
	if ride.AssignedDriver != "" || ride.Status != models.StatusRequested {
		t.Fatalf("ledger written on empty match: %+v", ride)
	}
}

func TestRiderAwaitConfirmationCallerCancel(t *testing.T) {
	fx := newRiderFixture(t)
	fx.advanceToPickup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fx.flow.AwaitDriverConfirmation(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatal("caller cancellation reported as a poll timeout")
	}
}

func TestRiderPollTimeout(t *testing.T) {
	fx := newRiderFixture(t)
	fx.advanceToPickup(t)
	// driver never confirms
	if err := fx.flow.AwaitDriverConfirmation(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got := fx.flow.CurrentStep(); got != StepAwaitingPickupConfirmation {
		t.Fatalf("step moved to %s", got)
	}
}

func TestRiderAdvanceSerialized(t *testing.T) {
	fx := newRiderFixture(t)
	if err := fx.flow.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fx.flow.Advance(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	fx.flow.end()
}

func TestRiderCancelAbsorbing(t *testing.T) {
	fx := newRiderFixture(t)
	fx.advanceToSelection(t)
	ctx := context.Background()
	if err := fx.flow.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := fx.flow.CurrentStep(); got != StepCancelled {
		t.Fatalf("step = %s", got)
	}
	ride, _ := fx.ledger.GetRide(ctx, fx.sess.RideID)
	if ride.Status != models.StatusCancelled {
		t.Fatalf("ledger status = %s", ride.Status)
	}
	if err := fx.flow.Advance(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("advance after cancel = %v", err)
	}
	if err := fx.flow.Back(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("back after cancel = %v", err)
	}
	if err := fx.flow.Cancel(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("second cancel = %v", err)
	}
}

func TestRiderFullBooking(t *testing.T) {
	fx := newRiderFixture(t)
	fx.advanceToPickup(t)
	ctx := context.Background()

	_ = fx.ledger.SetDriverConfirmation(ctx, fx.sess.RideID, "0xdriver1", true)
	if err := fx.flow.AwaitDriverConfirmation(ctx); err != nil {
		t.Fatalf("AwaitDriverConfirmation: %v", err)
	}
	if err := fx.flow.Pay(ctx); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if err := fx.flow.VerifyHandoff("ride:" + fx.sess.RideID); err != nil {
		t.Fatalf("VerifyHandoff: %v", err)
	}
	if err := fx.flow.Advance(ctx); err != nil {
		t.Fatalf("finalize pickup: %v", err)
	}
	if err := fx.flow.Advance(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := fx.flow.CurrentStep(); got != StepCompleted {
		t.Fatalf("step = %s", got)
	}
	ride, _ := fx.ledger.GetRide(ctx, fx.sess.RideID)
	if ride.Status != models.StatusCompleted {
		t.Fatalf("ledger status = %s", ride.Status)
	}
	// 20% platform cut of the 1330 registration price
	driverCalls := fx.transfer.callsTo("0xdriver1")
	platformCalls := fx.transfer.callsTo("platform")
	if len(driverCalls) != 1 || len(platformCalls) != 1 {
		t.Fatalf("calls: driver=%d platform=%d", len(driverCalls), len(platformCalls))
	}
	if driverCalls[0].AmountCents != 1064 || platformCalls[0].AmountCents != 266 {
		t.Fatalf("amounts: driver=%d platform=%d", driverCalls[0].AmountCents, platformCalls[0].AmountCents)
	}
}

func TestRiderResumeRestoresLegs(t *testing.T) {
	led := ledger.NewMemory()
	sess := session.New("0xrider", models.RoleRider)
	sess.RecordLeg(models.LegDriverFee, 41)
	sess.RecordLeg(models.LegPlatformFee, 42)
	tr := &scriptedTransfer{failTo: map[string]int{}}
	pay := payments.NewCoordinator(tr, 0.2, "platform")
	NewRiderFlow(led, &fakeMatching{}, pay, session.NewMemoryStore(), sess, testConfig(), testLogger())
	if !pay.Settled() {
		t.Fatal("restored legs should settle the coordinator")
	}
}
