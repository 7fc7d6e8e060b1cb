package payments

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/example/ride-negotiation/internal/models"
)

type fakeTransfer struct {
	failTo map[string]int
	calls  []TransferRequest
	next   uint64
}

func (f *fakeTransfer) Transfer(ctx context.Context, req TransferRequest) (uint64, error) {
	f.calls = append(f.calls, req)
	if f.failTo[req.To] > 0 {
		f.failTo[req.To]--
		return 0, errors.New("declined")
	}
	f.next++
	return f.next, nil
}

var testRide = &models.Ride{ID: "ride-1", AssignedDriver: "0xdriver", PriceCents: 1999}

func TestSplitFee(t *testing.T) {
	cases := []struct {
		price            int64
		pct              float64
		driver, platform int64
	}{
		{1000, 0.2, 800, 200},
		{1999, 0.2, 1600, 399}, // rounding favours the driver
		{1000, 0, 1000, 0},
		{1, 0.2, 1, 0},
	}
	for _, c := range cases {
		d, p := SplitFee(c.price, c.pct)
		if d != c.driver || p != c.platform {
			t.Errorf("SplitFee(%d, %v) = %d, %d; want %d, %d", c.price, c.pct, d, p, c.driver, c.platform)
		}
		if d+p != c.price {
			t.Errorf("SplitFee(%d, %v) loses money: %d + %d", c.price, c.pct, d, p)
		}
	}
}

func TestMakePaymentsBothLegs(t *testing.T) {
	tr := &fakeTransfer{failTo: map[string]int{}}
	c := NewCoordinator(tr, 0.2, "platform")
	if err := c.MakePayments(context.Background(), testRide); err != nil {
		t.Fatalf("MakePayments: %v", err)
	}
	if !c.Settled() {
		t.Fatal("not settled after both legs")
	}
	if len(tr.calls) != 2 {
		t.Fatalf("calls = %d", len(tr.calls))
	}
	if tr.calls[0].To != "0xdriver" || tr.calls[0].AmountCents != 1600 {
		t.Fatalf("driver leg = %+v", tr.calls[0])
	}
	if tr.calls[1].To != "platform" || tr.calls[1].AmountCents != 399 {
		t.Fatalf("platform leg = %+v", tr.calls[1])
	}
	for _, call := range tr.calls {
		if !strings.HasPrefix(call.Memo, "ride-1:") {
			t.Fatalf("memo %q not scoped to the ride", call.Memo)
		}
	}
	legs := c.Legs()
	if len(legs) != 2 || legs[0].Kind != models.LegDriverFee || legs[1].Kind != models.LegPlatformFee {
		t.Fatalf("legs = %+v", legs)
	}
}

func TestMakePaymentsRetriesOnlyFailedLeg(t *testing.T) {
	tr := &fakeTransfer{failTo: map[string]int{"platform": 1}}
	c := NewCoordinator(tr, 0.2, "platform")

	var legErr *LegError
	err := c.MakePayments(context.Background(), testRide)
	if !errors.As(err, &legErr) || legErr.Leg != models.LegPlatformFee {
		t.Fatalf("expected platform LegError, got %v", err)
	}
	if c.Settled() {
		t.Fatal("settled with a failed leg")
	}

	firstMemo := tr.calls[1].Memo
	if err := c.MakePayments(context.Background(), testRide); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !c.Settled() {
		t.Fatal("not settled after retry")
	}
	if len(tr.calls) != 3 {
		t.Fatalf("calls = %d; the driver leg must not be re-sent", len(tr.calls))
	}
	if tr.calls[2].To != "platform" {
		t.Fatalf("retry went to %q", tr.calls[2].To)
	}
	if tr.calls[2].Memo == firstMemo {
		t.Fatal("retry reused the memo")
	}
}

func TestMakePaymentsAttemptsSecondLegAfterFirstFails(t *testing.T) {
	tr := &fakeTransfer{failTo: map[string]int{"0xdriver": 1}}
	c := NewCoordinator(tr, 0.2, "platform")

	var legErr *LegError
	err := c.MakePayments(context.Background(), testRide)
	if !errors.As(err, &legErr) || legErr.Leg != models.LegDriverFee {
		t.Fatalf("expected driver LegError, got %v", err)
	}
	// the platform leg still went out and succeeded
	if len(tr.calls) != 2 {
		t.Fatalf("calls = %d", len(tr.calls))
	}
	legs := c.Legs()
	if legs[0].State != models.LegFailed || legs[1].State != models.LegSucceeded {
		t.Fatalf("legs = %+v", legs)
	}

	if err := c.MakePayments(context.Background(), testRide); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(tr.calls) != 3 {
		t.Fatalf("calls = %d; the platform leg must not be re-sent", len(tr.calls))
	}
}

func TestRestoreLeg(t *testing.T) {
	tr := &fakeTransfer{failTo: map[string]int{}}
	c := NewCoordinator(tr, 0.2, "platform")
	c.RestoreLeg(models.LegDriverFee, 7)
	c.RestoreLeg(models.LegPlatformFee, 8)
	if !c.Settled() {
		t.Fatal("restored coordinator should be settled")
	}
	if err := c.MakePayments(context.Background(), testRide); err != nil {
		t.Fatalf("MakePayments: %v", err)
	}
	if len(tr.calls) != 0 {
		t.Fatalf("restored legs were re-sent: %d calls", len(tr.calls))
	}
}
