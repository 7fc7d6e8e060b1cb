package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient executes transfer legs as PaymentIntent hold/capture pairs.
// The memo doubles as the Stripe idempotency key, so a retried attempt with
// a fresh memo is a new charge and a replayed attempt with the same memo is
// not.
type StripeClient struct {
	Currency string
}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient(currency string) *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	if currency == "" {
		currency = "usd"
	}
	return &StripeClient{Currency: currency}
}

// Transfer holds then captures the amount. A capture failure releases the
// hold before reporting the error. Stripe has no chain height; the intent's
// created timestamp stands in as the receipt height.
func (s *StripeClient) Transfer(ctx context.Context, req TransferRequest) (uint64, error) {
	pi, err := s.hold(ctx, req)
	if err != nil {
		return 0, err
	}
	if err := s.capture(ctx, pi.ID); err != nil {
		_ = s.cancel(ctx, pi.ID)
		return 0, err
	}
	return uint64(pi.Created), nil
}

func (s *StripeClient) hold(ctx context.Context, req TransferRequest) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(s.Currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.SetIdempotencyKey(req.Memo)
	params.AddMetadata("memo", req.Memo)
	params.AddMetadata("recipient", req.To)
	return paymentintent.New(params)
}

func (s *StripeClient) capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

func (s *StripeClient) cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
