// Package handoff implements the physical pickup verification step: the
// driver displays an encoded ride id, the rider scans it, and the scanned
// value must equal the ledger's ride id before pickup is finalized. This is
// a plain equality check, not a cryptographic proof.
package handoff

import (
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/example/ride-negotiation/internal/observability"
)

var ErrVerificationFailed = errors.New("handoff code does not match ride")

const payloadPrefix = "ride:"

// Code is a displayable handoff code for one ride.
type Code struct {
	Payload string // the string a scanner reads back
	PNG     []byte // QR image for display
}

// Encode renders the ride id as a QR code.
func Encode(rideID string) (*Code, error) {
	payload := payloadPrefix + rideID
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return nil, err
	}
	return &Code{Payload: payload, PNG: png}, nil
}

// Decode extracts the ride id from a scanned payload. Raw ride ids without
// the prefix are accepted for older codes.
func Decode(scanned string) string {
	return strings.TrimPrefix(strings.TrimSpace(scanned), payloadPrefix)
}

// Verify checks a scanned value against the ride id the ledger holds.
func Verify(scanned, rideID string) error {
	if Decode(scanned) != rideID {
		observability.HandoffFailures.Inc()
		return ErrVerificationFailed
	}
	return nil
}
