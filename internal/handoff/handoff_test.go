package handoff

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	code, err := Encode("ride-123")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if code.Payload != "ride:ride-123" {
		t.Fatalf("payload = %q", code.Payload)
	}
	if len(code.PNG) == 0 || !bytes.HasPrefix(code.PNG, []byte("\x89PNG")) {
		t.Fatal("expected PNG image bytes")
	}
	if got := Decode(code.Payload); got != "ride-123" {
		t.Fatalf("Decode = %q", got)
	}
}

func TestDecodeRawID(t *testing.T) {
	if got := Decode("  ride-123 "); got != "ride-123" {
		t.Fatalf("Decode = %q", got)
	}
}

func TestVerify(t *testing.T) {
	if err := Verify("ride:ride-123", "ride-123"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify("ride:other", "ride-123"); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	if err := Verify("", "ride-123"); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed on empty scan, got %v", err)
	}
}
