package eta

import (
	"testing"
	"time"

	"github.com/example/ride-negotiation/internal/models"
)

func TestQuoteFareCents(t *testing.T) {
	cases := []struct {
		meters float64
		want   int64
	}{
		{0, 250},
		{1, 370},     // partial km rounds up
		{1000, 370},  // exactly 1 km
		{1001, 490},  // just over
		{8047, 1330}, // ~5 miles
		{-5, 250},
	}
	for _, c := range cases {
		if got := QuoteFareCents(c.meters, 250, 120); got != c.want {
			t.Errorf("QuoteFareCents(%v) = %d, want %d", c.meters, got, c.want)
		}
	}
}

func TestEstimateSecondsDefaultSpeed(t *testing.T) {
	from := models.Coord{Lat: 37.0, Lon: -122.0}
	to := models.Coord{Lat: 37.0, Lon: -122.0}
	if got := EstimateSeconds(from, to, 0); got != 0 {
		t.Fatalf("zero distance = %v", got)
	}
	to.Lat = 37.01
	slow := EstimateSeconds(from, to, 4)
	fast := EstimateSeconds(from, to, 16)
	if slow <= fast || fast <= 0 {
		t.Fatalf("slow=%v fast=%v", slow, fast)
	}
}

func TestCacheExpiry(t *testing.T) {
	a := models.Coord{Lat: 1}
	b := models.Coord{Lat: 2}
	c := NewCache(10 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("hit on empty cache")
	}
	c.Set(a, b, 42)
	if v, ok := c.Get(a, b); !ok || v != 42 {
		t.Fatalf("Get = %v, %v", v, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expired entry served")
	}
}
