package models

import "time"

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

type RideStatus string

const (
	StatusRequested        RideStatus = "requested"
	StatusDriverSelected   RideStatus = "driver_selected"
	StatusPickupConfirmed  RideStatus = "pickup_confirmed"
	StatusDropoffConfirmed RideStatus = "dropoff_confirmed"
	StatusCompleted        RideStatus = "completed"
	StatusCancelled        RideStatus = "cancelled"
)

// rank orders the non-cancelled statuses for monotonicity checks.
func (s RideStatus) rank() int {
	switch s {
	case StatusRequested:
		return 0
	case StatusDriverSelected:
		return 1
	case StatusPickupConfirmed:
		return 2
	case StatusDropoffConfirmed:
		return 3
	case StatusCompleted:
		return 4
	}
	return -1
}

// CanTransition reports whether moving from s to next is a legal status
// change: forward only, dropoff only after pickup, no leaving a terminal
// status. Cancelled is reachable from any non-terminal status.
func (s RideStatus) CanTransition(next RideStatus) bool {
	if s == StatusCancelled || s == StatusCompleted {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return next.rank() > s.rank()
}

func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is a coordinate plus the free-text address shown to participants.
type Place struct {
	Coord
	AddressText string `json:"address_text"`
}

// Participant identity is an opaque wallet/account address, fixed at
// registration. Rating is mutable.
type Participant struct {
	Address string  `json:"address"`
	Role    Role    `json:"role"`
	Name    string  `json:"name"`
	Contact string  `json:"contact"`
	Rating  float64 `json:"rating"` // 0..5
}

type Driver struct {
	ID      string    `json:"id"`
	Loc     Coord     `json:"loc"`
	Name    string    `json:"name"`
	Contact string    `json:"contact"`
	CarNo   string    `json:"car_no"`
	Rating  float64   `json:"rating"` // 0..5
	Online  bool      `json:"online"`
	Updated time.Time `json:"updated"`
}

// DriverCandidate is the transient projection returned by the matching
// service for the select-driver step. It is never persisted.
type DriverCandidate struct {
	Name       string  `json:"name"`
	Contact    string  `json:"contact"`
	CarNo      string  `json:"carNo"`
	Rating     float64 `json:"rating"`
	EthAddress string  `json:"ethAddress"`
	PriceCents int64   `json:"priceCents"`
	ETASeconds float64 `json:"etaSeconds"`
}

// Ride is the central aggregate, owned by the ledger. AssignedDriver is set
// exactly once; PriceCents is the authoritative fare once a driver is
// assigned.
type Ride struct {
	ID                 string     `json:"ride_id"`
	RiderAddress       string     `json:"rider_address"`
	Pickup             Place      `json:"pickup"`
	Dropoff            Place      `json:"dropoff"`
	DistanceMeters     float64    `json:"distance_meters"`
	Seats              int        `json:"seats"`
	Status             RideStatus `json:"status"`
	AssignedDriver     string     `json:"assigned_driver,omitempty"`
	PriceCents         int64      `json:"price_cents"`
	RiderConfirmation  bool       `json:"rider_confirmation"`
	DriverConfirmation bool       `json:"driver_confirmation"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type LegKind string

const (
	LegDriverFee   LegKind = "driver_fee"
	LegPlatformFee LegKind = "platform_fee"
)

type LegState string

const (
	LegPending   LegState = "pending"
	LegSucceeded LegState = "succeeded"
	LegFailed    LegState = "failed"
)

// TransferLeg tracks one of the two value transfers composing a ride
// payment. Memo is unique per attempt so a retry can never double-send.
type TransferLeg struct {
	Kind        LegKind  `json:"kind"`
	To          string   `json:"to"`
	AmountCents int64    `json:"amount_cents"`
	Memo        string   `json:"memo"`
	State       LegState `json:"state"`
	TxHeight    uint64   `json:"tx_height,omitempty"`
}

// RideEvent is published on every ledger write so downstream consumers can
// follow a ride without polling.
type RideEvent struct {
	RideID    string     `json:"ride_id"`
	Kind      string     `json:"kind"` // registered, assigned, rider_confirmed, driver_confirmed, completed, cancelled
	Actor     string     `json:"actor"`
	Status    RideStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}
