package ledger

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-negotiation/internal/models"
)

// Postgres persists ride snapshots behind the in-memory arbiter.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) SaveRide(r *models.Ride) error {
	_, err := p.db.Exec(`INSERT INTO rides(id, rider_address, pickup_lat, pickup_lon, pickup_text, dropoff_lat, dropoff_lon, dropoff_text, distance_m, seats, status, assigned_driver, price_cents, rider_confirmation, driver_confirmation, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.RiderAddress,
		r.Pickup.Lat, r.Pickup.Lon, r.Pickup.AddressText,
		r.Dropoff.Lat, r.Dropoff.Lon, r.Dropoff.AddressText,
		r.DistanceMeters, r.Seats, string(r.Status), r.AssignedDriver, r.PriceCents,
		r.RiderConfirmation, r.DriverConfirmation, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *Postgres) UpdateRide(r *models.Ride) error {
	_, err := p.db.Exec(`UPDATE rides SET status=$1, assigned_driver=$2, price_cents=$3, rider_confirmation=$4, driver_confirmation=$5, updated_at=$6 WHERE id=$7`,
		string(r.Status), r.AssignedDriver, r.PriceCents, r.RiderConfirmation, r.DriverConfirmation, time.Now(), r.ID)
	return err
}
