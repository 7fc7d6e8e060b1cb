package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-negotiation/internal/config"
	"github.com/example/ride-negotiation/internal/dispatch"
	"github.com/example/ride-negotiation/internal/geo"
	"github.com/example/ride-negotiation/internal/ingest"
	"github.com/example/ride-negotiation/internal/ledger"
	"github.com/example/ride-negotiation/internal/matching"
	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/observability"
)

// Server exposes the matching service and the ledger over REST, plus the
// driver notification WS and the location ingest pipeline.
type Server struct {
	Geo      geo.Geo
	Matcher  *matching.Service
	Ledger   ledger.Ledger
	Kafka    *ingest.KafkaProducer
	WSReg    *dispatch.WSRegistry
	Notifier dispatch.Notifier

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the backend from config with in-memory fallbacks so the
// binary runs locally without external services.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var ggeo geo.Geo
	if cfg.RedisAddr != "" {
		ggeo = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		ggeo = geo.NewIndex()
	}

	led := ledger.NewMemory()
	if cfg.BaseFareCents > 0 {
		led.BaseFareCents = cfg.BaseFareCents
	}
	if cfg.PerKmCents > 0 {
		led.PerKmCents = cfg.PerKmCents
	}
	if cfg.PGDSN != "" {
		if pg, err := ledger.NewPostgres(cfg.PGDSN); err == nil {
			led.Store = pg
		} else {
			logger.Warn("postgres unavailable, ledger is memory-only", "error", err)
		}
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		led.Events = ingest.NewRideEventProducer(cfg.KafkaBrokers, cfg.RideEventTopic)
	}

	wsreg := dispatch.NewWSRegistry(logger)

	m := &matching.Service{
		Geo:             ggeo,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		TopN:            cfg.MatcherTopN,
		BaseFareCents:   cfg.BaseFareCents,
		PerKmCents:      cfg.PerKmCents,
	}
	s := &Server{
		Geo:      ggeo,
		Matcher:  m,
		Ledger:   led,
		Kafka:    kp,
		WSReg:    wsreg,
		Notifier: dispatch.NewPushDispatcher("", wsreg),
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/rider/request-drivers", s.handleRequestDrivers).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides", s.handleRegisterRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{id}/assign", s.handleAssign).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/confirm/rider", s.handleRiderConfirm).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/confirm/driver", s.handleDriverConfirm).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{id}/requests", s.handleDriverRequests).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	d.Online = true
	if s.Kafka != nil {
		_ = s.Kafka.PublishLocation(d)
	}
	s.Geo.Upsert(d)
	observability.DriversOnline.Inc()
	w.WriteHeader(204)
}

func (s *Server) handleRequestDrivers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account          string  `json:"account"`
		Latitude         float64 `json:"latitude"`
		Longitude        float64 `json:"longitude"`
		DropoffLatitude  float64 `json:"dropoff_latitude"`
		DropoffLongitude float64 `json:"dropoff_longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	cands, err := s.Matcher.RequestDrivers(r.Context(), req.Account,
		models.Coord{Lat: req.Latitude, Lon: req.Longitude},
		models.Coord{Lat: req.DropoffLatitude, Lon: req.DropoffLongitude})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if cands == nil {
		cands = []models.DriverCandidate{} // empty is a valid outcome, not an error
	}
	writeJSON(w, 200, map[string]any{"selectedDrivers": cands})
}

func (s *Server) handleRegisterRide(w http.ResponseWriter, r *http.Request) {
	var ride models.Ride
	if err := json.NewDecoder(r.Body).Decode(&ride); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if ride.ID == "" {
		ride.ID = uuid.NewString()
	}
	if err := s.Ledger.RegisterRide(r.Context(), &ride); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	observability.RidesRequested.Inc()
	stored, err := s.Ledger.GetRide(r.Context(), ride.ID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, 201, stored)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Ledger.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, 200, ride)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	var req struct {
		Driver     string `json:"driver"`
		PriceCents int64  `json:"price_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Driver == "" {
		http.Error(w, "driver required", 400)
		return
	}
	if err := s.Ledger.AssignDriver(r.Context(), rideID, req.Driver, req.PriceCents); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if ride, err := s.Ledger.GetRide(r.Context(), rideID); err == nil {
		_ = s.Notifier.Notify(req.Driver, dispatch.RideNotice{
			RideID:     ride.ID,
			Pickup:     ride.Pickup,
			Dropoff:    ride.Dropoff,
			PriceCents: ride.PriceCents,
		})
	}
	w.WriteHeader(204)
}

func (s *Server) handleRiderConfirm(w http.ResponseWriter, r *http.Request) {
	s.handleConfirm(w, r, s.Ledger.SetRiderConfirmation)
}

func (s *Server) handleDriverConfirm(w http.ResponseWriter, r *http.Request) {
	s.handleConfirm(w, r, s.Ledger.SetDriverConfirmation)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, rideID, actor string, confirmed bool) error) {
	var req struct {
		Actor     string `json:"actor"`
		Confirmed *bool  `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	confirmed := true
	if req.Confirmed != nil {
		confirmed = *req.Confirmed
	}
	if err := set(r.Context(), mux.Vars(r)["id"], req.Actor, confirmed); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.Ledger.CompleteRide(r.Context(), mux.Vars(r)["id"], req.Actor); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.Ledger.CancelRide(r.Context(), mux.Vars(r)["id"], req.Actor); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) handleDriverRequests(w http.ResponseWriter, r *http.Request) {
	rides, err := s.Ledger.PendingForDriver(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if rides == nil {
		rides = []*models.Ride{}
	}
	writeJSON(w, 200, map[string]any{"requests": rides})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", 400)
		return
	}
	s.WSReg.Add(id, conn)
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrTransition):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error("ledger error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
