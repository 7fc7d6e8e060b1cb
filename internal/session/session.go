// Package session keeps the per-participant booking state that used to
// live in ambient browser storage: step index, ride id, driver selection,
// payment receipt heights. It resumes the UI only; the ledger stays the
// source of truth.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-negotiation/internal/models"
)

type State struct {
	Account        string            `json:"account"`
	Role           models.Role       `json:"role"`
	RideID         string            `json:"ride_id,omitempty"`
	StepIndex      int               `json:"step_index"`
	SelectedDriver string            `json:"selected_driver,omitempty"`
	LegHeights     map[string]uint64 `json:"leg_heights,omitempty"` // leg kind -> receipt height
	UpdatedAt      time.Time         `json:"updated_at"`
}

func New(account string, role models.Role) *State {
	return &State{Account: account, Role: role, LegHeights: make(map[string]uint64)}
}

func (s *State) RecordLeg(kind models.LegKind, txHeight uint64) {
	if s.LegHeights == nil {
		s.LegHeights = make(map[string]uint64)
	}
	s.LegHeights[string(kind)] = txHeight
}

// Store persists session state keyed by account.
type Store interface {
	Save(ctx context.Context, st *State) error
	Load(ctx context.Context, account string) (*State, bool, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]State)}
}

func (m *MemoryStore) Save(ctx context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	cp.UpdatedAt = time.Now()
	m.sessions[st.Account] = cp
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, account string) (*State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.sessions[account]
	if !ok {
		return nil, false, nil
	}
	cp := st
	return &cp, true, nil
}
