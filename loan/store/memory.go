// Package store provides loan.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/repayment-engine/loan"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	loans map[string]*loan.Loan
}

func NewMemory() *Memory {
	return &Memory{loans: make(map[string]*loan.Loan)}
}

// CreateLoan inserts a new aggregate. Duplicate IDs are rejected.
func (m *Memory) CreateLoan(_ context.Context, l *loan.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loans[l.ID]; ok {
		return loan.ErrDuplicateLoan
	}
	m.loans[l.ID] = l.Clone()
	return nil
}

// GetLoan returns a deep copy, so callers can mutate freely and discard
// on allocation failure without touching stored state.
func (m *Memory) GetLoan(_ context.Context, id string) (*loan.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.loans[id]
	if !ok {
		return nil, loan.ErrLoanNotFound
	}
	return l.Clone(), nil
}

// SaveLoan replaces the stored aggregate wholesale.
func (m *Memory) SaveLoan(_ context.Context, l *loan.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loans[l.ID]; !ok {
		return loan.ErrLoanNotFound
	}
	m.loans[l.ID] = l.Clone()
	return nil
}

func (m *Memory) ListLoans(_ context.Context) ([]*loan.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*loan.Loan, 0, len(m.loans))
	for _, l := range m.loans {
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
