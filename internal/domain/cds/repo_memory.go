package cds

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is the session-scoped in-process Alert Store. Alerts are never
// physically removed.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*Alert
	byPatient map[uuid.UUID][]*Alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[uuid.UUID]*Alert),
		byPatient: make(map[uuid.UUID][]*Alert),
	}
}

var _ AlertRepository = (*MemoryStore)(nil)

func (s *MemoryStore) Add(_ context.Context, a *Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[a.ID]; exists {
		return false, nil
	}
	stored := a.clone()
	s.byID[stored.ID] = stored
	list := append(s.byPatient[stored.PatientID], stored)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	s.byPatient[stored.PatientID] = list
	return true, nil
}

func (s *MemoryStore) Dismiss(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byID[id]; ok {
		a.Dismissed = true
	}
	return nil
}

func (s *MemoryStore) Act(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byID[id]; ok {
		a.Actioned = true
	}
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	return a.clone(), true, nil
}

func (s *MemoryStore) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Alert, error) {
	return s.filter(patientID, func(*Alert) bool { return true }), nil
}

func (s *MemoryStore) ActiveFor(_ context.Context, patientID uuid.UUID) ([]*Alert, error) {
	return s.filter(patientID, func(a *Alert) bool { return !a.Dismissed }), nil
}

func (s *MemoryStore) ActiveForPrescription(_ context.Context, prescriptionID uuid.UUID) ([]*Alert, error) {
	return s.filterAll(func(a *Alert) bool {
		return !a.Dismissed && a.LinkedPrescriptionID != nil && *a.LinkedPrescriptionID == prescriptionID
	}), nil
}

func (s *MemoryStore) ActiveForOrder(_ context.Context, orderID uuid.UUID) ([]*Alert, error) {
	return s.filterAll(func(a *Alert) bool {
		return !a.Dismissed && a.LinkedOrderID != nil && *a.LinkedOrderID == orderID
	}), nil
}

func (s *MemoryStore) filter(patientID uuid.UUID, keep func(*Alert) bool) []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Alert
	for _, a := range s.byPatient[patientID] {
		if keep(a) {
			out = append(out, a.clone())
		}
	}
	return out
}

// filterAll scans every patient; back-references are not indexed.
func (s *MemoryStore) filterAll(keep func(*Alert) bool) []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Alert
	for _, list := range s.byPatient {
		for _, a := range list {
			if keep(a) {
				out = append(out, a.clone())
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
