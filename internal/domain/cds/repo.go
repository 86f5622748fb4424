package cds

import (
	"context"

	"github.com/google/uuid"
)

// AlertRepository is the Alert Store. Dismiss and Act on an unknown id are
// no-ops, not errors. All listings are in created_at order.
type AlertRepository interface {
	// Add appends a; it reports false when an alert with the same id exists.
	Add(ctx context.Context, a *Alert) (bool, error)
	Dismiss(ctx context.Context, id uuid.UUID) error
	Act(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, bool, error)
	// ListByPatient returns every alert for the patient including dismissed ones.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Alert, error)
	ActiveFor(ctx context.Context, patientID uuid.UUID) ([]*Alert, error)
	ActiveForPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*Alert, error)
	ActiveForOrder(ctx context.Context, orderID uuid.UUID) ([]*Alert, error)
}
