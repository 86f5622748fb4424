package cds

import (
	"context"

	"github.com/google/uuid"
)

// GateState is the sign-gate state for a patient.
type GateState string

const (
	GateClear   GateState = "clear"
	GateBlocked GateState = "blocked"
)

// SignResult is the outcome of a signing attempt. Blocking lists the
// unresolved alerts whenever the gate was blocked, overridden or not.
type SignResult struct {
	Signed     bool     `json:"signed"`
	Overridden bool     `json:"overridden"`
	Blocking   []*Alert `json:"blocking,omitempty"`
}

// SignGate guards note signing. An alert blocks while it is neither
// dismissed nor actioned.
type SignGate struct {
	alerts AlertRepository
}

func NewSignGate(alerts AlertRepository) *SignGate {
	return &SignGate{alerts: alerts}
}

// Unresolved returns the alerts that keep the gate blocked, in created_at order.
func (g *SignGate) Unresolved(ctx context.Context, patientID uuid.UUID) ([]*Alert, error) {
	active, err := g.alerts.ActiveFor(ctx, patientID)
	if err != nil {
		return nil, err
	}
	var out []*Alert
	for _, a := range active {
		if !a.Resolved() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *SignGate) State(ctx context.Context, patientID uuid.UUID) (GateState, []*Alert, error) {
	blocking, err := g.Unresolved(ctx, patientID)
	if err != nil {
		return "", nil, err
	}
	if len(blocking) > 0 {
		return GateBlocked, blocking, nil
	}
	return GateClear, nil, nil
}

func (g *SignGate) CanSignSilently(ctx context.Context, patientID uuid.UUID) (bool, error) {
	state, _, err := g.State(ctx, patientID)
	return state == GateClear, err
}

// RequestSign signs when the gate is clear and otherwise returns the
// blocking alerts for the caller to confirm.
func (g *SignGate) RequestSign(ctx context.Context, patientID uuid.UUID) (SignResult, error) {
	return g.Sign(ctx, patientID, false)
}

// Sign with override always succeeds; Overridden records that the clinician
// signed past unresolved alerts.
func (g *SignGate) Sign(ctx context.Context, patientID uuid.UUID, override bool) (SignResult, error) {
	state, blocking, err := g.State(ctx, patientID)
	if err != nil {
		return SignResult{}, err
	}
	if state == GateClear {
		return SignResult{Signed: true}, nil
	}
	if override {
		return SignResult{Signed: true, Overridden: true, Blocking: blocking}, nil
	}
	return SignResult{Blocking: blocking}, nil
}
