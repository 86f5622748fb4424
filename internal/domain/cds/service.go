package cds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidEvent is returned for trigger events missing required fields.
var ErrInvalidEvent = errors.New("invalid trigger event")

// Action is a clinician response to an alert. Every action except
// ActionDismiss marks the alert actioned.
type Action string

const (
	ActionDismiss     Action = "dismiss"
	ActionAcknowledge Action = "acknowledge"
	ActionSwitch      Action = "switch"
	ActionDiscontinue Action = "discontinue"
)

var validActions = map[Action]bool{
	ActionDismiss: true, ActionAcknowledge: true, ActionSwitch: true, ActionDiscontinue: true,
}

// TxRunner serializes work sharing a key across processes, e.g. db.KeyedTx.
type TxRunner interface {
	Run(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Service ties the evaluator, the alert store and the sign-gate together.
// Dedup-check-then-append is atomic per patient.
type Service struct {
	evaluator *Evaluator
	alerts    AlertRepository
	gate      *SignGate
	locks     *patientLocks
	tx        TxRunner
	metrics   *Metrics
	logger    zerolog.Logger
}

func NewService(evaluator *Evaluator, alerts AlertRepository, logger zerolog.Logger) *Service {
	return &Service{
		evaluator: evaluator,
		alerts:    alerts,
		gate:      NewSignGate(alerts),
		locks:     newPatientLocks(),
		logger:    logger.With().Str("component", "cds").Logger(),
	}
}

func (s *Service) SetMetrics(m *Metrics)   { s.metrics = m }
func (s *Service) SetTxRunner(tx TxRunner) { s.tx = tx }
func (s *Service) Evaluator() *Evaluator   { return s.evaluator }

func validateEvent(ev TriggerEvent) error {
	if ev.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(ev.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEvent)
	}
	if ev.Kind != EventPrescription && ev.Kind != EventOrder {
		return fmt.Errorf("%w: invalid kind: %s", ErrInvalidEvent, ev.Kind)
	}
	return nil
}

// SubmitPrescription evaluates a new prescription and stores the alerts it raises.
func (s *Service) SubmitPrescription(ctx context.Context, ev TriggerEvent, pc PatientContext) ([]*Alert, error) {
	ev.Kind = EventPrescription
	return s.Submit(ctx, ev, pc)
}

// SubmitOrder evaluates a new order and stores the alerts it raises.
func (s *Service) SubmitOrder(ctx context.Context, ev TriggerEvent, pc PatientContext) ([]*Alert, error) {
	ev.Kind = EventOrder
	return s.Submit(ctx, ev, pc)
}

// Submit runs evaluation and appends the new alerts. Store failures are
// logged and the call fails open with no alerts; only invalid input is an
// error.
func (s *Service) Submit(ctx context.Context, ev TriggerEvent, pc PatientContext) ([]*Alert, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	start := time.Now()
	unlock := s.locks.lock(ev.PatientID)
	defer unlock()

	var added []*Alert
	run := func(ctx context.Context) error {
		existing, err := s.alerts.ActiveFor(ctx, ev.PatientID)
		if err != nil {
			return fmt.Errorf("load active alerts: %w", err)
		}
		for _, a := range s.evaluator.Evaluate(ev, pc, existing) {
			ok, err := s.alerts.Add(ctx, a)
			if err != nil {
				return fmt.Errorf("add alert: %w", err)
			}
			if ok {
				added = append(added, a)
			}
		}
		return nil
	}

	var err error
	if s.tx != nil {
		err = s.tx.Run(ctx, ev.PatientID.String(), run)
	} else {
		err = run(ctx)
	}
	s.metrics.observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.failed()
		s.logger.Error().Err(err).
			Str("patient_id", ev.PatientID.String()).
			Str("kind", string(ev.Kind)).
			Str("name", ev.Name).
			Msg("alert evaluation failed open")
		return nil, nil
	}

	for _, a := range added {
		s.metrics.raised(a)
		s.logger.Debug().
			Str("alert_id", a.ID.String()).
			Str("patient_id", a.PatientID.String()).
			Str("type", string(a.Type)).
			Str("severity", a.Severity.String()).
			Msg("alert raised")
	}
	return added, nil
}

// Resolve applies a clinician action. Unknown ids are a no-op.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, action Action) error {
	if !validActions[action] {
		return fmt.Errorf("invalid action: %s", action)
	}
	var err error
	if action == ActionDismiss {
		err = s.alerts.Dismiss(ctx, id)
	} else {
		err = s.alerts.Act(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("%s alert %s: %w", action, id, err)
	}
	s.metrics.resolved(action)
	s.logger.Info().Str("alert_id", id.String()).Str("action", string(action)).Msg("alert resolved")
	return nil
}

func (s *Service) Dismiss(ctx context.Context, id uuid.UUID) error {
	return s.Resolve(ctx, id, ActionDismiss)
}

func (s *Service) Act(ctx context.Context, id uuid.UUID) error {
	return s.Resolve(ctx, id, ActionAcknowledge)
}

func (s *Service) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, bool, error) {
	return s.alerts.GetByID(ctx, id)
}

func (s *Service) ActiveFor(ctx context.Context, patientID uuid.UUID) ([]*Alert, error) {
	return s.alerts.ActiveFor(ctx, patientID)
}

func (s *Service) ActiveForPrescription(ctx context.Context, id uuid.UUID) ([]*Alert, error) {
	return s.alerts.ActiveForPrescription(ctx, id)
}

func (s *Service) ActiveForOrder(ctx context.Context, id uuid.UUID) ([]*Alert, error) {
	return s.alerts.ActiveForOrder(ctx, id)
}

// History returns every alert for the patient including dismissed ones.
func (s *Service) History(ctx context.Context, patientID uuid.UUID) ([]*Alert, error) {
	return s.alerts.ListByPatient(ctx, patientID)
}

func (s *Service) GroupedActiveFor(ctx context.Context, patientID uuid.UUID) (map[string][]*Alert, error) {
	active, err := s.alerts.ActiveFor(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return GroupByCategory(active), nil
}

func (s *Service) GateState(ctx context.Context, patientID uuid.UUID) (GateState, []*Alert, error) {
	return s.gate.State(ctx, patientID)
}

func (s *Service) CanSignSilently(ctx context.Context, patientID uuid.UUID) (bool, error) {
	return s.gate.CanSignSilently(ctx, patientID)
}

// Sign runs the sign-gate. If the gate cannot be read it fails open and
// lets the note be signed.
func (s *Service) Sign(ctx context.Context, patientID uuid.UUID, override bool) SignResult {
	res, err := s.gate.Sign(ctx, patientID, override)
	if err != nil {
		s.metrics.sign("failed_open")
		s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("sign-gate unavailable, signing without check")
		return SignResult{Signed: true}
	}
	switch {
	case res.Overridden:
		ids := make([]string, len(res.Blocking))
		for i, a := range res.Blocking {
			ids[i] = a.ID.String()
		}
		s.metrics.sign("overridden")
		s.logger.Warn().
			Str("patient_id", patientID.String()).
			Int("blocking", len(res.Blocking)).
			Strs("alert_ids", ids).
			Msg("note signed over unresolved alerts")
	case res.Signed:
		s.metrics.sign("clear")
	default:
		s.metrics.sign("blocked")
	}
	return res
}

func (s *Service) RequestSign(ctx context.Context, patientID uuid.UUID) SignResult {
	return s.Sign(ctx, patientID, false)
}

// patientLocks hands out one mutex per patient and frees it when unused.
type patientLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*patientLock
}

type patientLock struct {
	mu   sync.Mutex
	refs int
}

func newPatientLocks() *patientLocks {
	return &patientLocks{m: make(map[uuid.UUID]*patientLock)}
}

func (l *patientLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	pl, ok := l.m[id]
	if !ok {
		pl = &patientLock{}
		l.m[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
