package cds

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/cdss/internal/platform/cdshooks"
)

const (
	MedicationSafetyServiceID = "cdss-medication-safety"
	OrderSafetyServiceID      = "cdss-order-safety"

	hookOrderSelect = "order-select"
	prefetchContext = "patientContext"
	cardSourceLabel = "CDSS Alert Engine"
)

// RegisterHooks exposes prescription and order evaluation as CDS Hooks
// services. Every card carries the alert id as its uuid so feedback can be
// routed back to Dismiss and Act.
func RegisterHooks(reg *cdshooks.Registry, svc *Service) {
	reg.RegisterService(cdshooks.Service{
		Hook:        hookOrderSelect,
		Title:       "Medication Safety",
		Description: "Allergy, interaction, dosage and controlled-substance checks for a selected medication",
		ID:          MedicationSafetyServiceID,
		Prefetch:    map[string]string{prefetchContext: "Patient/{{context.patientId}}/$cds-context"},
	}, func(ctx context.Context, req cdshooks.Request) (*cdshooks.Response, error) {
		return svc.invokeHook(ctx, req, EventPrescription, "medication")
	})
	reg.RegisterService(cdshooks.Service{
		Hook:        hookOrderSelect,
		Title:       "Order Safety",
		Description: "Duplicate order and contrast imaging checks for a selected order",
		ID:          OrderSafetyServiceID,
		Prefetch:    map[string]string{prefetchContext: "Patient/{{context.patientId}}/$cds-context"},
	}, func(ctx context.Context, req cdshooks.Request) (*cdshooks.Response, error) {
		return svc.invokeHook(ctx, req, EventOrder, "order")
	})

	feedback := func(ctx context.Context, _ string, fb cdshooks.Feedback) error {
		return svc.applyFeedback(ctx, fb)
	}
	reg.RegisterFeedbackHandler(MedicationSafetyServiceID, feedback)
	reg.RegisterFeedbackHandler(OrderSafetyServiceID, feedback)
}

func (s *Service) invokeHook(ctx context.Context, req cdshooks.Request, kind EventKind, nameKey string) (*cdshooks.Response, error) {
	patientID, err := uuid.Parse(req.ContextString("patientId"))
	if err != nil {
		return nil, fmt.Errorf("%w: patientId: %v", cdshooks.ErrInvalidContext, err)
	}
	ev := TriggerEvent{
		Kind:       kind,
		PatientID:  patientID,
		Name:       req.ContextString(nameKey),
		Dosage:     req.ContextString("dosage"),
		TestType:   req.ContextString("testType"),
		Controlled: req.ContextBool("controlled"),
	}
	if raw := req.ContextString("linkedId"); raw != "" {
		if ev.LinkedID, err = uuid.Parse(raw); err != nil {
			return nil, fmt.Errorf("%w: linkedId: %v", cdshooks.ErrInvalidContext, err)
		}
	}
	var pc PatientContext
	if _, err := req.DecodePrefetch(prefetchContext, &pc); err != nil {
		return nil, fmt.Errorf("%w: %v", cdshooks.ErrInvalidContext, err)
	}

	alerts, err := s.Submit(ctx, ev, pc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cdshooks.ErrInvalidContext, err)
	}
	cards := make([]cdshooks.Card, 0, len(alerts))
	for _, a := range alerts {
		cards = append(cards, alertCard(a))
	}
	return &cdshooks.Response{Cards: cards}, nil
}

func alertCard(a *Alert) cdshooks.Card {
	return cdshooks.Card{
		UUID:      a.ID.String(),
		Summary:   a.Title,
		Detail:    a.Message,
		Indicator: cardIndicator(a.Severity),
		Source: cdshooks.Source{
			Label: cardSourceLabel,
			Topic: &cdshooks.Coding{Code: string(a.Type), Display: CategoryLabel(a.Type)},
		},
		Suggestions: []cdshooks.Suggestion{{Label: a.Recommendation, IsRecommended: true}},
	}
}

func cardIndicator(s Severity) string {
	switch {
	case s >= SeverityMajor:
		return cdshooks.IndicatorCritical
	case s == SeverityModerate:
		return cdshooks.IndicatorWarning
	default:
		return cdshooks.IndicatorInfo
	}
}

// applyFeedback treats an overridden card as a dismissal and an accepted
// card as acting on the alert. Other outcomes are ignored, as are cards that
// do not name an alert.
func (s *Service) applyFeedback(ctx context.Context, fb cdshooks.Feedback) error {
	id, err := uuid.Parse(fb.Card)
	if err != nil {
		s.logger.Warn().Str("card", fb.Card).Str("outcome", fb.Outcome).Msg("feedback for unknown card ignored")
		return nil
	}
	switch fb.Outcome {
	case cdshooks.OutcomeOverridden:
		return s.Resolve(ctx, id, ActionDismiss)
	case cdshooks.OutcomeAccepted:
		return s.Resolve(ctx, id, ActionAcknowledge)
	}
	return nil
}
