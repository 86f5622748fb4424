package cds

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

var fixedNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newTestEvaluator() *Evaluator {
	e := NewEvaluator(DefaultCatalog())
	e.now = func() time.Time { return fixedNow }
	return e
}

func prescription(patient uuid.UUID, name string) TriggerEvent {
	return TriggerEvent{Kind: EventPrescription, PatientID: patient, LinkedID: uuid.New(), Name: name}
}

func order(patient uuid.UUID, name string) TriggerEvent {
	return TriggerEvent{Kind: EventOrder, PatientID: patient, LinkedID: uuid.New(), Name: name}
}

func TestEvaluate_AllergyScenario(t *testing.T) {
	ev := prescription(uuid.New(), "Amoxicillin 500mg")
	alerts := newTestEvaluator().Evaluate(ev, PatientContext{Allergies: []string{"Penicillin"}}, nil)

	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Type != TypeDrugAllergy || a.Severity != SeverityContraindicated {
		t.Errorf("expected contraindicated drug_allergy, got %s %s", a.Severity, a.Type)
	}
	if a.PatientID != ev.PatientID {
		t.Errorf("expected patient %s, got %s", ev.PatientID, a.PatientID)
	}
	if a.LinkedPrescriptionID == nil || *a.LinkedPrescriptionID != ev.LinkedID || a.LinkedOrderID != nil {
		t.Errorf("expected prescription back-reference only, got %+v", a)
	}
	if a.Dismissed || a.Actioned {
		t.Error("new alerts must start unresolved")
	}
	if !a.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected createdAt from clock, got %v", a.CreatedAt)
	}
}

func TestEvaluate_InteractionScenario(t *testing.T) {
	ev := prescription(uuid.New(), "Aspirin 81mg")
	alerts := newTestEvaluator().Evaluate(ev, PatientContext{ActiveMedications: []string{"Warfarin 5mg"}}, nil)

	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Type != TypeDrugInteraction || alerts[0].Severity != SeverityMajor {
		t.Errorf("expected major drug_interaction, got %s %s", alerts[0].Severity, alerts[0].Type)
	}
	if !strings.Contains(strings.ToLower(alerts[0].Message), "bleeding risk") {
		t.Errorf("expected message to mention bleeding risk, got %q", alerts[0].Message)
	}
}

func TestEvaluate_ContrastImagingScenario(t *testing.T) {
	ev := order(uuid.New(), "Chest X-Ray")
	alerts := newTestEvaluator().Evaluate(ev, PatientContext{ActiveMedications: []string{"Metformin 500mg"}}, nil)

	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Type != TypeDrugInteraction || a.Severity != SeverityMajor {
		t.Errorf("expected major drug_interaction, got %s %s", a.Severity, a.Type)
	}
	if !strings.Contains(a.Recommendation, "48 hours") || !strings.Contains(strings.ToLower(a.Recommendation), "metformin") {
		t.Errorf("expected 48h metformin hold, got %q", a.Recommendation)
	}
	if a.LinkedOrderID == nil || *a.LinkedOrderID != ev.LinkedID {
		t.Errorf("expected order back-reference, got %+v", a)
	}
}

func TestEvaluate_DuplicateOrderScenario(t *testing.T) {
	existing := uuid.New()
	ev := order(uuid.New(), "CBC")
	pc := PatientContext{ExistingOrders: []ExistingOrder{{ID: existing, Name: "CBC", Status: "Ordered"}}}
	alerts := newTestEvaluator().Evaluate(ev, pc, nil)

	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Type != TypeDuplicateOrder || a.Severity != SeverityModerate {
		t.Errorf("expected moderate duplicate_order, got %s %s", a.Severity, a.Type)
	}
	if a.RelatedOrderID == nil || *a.RelatedOrderID != existing {
		t.Errorf("expected reference to existing order %s, got %v", existing, a.RelatedOrderID)
	}
	if !strings.Contains(a.Message, existing.String()) {
		t.Errorf("expected message to reference the existing order id, got %q", a.Message)
	}
}

func TestEvaluate_RetriggerAfterDismissal(t *testing.T) {
	e := newTestEvaluator()
	ev := order(uuid.New(), "CBC")
	pc := PatientContext{ExistingOrders: []ExistingOrder{{ID: uuid.New(), Name: "CBC", Status: "Ordered"}}}

	first := e.Evaluate(ev, pc, nil)
	if len(first) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(first))
	}
	if again := e.Evaluate(ev, pc, first); len(again) != 0 {
		t.Fatalf("expected active alert to suppress duplicate, got %d", len(again))
	}

	first[0].Dismissed = true
	second := e.Evaluate(ev, pc, first)
	if len(second) != 1 {
		t.Fatalf("expected a new alert after dismissal, got %d", len(second))
	}
	if second[0].ID == first[0].ID {
		t.Error("expected a fresh alert id")
	}
}

func TestEvaluate_QuietBaseline(t *testing.T) {
	e := newTestEvaluator()
	patient := uuid.New()
	for _, name := range []string{"Lisinopril 10mg", "Amoxicillin 500mg", "Warfarin 5mg", "Aspirin 81mg", "Metformin 500mg"} {
		if got := e.Evaluate(prescription(patient, name), PatientContext{}, nil); len(got) != 0 {
			t.Errorf("prescription %q: expected no alerts, got %d", name, len(got))
		}
	}
	for _, name := range []string{"CBC", "Chest X-Ray", "MRI Brain", "Basic Metabolic Panel"} {
		if got := e.Evaluate(order(patient, name), PatientContext{}, nil); len(got) != 0 {
			t.Errorf("order %q: expected no alerts, got %d", name, len(got))
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEvaluator(DefaultCatalog())
	ev := prescription(uuid.New(), "Simvastatin 80mg")
	pc := PatientContext{
		Allergies:         []string{"Sulfa"},
		ActiveMedications: []string{"Clarithromycin 500mg", "Amiodarone 200mg"},
	}

	a := e.Evaluate(ev, pc, nil)
	b := e.Evaluate(ev, pc, nil)
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("expected equal non-empty results, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Type != b[i].Type || a[i].Severity != b[i].Severity ||
			a[i].Message != b[i].Message || a[i].Recommendation != b[i].Recommendation {
			t.Errorf("alert %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestEvaluate_CatalogOrder(t *testing.T) {
	ev := prescription(uuid.New(), "Simvastatin 80mg")
	pc := PatientContext{ActiveMedications: []string{"Clarithromycin 500mg"}}
	alerts := newTestEvaluator().Evaluate(ev, pc, nil)

	if len(alerts) != 2 {
		t.Fatalf("expected interaction and dosage alerts, got %d", len(alerts))
	}
	if alerts[0].Type != TypeDrugInteraction || alerts[1].Type != TypeDosageRange {
		t.Errorf("expected catalog order interaction then dosage, got %s then %s", alerts[0].Type, alerts[1].Type)
	}
	if !alerts[0].CreatedAt.Equal(alerts[1].CreatedAt) {
		t.Error("expected one timestamp per evaluation")
	}
}

func TestEvaluate_IdempotentAgainstActive(t *testing.T) {
	e := newTestEvaluator()
	ev := prescription(uuid.New(), "Amoxicillin 500mg")
	pc := PatientContext{Allergies: []string{"Penicillin"}}

	prior := e.Evaluate(ev, pc, nil)
	if got := e.Evaluate(ev, pc, prior); len(got) != 0 {
		t.Errorf("expected no new alerts, got %d", len(got))
	}

	prior[0].Actioned = true
	if got := e.Evaluate(ev, pc, prior); len(got) != 0 {
		t.Errorf("actioned alert is still active and must suppress, got %d", len(got))
	}
}

func TestEvaluate_DedupIgnoresOtherPatients(t *testing.T) {
	e := newTestEvaluator()
	ev := prescription(uuid.New(), "Amoxicillin 500mg")
	pc := PatientContext{Allergies: []string{"Penicillin"}}
	prior := e.Evaluate(ev, pc, nil)
	prior[0].PatientID = uuid.New()

	if got := e.Evaluate(ev, pc, prior); len(got) != 1 {
		t.Errorf("expected alert for this patient, got %d", len(got))
	}
}

func TestEvaluate_DoesNotMutateInputs(t *testing.T) {
	pc := PatientContext{Allergies: []string{"Penicillin"}, ActiveMedications: []string{"Warfarin"}}
	existing := []*Alert{{ID: uuid.New(), Type: TypeGuideline}}
	newTestEvaluator().Evaluate(prescription(uuid.New(), "Amoxicillin"), pc, existing)

	if len(pc.Allergies) != 1 || pc.Allergies[0] != "Penicillin" || len(existing) != 1 || existing[0].Dismissed {
		t.Error("expected inputs to be left untouched")
	}
}

func TestEvaluate_NilExistingEntriesIgnored(t *testing.T) {
	ev := prescription(uuid.New(), "Amoxicillin 500mg")
	got := newTestEvaluator().Evaluate(ev, PatientContext{Allergies: []string{"Penicillin"}}, []*Alert{nil})
	if len(got) != 1 {
		t.Errorf("expected 1 alert, got %d", len(got))
	}
}

type panicRule struct{}

func (panicRule) Name() string       { return "panic" }
func (panicRule) Type() AlertType    { return TypeGuideline }
func (panicRule) Trigger() EventKind { return EventPrescription }
func (panicRule) Match(TriggerEvent, PatientContext) []Candidate {
	panic("broken rule")
}

type staticRule struct {
	trigger EventKind
	c       Candidate
}

func (r staticRule) Name() string       { return "static" }
func (r staticRule) Type() AlertType    { return r.c.Type }
func (r staticRule) Trigger() EventKind { return r.trigger }
func (r staticRule) Match(TriggerEvent, PatientContext) []Candidate {
	return []Candidate{r.c}
}

func TestEvaluate_PanickingRuleFailsOpen(t *testing.T) {
	e := NewEvaluator(Catalog{
		panicRule{},
		staticRule{trigger: EventPrescription, c: Candidate{Type: TypeGuideline, Title: "ok", Recommendation: "ok"}},
	})
	got := e.Evaluate(prescription(uuid.New(), "Anything"), PatientContext{}, nil)
	if len(got) != 1 {
		t.Fatalf("expected remaining rules to run, got %d alerts", len(got))
	}
}

func TestEvaluate_TriggerFilter(t *testing.T) {
	e := NewEvaluator(Catalog{
		staticRule{trigger: EventOrder, c: Candidate{Type: TypeGuideline, Title: "order only", Recommendation: "x"}},
	})
	if got := e.Evaluate(prescription(uuid.New(), "Anything"), PatientContext{}, nil); len(got) != 0 {
		t.Errorf("expected order rule to skip prescriptions, got %d", len(got))
	}
}

func TestEvaluate_DropsCandidatesWithoutRecommendation(t *testing.T) {
	e := NewEvaluator(Catalog{
		staticRule{trigger: EventPrescription, c: Candidate{Type: TypeGuideline, Title: "no advice"}},
	})
	if got := e.Evaluate(prescription(uuid.New(), "Anything"), PatientContext{}, nil); len(got) != 0 {
		t.Errorf("expected candidate without recommendation to be dropped, got %d", len(got))
	}
}

func TestEvaluate_OverlappingAllergiesRaiseOneAlert(t *testing.T) {
	ev := prescription(uuid.New(), "Amoxicillin 500mg")
	alerts := newTestEvaluator().Evaluate(ev, PatientContext{Allergies: []string{"Penicillin", "Amoxicillin"}}, nil)

	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}
	if alerts[0].Type != TypeDrugAllergy || *alerts[0].LinkedPrescriptionID != ev.LinkedID {
		t.Errorf("unexpected alert: %+v", alerts[0])
	}
}

func TestEvaluate_DedupWithinOneEvaluation(t *testing.T) {
	c := Candidate{Type: TypeGuideline, Title: "same", Recommendation: "x"}
	e := NewEvaluator(Catalog{
		staticRule{trigger: EventPrescription, c: c},
		staticRule{trigger: EventPrescription, c: c},
	})
	if got := e.Evaluate(prescription(uuid.New(), "Anything"), PatientContext{}, nil); len(got) != 1 {
		t.Errorf("expected one alert per type and back-reference, got %d", len(got))
	}
}

func TestEvaluate_NoLinkedIDSkipsDedup(t *testing.T) {
	e := newTestEvaluator()
	ev := prescription(uuid.New(), "Amoxicillin 500mg")
	ev.LinkedID = uuid.Nil
	pc := PatientContext{Allergies: []string{"Penicillin"}}

	prior := e.Evaluate(ev, pc, nil)
	if len(prior) != 1 || prior[0].LinkedPrescriptionID != nil {
		t.Fatalf("expected unlinked alert, got %+v", prior)
	}
	if got := e.Evaluate(ev, pc, prior); len(got) != 1 {
		t.Errorf("expected no dedup without a back-reference, got %d", len(got))
	}
}
