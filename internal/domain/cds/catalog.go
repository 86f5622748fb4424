package cds

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Candidate is an alert a rule wants raised, before ids and timestamps are
// assigned by the Evaluator.
type Candidate struct {
	Type           AlertType
	Severity       Severity
	Title          string
	Message        string
	Recommendation string
	RelatedOrderID *uuid.UUID
}

// Rule is one Rule Catalog entry. Match must be a pure function of its inputs.
type Rule interface {
	Name() string
	Type() AlertType
	Trigger() EventKind
	Match(ev TriggerEvent, pc PatientContext) []Candidate
}

// Catalog is evaluated in declaration order.
type Catalog []Rule

// Types lists the distinct alert types the catalog can produce.
func (c Catalog) Types() []AlertType {
	seen := make(map[AlertType]bool)
	var out []AlertType
	for _, r := range c {
		if !seen[r.Type()] {
			seen[r.Type()] = true
			out = append(out, r.Type())
		}
	}
	return out
}

// Matching is case-insensitive substring containment on names. Combination
// products ("amoxicillin-clavulanate") match their components on purpose.
func matchToken(name string, tokens []string) (string, bool) {
	n := strings.ToLower(name)
	if n == "" {
		return "", false
	}
	for _, t := range tokens {
		if t != "" && strings.Contains(n, strings.ToLower(t)) {
			return t, true
		}
	}
	return "", false
}

// -- Allergy cross-reactivity --

// AllergyClass maps any allergy whose name contains one of Names to the
// medication tokens that cross-react with it.
type AllergyClass struct {
	Names  []string
	Tokens []string
}

type AllergyRule struct {
	Classes        []AllergyClass
	Severity       Severity
	Recommendation string
}

func (r AllergyRule) Name() string       { return "allergy-cross-reactivity" }
func (r AllergyRule) Type() AlertType    { return TypeDrugAllergy }
func (r AllergyRule) Trigger() EventKind { return EventPrescription }

func (r AllergyRule) tokensFor(allergy string) []string {
	for _, cls := range r.Classes {
		if _, ok := matchToken(allergy, cls.Names); ok {
			return cls.Tokens
		}
	}
	// Unmapped allergens still match the medication by their own name.
	return []string{allergy}
}

// Match raises at most one candidate, naming the first documented allergy
// that cross-reacts.
func (r AllergyRule) Match(ev TriggerEvent, pc PatientContext) []Candidate {
	for _, allergy := range pc.Allergies {
		allergy = strings.TrimSpace(allergy)
		if allergy == "" {
			continue
		}
		if _, ok := matchToken(ev.Name, r.tokensFor(allergy)); !ok {
			continue
		}
		return []Candidate{{
			Type:           TypeDrugAllergy,
			Severity:       r.Severity,
			Title:          "Drug-Allergy Alert",
			Message:        fmt.Sprintf("%s may cross-react with the documented %s allergy.", ev.Name, allergy),
			Recommendation: r.Recommendation,
		}}
	}
	return nil
}

// -- Drug-drug interaction --

// InteractionRule is one row of the interaction table. A row matches in
// either direction between the new medication and an active one.
type InteractionRule struct {
	ID             string
	Subject        []string
	Interacting    []string
	Severity       Severity
	Title          string
	Message        string
	Recommendation string
}

func (r InteractionRule) Name() string       { return "interaction:" + r.ID }
func (r InteractionRule) Type() AlertType    { return TypeDrugInteraction }
func (r InteractionRule) Trigger() EventKind { return EventPrescription }

func (r InteractionRule) Match(ev TriggerEvent, pc PatientContext) []Candidate {
	_, newIsSubject := matchToken(ev.Name, r.Subject)
	_, newIsInteracting := matchToken(ev.Name, r.Interacting)
	if !newIsSubject && !newIsInteracting {
		return nil
	}
	for _, med := range pc.ActiveMedications {
		forward := newIsSubject && hasToken(med, r.Interacting)
		reverse := newIsInteracting && hasToken(med, r.Subject)
		if !forward && !reverse {
			continue
		}
		return []Candidate{{
			Type:           TypeDrugInteraction,
			Severity:       r.Severity,
			Title:          r.Title,
			Message:        fmt.Sprintf("%s + %s: %s", ev.Name, med, r.Message),
			Recommendation: r.Recommendation,
		}}
	}
	return nil
}

func hasToken(name string, tokens []string) bool {
	_, ok := matchToken(name, tokens)
	return ok
}

// -- Dosage range --

var doseRe = regexp.MustCompile(`(?i)((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)\s*(mcg|µg|ug|mg|g)\b`)

// ParseDoseMg extracts the first dose expression in s and converts it to
// milligrams. Thousands separators ("1,000mg") are accepted.
func ParseDoseMg(s string) (float64, bool) {
	m := doseRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "mcg", "µg", "ug":
		v /= 1000
	case "g":
		v *= 1000
	}
	return v, true
}

// DosageRule fires when the named medication is prescribed at or above
// CeilingMg.
type DosageRule struct {
	Token          string
	CeilingMg      float64
	Message        string
	Recommendation string
}

func (r DosageRule) Name() string       { return "dosage:" + r.Token }
func (r DosageRule) Type() AlertType    { return TypeDosageRange }
func (r DosageRule) Trigger() EventKind { return EventPrescription }

func (r DosageRule) Match(ev TriggerEvent, _ PatientContext) []Candidate {
	if !hasToken(ev.Name, []string{r.Token}) {
		return nil
	}
	dose, ok := ParseDoseMg(ev.Dosage)
	if !ok {
		dose, ok = ParseDoseMg(ev.Name)
	}
	if !ok || dose < r.CeilingMg {
		return nil
	}
	return []Candidate{{
		Type:           TypeDosageRange,
		Severity:       SeverityModerate,
		Title:          "Dosage Range Warning",
		Message:        fmt.Sprintf("%s: %s", ev.Name, r.Message),
		Recommendation: r.Recommendation,
	}}
}

// -- Controlled substance --

type ControlledSubstanceRule struct {
	Tokens []string
}

func (r ControlledSubstanceRule) Name() string       { return "controlled-substance" }
func (r ControlledSubstanceRule) Type() AlertType    { return TypeGuideline }
func (r ControlledSubstanceRule) Trigger() EventKind { return EventPrescription }

func (r ControlledSubstanceRule) Match(ev TriggerEvent, _ PatientContext) []Candidate {
	if !ev.Controlled && !hasToken(ev.Name, r.Tokens) {
		return nil
	}
	return []Candidate{{
		Type:           TypeGuideline,
		Severity:       SeverityModerate,
		Title:          "Controlled Substance",
		Message:        fmt.Sprintf("%s is a controlled substance.", ev.Name),
		Recommendation: "Document the PDMP check, indication and dispensed quantity before signing.",
	}}
}

// -- Duplicate order --

// DuplicateOrderRule fires when an order with the same test name is still
// open. ActiveStatuses are the non-terminal order statuses.
type DuplicateOrderRule struct {
	ActiveStatuses []string
}

func (r DuplicateOrderRule) Name() string       { return "duplicate-order" }
func (r DuplicateOrderRule) Type() AlertType    { return TypeDuplicateOrder }
func (r DuplicateOrderRule) Trigger() EventKind { return EventOrder }

func (r DuplicateOrderRule) open(status string) bool {
	for _, s := range r.ActiveStatuses {
		if strings.EqualFold(strings.TrimSpace(status), s) {
			return true
		}
	}
	return false
}

func (r DuplicateOrderRule) Match(ev TriggerEvent, pc PatientContext) []Candidate {
	name := strings.TrimSpace(ev.Name)
	if name == "" {
		return nil
	}
	for _, o := range pc.ExistingOrders {
		if o.ID == ev.LinkedID && o.ID != uuid.Nil {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(o.Name), name) || !r.open(o.Status) {
			continue
		}
		related := o.ID
		return []Candidate{{
			Type:           TypeDuplicateOrder,
			Severity:       SeverityModerate,
			Title:          "Duplicate Order",
			Message:        fmt.Sprintf("%s is already on file as order %s (%s).", o.Name, o.ID, o.Status),
			Recommendation: "Review the existing order before placing a duplicate; cancel this order if the existing one is still pending.",
			RelatedOrderID: &related,
		}}
	}
	return nil
}

// -- Contrast imaging --

// ContrastImagingRule fires when an imaging order that implies contrast dye
// is placed for a patient on a metformin-class medication.
type ContrastImagingRule struct {
	ImagingTokens   []string
	MetforminTokens []string
}

func (r ContrastImagingRule) Name() string       { return "contrast-imaging" }
func (r ContrastImagingRule) Type() AlertType    { return TypeDrugInteraction }
func (r ContrastImagingRule) Trigger() EventKind { return EventOrder }

func (r ContrastImagingRule) Match(ev TriggerEvent, pc PatientContext) []Candidate {
	if !hasToken(ev.Name, r.ImagingTokens) && !hasToken(ev.TestType, r.ImagingTokens) {
		return nil
	}
	for _, med := range pc.ActiveMedications {
		if !hasToken(med, r.MetforminTokens) {
			continue
		}
		return []Candidate{{
			Type:           TypeDrugInteraction,
			Severity:       SeverityMajor,
			Title:          "Contrast-Metformin Interaction",
			Message:        fmt.Sprintf("%s may require iodinated contrast; patient is on %s (risk of lactic acidosis).", ev.Name, med),
			Recommendation: "Hold metformin for 48 hours after the contrast study and confirm renal function before resuming.",
		}}
	}
	return nil
}
