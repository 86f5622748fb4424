package cds

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AlertType is the category of safety concern an alert represents.
type AlertType string

const (
	TypeDrugInteraction AlertType = "drug_interaction"
	TypeDrugAllergy     AlertType = "drug_allergy"
	TypeDosageRange     AlertType = "dosage_range"
	TypeDuplicateOrder  AlertType = "duplicate_order"
	TypeFormulary       AlertType = "formulary"
	TypeGuideline       AlertType = "guideline"
)

// Severity is an ordered risk classification. The zero value is SeverityInfo.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityMinor
	SeverityModerate
	SeverityMajor
	SeverityContraindicated
)

var severityNames = [...]string{"info", "minor", "moderate", "major", "contraindicated"}

// Less reports whether s is less severe than o.
func (s Severity) Less(o Severity) bool { return s < o }

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityContraindicated {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity accepts the lower-case severity names.
func ParseSeverity(v string) (Severity, error) {
	for i, name := range severityNames {
		if strings.EqualFold(v, name) {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity: %q", v)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseSeverity(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Alert is a single detected safety concern. Only Dismissed and Actioned
// change after creation.
type Alert struct {
	ID                   uuid.UUID  `json:"id"`
	PatientID            uuid.UUID  `json:"patient_id"`
	Type                 AlertType  `json:"type"`
	Severity             Severity   `json:"severity"`
	Title                string     `json:"title"`
	Message              string     `json:"message"`
	Recommendation       string     `json:"recommendation"`
	LinkedPrescriptionID *uuid.UUID `json:"linked_prescription_id,omitempty"`
	LinkedOrderID        *uuid.UUID `json:"linked_order_id,omitempty"`
	RelatedOrderID       *uuid.UUID `json:"related_order_id,omitempty"`
	Dismissed            bool       `json:"dismissed"`
	Actioned             bool       `json:"actioned"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Resolved reports whether a clinician has dismissed or acted on the alert.
func (a *Alert) Resolved() bool {
	return a.Dismissed || a.Actioned
}

// LinkedID returns whichever back-reference is set.
func (a *Alert) LinkedID() (uuid.UUID, bool) {
	switch {
	case a.LinkedPrescriptionID != nil:
		return *a.LinkedPrescriptionID, true
	case a.LinkedOrderID != nil:
		return *a.LinkedOrderID, true
	}
	return uuid.Nil, false
}

// clone copies a along with its back-reference pointers.
func (a *Alert) clone() *Alert {
	c := *a
	c.LinkedPrescriptionID = cloneID(a.LinkedPrescriptionID)
	c.LinkedOrderID = cloneID(a.LinkedOrderID)
	c.RelatedOrderID = cloneID(a.RelatedOrderID)
	return &c
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// SortBySeverity orders alerts most severe first, keeping creation order
// among equal severities.
func SortBySeverity(alerts []*Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[j].Severity.Less(alerts[i].Severity)
	})
}

// ExistingOrder is an order already on file for the patient.
type ExistingOrder struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
}

// PatientContext is the read-only clinical snapshot evaluation runs against.
// Nil collections are treated as empty.
type PatientContext struct {
	Allergies         []string        `json:"allergies"`
	ActiveMedications []string        `json:"active_medications"`
	ExistingOrders    []ExistingOrder `json:"existing_orders"`
}

// EventKind distinguishes prescription submissions from order submissions.
type EventKind string

const (
	EventPrescription EventKind = "prescription"
	EventOrder        EventKind = "order"
)

// TriggerEvent carries the newly entered medication or order.
type TriggerEvent struct {
	Kind       EventKind `json:"kind"`
	PatientID  uuid.UUID `json:"patient_id"`
	LinkedID   uuid.UUID `json:"linked_id"`
	Name       string    `json:"name"`
	Dosage     string    `json:"dosage,omitempty"`
	TestType   string    `json:"test_type,omitempty"`
	Controlled bool      `json:"controlled,omitempty"`
}
