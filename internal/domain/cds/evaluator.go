package cds

import (
	"time"

	"github.com/google/uuid"
)

type dedupKey struct {
	typ    AlertType
	linked uuid.UUID
}

// Evaluator applies a Catalog to one trigger event. It performs no I/O and
// never mutates its inputs; appending the result to a store is up to the
// caller.
type Evaluator struct {
	catalog Catalog
	now     func() time.Time
	newID   func() uuid.UUID
}

func NewEvaluator(catalog Catalog) *Evaluator {
	return &Evaluator{
		catalog: catalog,
		now:     time.Now,
		newID:   uuid.New,
	}
}

// Catalog returns the rules the evaluator runs.
func (e *Evaluator) Catalog() Catalog { return e.catalog }

// Evaluate returns the new alerts raised by ev, in catalog order. A candidate
// is dropped when existing, or an earlier candidate of the same evaluation,
// already holds a non-dismissed alert with the same type and back-reference.
func (e *Evaluator) Evaluate(ev TriggerEvent, pc PatientContext, existing []*Alert) []*Alert {
	active := make(map[dedupKey]bool, len(existing))
	for _, a := range existing {
		if a == nil || a.Dismissed || a.PatientID != ev.PatientID {
			continue
		}
		if id, ok := a.LinkedID(); ok {
			active[dedupKey{a.Type, id}] = true
		}
	}

	createdAt := e.now()
	var out []*Alert
	for _, rule := range e.catalog {
		if rule.Trigger() != ev.Kind {
			continue
		}
		for _, c := range safeMatch(rule, ev, pc) {
			if c.Recommendation == "" || c.Title == "" {
				continue
			}
			if ev.LinkedID != uuid.Nil {
				key := dedupKey{c.Type, ev.LinkedID}
				if active[key] {
					continue
				}
				active[key] = true
			}
			out = append(out, e.build(ev, c, createdAt))
		}
	}
	return out
}

func (e *Evaluator) build(ev TriggerEvent, c Candidate, createdAt time.Time) *Alert {
	a := &Alert{
		ID:             e.newID(),
		PatientID:      ev.PatientID,
		Type:           c.Type,
		Severity:       c.Severity,
		Title:          c.Title,
		Message:        c.Message,
		Recommendation: c.Recommendation,
		RelatedOrderID: c.RelatedOrderID,
		CreatedAt:      createdAt,
	}
	if ev.LinkedID != uuid.Nil {
		linked := ev.LinkedID
		switch ev.Kind {
		case EventPrescription:
			a.LinkedPrescriptionID = &linked
		case EventOrder:
			a.LinkedOrderID = &linked
		}
	}
	return a
}

// safeMatch runs a rule and discards its output if it panics, so a broken
// rule raises nothing instead of failing the whole evaluation.
func safeMatch(rule Rule, ev TriggerEvent, pc PatientContext) (out []Candidate) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	return rule.Match(ev, pc)
}
