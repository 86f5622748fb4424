// Package cdshooks serves the HL7 CDS Hooks 2.0 REST surface: discovery,
// hook invocation and card feedback.
package cdshooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
)

// Indicator values for Card.Indicator.
const (
	IndicatorInfo     = "info"
	IndicatorWarning  = "warning"
	IndicatorCritical = "critical"
)

// Feedback outcomes.
const (
	OutcomeAccepted   = "accepted"
	OutcomeOverridden = "overridden"
)

// ErrInvalidContext marks handler errors caused by the request itself; they
// are answered with 400 instead of 500.
var ErrInvalidContext = errors.New("invalid hook context")

// Service describes one CDS service returned in discovery.
type Service struct {
	Hook        string            `json:"hook"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description"`
	ID          string            `json:"id"`
	Prefetch    map[string]string `json:"prefetch,omitempty"`
}

// Request is the payload POSTed to invoke a hook.
type Request struct {
	Hook         string                     `json:"hook"`
	HookInstance string                     `json:"hookInstance"`
	FHIRServer   string                     `json:"fhirServer,omitempty"`
	Context      map[string]json.RawMessage `json:"context"`
	Prefetch     map[string]json.RawMessage `json:"prefetch,omitempty"`
}

// ContextString returns a string-valued context field, or "" when the field
// is missing or not a string.
func (r Request) ContextString(key string) string {
	raw, ok := r.Context[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// ContextBool accepts a JSON boolean or the strings "true" and "false".
func (r Request) ContextBool(key string) bool {
	raw, ok := r.Context[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return r.ContextString(key) == "true"
}

// DecodePrefetch unmarshals the named prefetch entry into v. It reports
// false when the entry is absent.
func (r Request) DecodePrefetch(key string, v interface{}) (bool, error) {
	raw, ok := r.Prefetch[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode prefetch %s: %w", key, err)
	}
	return true, nil
}

// Card is a single card in the hook response.
type Card struct {
	UUID            string       `json:"uuid,omitempty"`
	Summary         string       `json:"summary"`
	Detail          string       `json:"detail,omitempty"`
	Indicator       string       `json:"indicator"`
	Source          Source       `json:"source"`
	Suggestions     []Suggestion `json:"suggestions,omitempty"`
	OverrideReasons []Coding     `json:"overrideReasons,omitempty"`
}

type Source struct {
	Label string  `json:"label"`
	URL   string  `json:"url,omitempty"`
	Topic *Coding `json:"topic,omitempty"`
}

type Suggestion struct {
	Label         string `json:"label"`
	UUID          string `json:"uuid,omitempty"`
	IsRecommended bool   `json:"isRecommended,omitempty"`
}

type Coding struct {
	Code    string `json:"code"`
	System  string `json:"system,omitempty"`
	Display string `json:"display,omitempty"`
}

// Response is returned from hook invocation. Cards is never null on the wire.
type Response struct {
	Cards []Card `json:"cards"`
}

// Feedback records what the user did with a card.
type Feedback struct {
	Card             string   `json:"card"`
	Outcome          string   `json:"outcome"`
	OverrideReasons  []Coding `json:"overrideReasons,omitempty"`
	OutcomeTimestamp string   `json:"outcomeTimestamp,omitempty"`
}

type feedbackEnvelope struct {
	Feedback []Feedback `json:"feedback"`
}

// ServiceHandler processes a hook request and returns cards.
type ServiceHandler func(ctx context.Context, req Request) (*Response, error)

// FeedbackHandler processes one feedback entry for a service.
type FeedbackHandler func(ctx context.Context, serviceID string, fb Feedback) error

// Registry holds the registered services in registration order.
type Registry struct {
	mu               sync.RWMutex
	services         map[string]Service
	handlers         map[string]ServiceHandler
	feedbackHandlers map[string]FeedbackHandler
	order            []string
}

func NewRegistry() *Registry {
	return &Registry{
		services:         make(map[string]Service),
		handlers:         make(map[string]ServiceHandler),
		feedbackHandlers: make(map[string]FeedbackHandler),
	}
}

// RegisterService registers svc; re-registering an id replaces it in place.
func (r *Registry) RegisterService(svc Service, handler ServiceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[svc.ID]; !exists {
		r.order = append(r.order, svc.ID)
	}
	r.services[svc.ID] = svc
	r.handlers[svc.ID] = handler
}

func (r *Registry) RegisterFeedbackHandler(serviceID string, handler FeedbackHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedbackHandlers[serviceID] = handler
}

// Services returns the registered services in registration order.
func (r *Registry) Services() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Service, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id])
	}
	return out
}

func (r *Registry) lookup(id string) (Service, ServiceHandler, FeedbackHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[id]
	return svc, r.handlers[id], r.feedbackHandlers[id], ok
}

// RegisterRoutes registers the CDS Hooks routes on the root Echo instance.
func (r *Registry) RegisterRoutes(e *echo.Echo) {
	e.GET("/cds-services", r.Discovery)
	e.POST("/cds-services/:id", r.HandleHook)
	e.POST("/cds-services/:id/feedback", r.HandleFeedback)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// Discovery handles GET /cds-services.
func (r *Registry) Discovery(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]Service{"services": r.Services()})
}

// HandleHook handles POST /cds-services/:id.
func (r *Registry) HandleHook(c echo.Context) error {
	serviceID := c.Param("id")
	svc, handler, _, ok := r.lookup(serviceID)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody(fmt.Sprintf("CDS service %q not found", serviceID)))
	}

	var req Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("invalid request body: %v", err)))
	}
	if req.Hook != svc.Hook {
		return c.JSON(http.StatusBadRequest, errorBody(
			fmt.Sprintf("hook mismatch: request hook %q does not match service hook %q", req.Hook, svc.Hook),
		))
	}
	if req.HookInstance == "" {
		return c.JSON(http.StatusBadRequest, errorBody("hookInstance is required"))
	}
	if handler == nil {
		return c.JSON(http.StatusInternalServerError, errorBody("no handler registered for service"))
	}

	resp, err := handler(c.Request().Context(), req)
	if errors.Is(err, ErrInvalidContext) {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	if resp == nil {
		resp = &Response{}
	}
	if resp.Cards == nil {
		resp.Cards = []Card{}
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleFeedback handles POST /cds-services/:id/feedback. The body is the
// CDS Hooks 2.0 envelope {"feedback": [...]}.
func (r *Registry) HandleFeedback(c echo.Context) error {
	serviceID := c.Param("id")
	_, _, handler, ok := r.lookup(serviceID)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody(fmt.Sprintf("CDS service %q not found", serviceID)))
	}

	var body feedbackEnvelope
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("invalid feedback body: %v", err)))
	}
	if handler == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
	for _, fb := range body.Feedback {
		if err := handler(c.Request().Context(), serviceID, fb); err != nil {
			return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
