package cds

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func jsonContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeAlerts(t *testing.T, rec *httptest.ResponseRecorder) []*Alert {
	t.Helper()
	var resp alertsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if resp.Alerts == nil {
		t.Fatal("expected alerts array, got null")
	}
	return resp.Alerts
}

func submitAllergyAlert(t *testing.T, h *Handler, e *echo.Echo, patient uuid.UUID) *Alert {
	t.Helper()
	body := `{"linked_id":"` + uuid.New().String() + `","name":"Amoxicillin 500mg","context":{"allergies":["Penicillin"]}}`
	c, rec := jsonContext(e, http.MethodPost, body)
	c.SetParamNames("patient_id")
	c.SetParamValues(patient.String())
	if err := h.SubmitPrescription(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	alerts := decodeAlerts(t, rec)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	return alerts[0]
}

func TestHandler_SubmitPrescription(t *testing.T) {
	h, e := newTestHandler()
	patient := uuid.New()
	a := submitAllergyAlert(t, h, e, patient)
	if a.Type != TypeDrugAllergy || a.Severity != SeverityContraindicated || a.PatientID != patient {
		t.Errorf("unexpected alert: %+v", a)
	}
}

func TestHandler_SubmitPrescription_NoAlertsIsEmptyArray(t *testing.T) {
	h, e := newTestHandler()
	c, rec := jsonContext(e, http.MethodPost, `{"name":"Lisinopril 10mg"}`)
	c.SetParamNames("patient_id")
	c.SetParamValues(uuid.New().String())

	if err := h.SubmitPrescription(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"alerts":[]`) {
		t.Errorf("expected empty alerts array, got %s", rec.Body.String())
	}
}

func TestHandler_SubmitPrescription_BadRequest(t *testing.T) {
	h, e := newTestHandler()
	tests := []struct {
		name    string
		patient string
		body    string
	}{
		{"bad patient id", "not-a-uuid", `{"name":"Aspirin"}`},
		{"missing name", uuid.New().String(), `{"dosage":"81mg"}`},
		{"bad json", uuid.New().String(), `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := jsonContext(e, http.MethodPost, tt.body)
			c.SetParamNames("patient_id")
			c.SetParamValues(tt.patient)
			err := h.SubmitPrescription(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %v", err)
			}
		})
	}
}

func TestHandler_SubmitOrder(t *testing.T) {
	h, e := newTestHandler()
	existing := uuid.New()
	body := `{"linked_id":"` + uuid.New().String() + `","name":"CBC","context":{"existing_orders":[{"id":"` +
		existing.String() + `","name":"CBC","status":"Ordered"}]}}`
	c, rec := jsonContext(e, http.MethodPost, body)
	c.SetParamNames("patient_id")
	c.SetParamValues(uuid.New().String())

	if err := h.SubmitOrder(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	alerts := decodeAlerts(t, rec)
	if len(alerts) != 1 || alerts[0].Type != TypeDuplicateOrder || *alerts[0].RelatedOrderID != existing {
		t.Errorf("expected duplicate order alert, got %+v", alerts)
	}
}

func TestHandler_ListActive(t *testing.T) {
	h, e := newTestHandler()
	patient := uuid.New()
	submitAllergyAlert(t, h, e, patient)

	req := httptest.NewRequest(http.MethodGet, "/?sort=severity", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues(patient.String())

	if err := h.ListActive(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alerts := decodeAlerts(t, rec); len(alerts) != 1 {
		t.Errorf("expected 1 active alert, got %d", len(alerts))
	}
}

func TestHandler_ListActive_Grouped(t *testing.T) {
	h, e := newTestHandler()
	patient := uuid.New()
	submitAllergyAlert(t, h, e, patient)

	req := httptest.NewRequest(http.MethodGet, "/?grouped=true", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues(patient.String())

	if err := h.ListActive(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var groups map[string][]*Alert
	json.Unmarshal(rec.Body.Bytes(), &groups)
	if len(groups["Allergy Alerts"]) != 1 {
		t.Errorf("expected allergy group, got %s", rec.Body.String())
	}
}

func TestHandler_ListForPrescription(t *testing.T) {
	h, e := newTestHandler()
	a := submitAllergyAlert(t, h, e, uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.LinkedPrescriptionID.String())

	if err := h.ListForPrescription(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alerts := decodeAlerts(t, rec); len(alerts) != 1 || alerts[0].ID != a.ID {
		t.Errorf("expected the prescription's alert, got %+v", alerts)
	}
}

func TestHandler_ListForOrder_Empty(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if err := h.ListForOrder(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alerts := decodeAlerts(t, rec); len(alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerts))
	}
}

func TestHandler_GetAlert_NotFound(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetAlert(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_ResolveActions(t *testing.T) {
	h, e := newTestHandler()
	patient := uuid.New()
	a := submitAllergyAlert(t, h, e, patient)

	c, rec := jsonContext(e, http.MethodPost, `{"id":"`+a.ID.String()+`"}`)
	if err := h.resolveHandler(ActionSwitch)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	got, _, _ := h.svc.GetAlert(c.Request().Context(), a.ID)
	if !got.Actioned || got.Dismissed {
		t.Errorf("expected switch to act without dismissing, got %+v", got)
	}

	c, rec = jsonContext(e, http.MethodPost, `{"id":"`+uuid.New().String()+`"}`)
	if err := h.resolveHandler(ActionDismiss)(c); err != nil || rec.Code != http.StatusNoContent {
		t.Errorf("unknown id must be a 204 no-op, got %d %v", rec.Code, err)
	}

	c, _ = jsonContext(e, http.MethodPost, `{}`)
	err := h.resolveHandler(ActionDismiss)(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing id, got %v", err)
	}
}

func TestHandler_SignGateAndSign(t *testing.T) {
	h, e := newTestHandler()
	patient := uuid.New()
	a := submitAllergyAlert(t, h, e, patient)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues(patient.String())
	if err := h.GetSignGate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var gate signGateResponse
	json.Unmarshal(rec.Body.Bytes(), &gate)
	if gate.State != GateBlocked || len(gate.Blocking) != 1 || gate.Blocking[0].ID != a.ID {
		t.Errorf("expected blocked gate, got %+v", gate)
	}

	c, rec = jsonContext(e, http.MethodPost, `{"override":false}`)
	c.SetParamNames("patient_id")
	c.SetParamValues(patient.String())
	if err := h.Sign(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}

	c, rec = jsonContext(e, http.MethodPost, `{"override":true}`)
	c.SetParamNames("patient_id")
	c.SetParamValues(patient.String())
	if err := h.Sign(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res SignResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if rec.Code != http.StatusOK || !res.Signed || !res.Overridden {
		t.Errorf("expected overridden sign, got %d %+v", rec.Code, res)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	patient := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+patient.String()+"/sign-gate", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"clear"`) {
		t.Errorf("expected clear gate, got %s", rec.Body.String())
	}
}
