package cds

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients/:patient_id/prescriptions", h.SubmitPrescription)
	api.POST("/patients/:patient_id/orders", h.SubmitOrder)
	api.GET("/patients/:patient_id/alerts", h.ListActive)
	api.GET("/patients/:patient_id/alerts/history", h.History)
	api.GET("/prescriptions/:id/alerts", h.ListForPrescription)
	api.GET("/orders/:id/alerts", h.ListForOrder)
	api.GET("/alerts/:id", h.GetAlert)

	api.POST("/alerts/dismiss", h.resolveHandler(ActionDismiss))
	api.POST("/alerts/acknowledge", h.resolveHandler(ActionAcknowledge))
	api.POST("/alerts/switch", h.resolveHandler(ActionSwitch))
	api.POST("/alerts/discontinue", h.resolveHandler(ActionDiscontinue))

	api.GET("/patients/:patient_id/sign-gate", h.GetSignGate)
	api.POST("/patients/:patient_id/sign", h.Sign)
}

type prescriptionRequest struct {
	LinkedID   uuid.UUID      `json:"linked_id"`
	Name       string         `json:"name"`
	Dosage     string         `json:"dosage"`
	Controlled bool           `json:"controlled"`
	Context    PatientContext `json:"context"`
}

type orderRequest struct {
	LinkedID uuid.UUID      `json:"linked_id"`
	Name     string         `json:"name"`
	TestType string         `json:"test_type"`
	Context  PatientContext `json:"context"`
}

type alertsResponse struct {
	Alerts []*Alert `json:"alerts"`
}

type resolveRequest struct {
	ID uuid.UUID `json:"id"`
}

type signRequest struct {
	Override bool `json:"override"`
}

type signGateResponse struct {
	State    GateState `json:"state"`
	Blocking []*Alert  `json:"blocking"`
}

func patientParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	return id, nil
}

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func nonNil(alerts []*Alert) []*Alert {
	if alerts == nil {
		return []*Alert{}
	}
	return alerts
}

func submitError(err error) error {
	if errors.Is(err, ErrInvalidEvent) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// -- Trigger Handlers --

func (h *Handler) SubmitPrescription(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	var req prescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	alerts, err := h.svc.SubmitPrescription(c.Request().Context(), TriggerEvent{
		PatientID:  patientID,
		LinkedID:   req.LinkedID,
		Name:       req.Name,
		Dosage:     req.Dosage,
		Controlled: req.Controlled,
	}, req.Context)
	if err != nil {
		return submitError(err)
	}
	return c.JSON(http.StatusCreated, alertsResponse{Alerts: nonNil(alerts)})
}

func (h *Handler) SubmitOrder(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	var req orderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	alerts, err := h.svc.SubmitOrder(c.Request().Context(), TriggerEvent{
		PatientID: patientID,
		LinkedID:  req.LinkedID,
		Name:      req.Name,
		TestType:  req.TestType,
	}, req.Context)
	if err != nil {
		return submitError(err)
	}
	return c.JSON(http.StatusCreated, alertsResponse{Alerts: nonNil(alerts)})
}

// -- Alert Read Handlers --

func (h *Handler) ListActive(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if grouped, _ := strconv.ParseBool(c.QueryParam("grouped")); grouped {
		groups, err := h.svc.GroupedActiveFor(ctx, patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to list alerts")
		}
		return c.JSON(http.StatusOK, groups)
	}
	alerts, err := h.svc.ActiveFor(ctx, patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list alerts")
	}
	if c.QueryParam("sort") == "severity" {
		SortBySeverity(alerts)
	}
	return c.JSON(http.StatusOK, alertsResponse{Alerts: nonNil(alerts)})
}

func (h *Handler) History(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	alerts, err := h.svc.History(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list alerts")
	}
	return c.JSON(http.StatusOK, alertsResponse{Alerts: nonNil(alerts)})
}

func (h *Handler) ListForPrescription(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	alerts, err := h.svc.ActiveForPrescription(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list alerts")
	}
	return c.JSON(http.StatusOK, alertsResponse{Alerts: nonNil(alerts)})
}

func (h *Handler) ListForOrder(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	alerts, err := h.svc.ActiveForOrder(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list alerts")
	}
	return c.JSON(http.StatusOK, alertsResponse{Alerts: nonNil(alerts)})
}

func (h *Handler) GetAlert(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	a, ok, err := h.svc.GetAlert(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get alert")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	}
	return c.JSON(http.StatusOK, a)
}

// -- Resolution Handlers --

func (h *Handler) resolveHandler(action Action) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req resolveRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if req.ID == uuid.Nil {
			return echo.NewHTTPError(http.StatusBadRequest, "id is required")
		}
		if err := h.svc.Resolve(c.Request().Context(), req.ID, action); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// -- Sign-Gate Handlers --

func (h *Handler) GetSignGate(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	state, blocking, err := h.svc.GateState(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read sign-gate")
	}
	return c.JSON(http.StatusOK, signGateResponse{State: state, Blocking: nonNil(blocking)})
}

// Sign answers 409 with the blocking alerts when the gate is blocked and
// override was not requested.
func (h *Handler) Sign(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res := h.svc.Sign(c.Request().Context(), patientID, req.Override)
	if !res.Signed {
		return c.JSON(http.StatusConflict, res)
	}
	return c.JSON(http.StatusOK, res)
}
