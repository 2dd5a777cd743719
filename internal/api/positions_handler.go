package api

import (
	"errors"
	"net/http"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/metrics"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"

	"github.com/go-playground/validator/v10"
)

// PositionsHandler is the HTTP ingress for agent position reports. It feeds
// the same relay the Kafka consumer does.
type PositionsHandler struct {
	Relay   *tracking.Relay
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

type positionReport struct {
	RouteID  string             `json:"routeId" validate:"required"`
	Position *tracking.Position `json:"position" validate:"required"`
	Finished bool               `json:"finished"`
}

var validateReport = validator.New()

func (h *PositionsHandler) handlePositions(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if h.Relay == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "relay unavailable"}
	}

	var report positionReport
	if apiErr := decodeJSON(r, &report); apiErr != nil {
		h.countMalformed()
		return apiErr
	}
	if err := validateReport.Struct(report); err != nil {
		h.countMalformed()
		return &apiError{Status: http.StatusBadRequest, Message: reportProblem(err)}
	}

	err := h.Relay.Deliver(report.RouteID, *report.Position, report.Finished)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
		return nil
	case errors.Is(err, tracking.ErrNoSuchSession):
		return &apiError{Status: http.StatusNotFound, Message: "no active session for route"}
	case errors.Is(err, tracking.ErrSessionFinished):
		return &apiError{Status: http.StatusConflict, Message: "route already finished"}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: "relaying position failed"}
	}
}

func reportProblem(err error) string {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 && fields[0].Field() == "RouteID" {
		return "routeId is required"
	}
	return "invalid position"
}

func (h *PositionsHandler) countMalformed() {
	if h.Metrics != nil {
		h.Metrics.IncMalformedUpdate()
	}
}
