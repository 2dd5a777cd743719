package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/store"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"

	"github.com/google/uuid"
)

// RestHandler serves the route catalog CRUD surface.
type RestHandler struct {
	Store  *store.Store
	Logger *logging.Logger
}

type routePayload struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	StartPosition *tracking.Position `json:"startPosition"`
	EndPosition   *tracking.Position `json:"endPosition"`
}

func (h *RestHandler) requireStore() *apiError {
	if h.Store == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "route store unavailable"}
	}
	return nil
}

func (h *RestHandler) handleRoutes(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireStore(); err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet:
		return h.listRoutes(w, r)
	case http.MethodPost:
		return h.createRoute(w, r)
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

func (h *RestHandler) handleRoute(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireStore(); err != nil {
		return err
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/routes/")
	if id == "" || strings.Contains(id, "/") {
		return &apiError{Status: http.StatusNotFound, Message: "route not found"}
	}

	switch r.Method {
	case http.MethodGet:
		return h.getRoute(w, r, id)
	case http.MethodPatch, http.MethodPut:
		return h.updateRoute(w, r, id)
	case http.MethodDelete:
		return h.deleteRoute(w, r, id)
	default:
		return methodNotAllowed(w, "GET, PATCH, PUT, DELETE")
	}
}

func (h *RestHandler) listRoutes(w http.ResponseWriter, r *http.Request) *apiError {
	routes, err := h.Store.List(r.Context())
	if err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "listing routes failed"}
	}
	writeJSON(w, http.StatusOK, routes)
	return nil
}

func (h *RestHandler) createRoute(w http.ResponseWriter, r *http.Request) *apiError {
	var payload routePayload
	if apiErr := decodeJSON(r, &payload); apiErr != nil {
		return apiErr
	}
	if apiErr := validateRoutePayload(payload); apiErr != nil {
		return apiErr
	}
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	route := store.Route{
		ID:            payload.ID,
		Title:         payload.Title,
		StartPosition: *payload.StartPosition,
		EndPosition:   *payload.EndPosition,
	}
	if err := h.Store.Create(r.Context(), route); err != nil {
		if errors.Is(err, store.ErrRouteExists) {
			return &apiError{Status: http.StatusConflict, Message: "route already exists"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "creating route failed"}
	}

	if h.Logger != nil {
		h.Logger.Info("route created", map[string]string{"route_id": route.ID})
	}
	writeJSON(w, http.StatusCreated, route)
	return nil
}

func (h *RestHandler) getRoute(w http.ResponseWriter, r *http.Request, id string) *apiError {
	route, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRouteNotFound) {
			return &apiError{Status: http.StatusNotFound, Message: "route not found"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "reading route failed"}
	}
	writeJSON(w, http.StatusOK, route)
	return nil
}

func (h *RestHandler) updateRoute(w http.ResponseWriter, r *http.Request, id string) *apiError {
	current, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRouteNotFound) {
			return &apiError{Status: http.StatusNotFound, Message: "route not found"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "reading route failed"}
	}

	var payload routePayload
	if apiErr := decodeJSON(r, &payload); apiErr != nil {
		return apiErr
	}
	if payload.Title != "" {
		current.Title = payload.Title
	}
	if payload.StartPosition != nil {
		if !payload.StartPosition.Valid() {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid start position"}
		}
		current.StartPosition = *payload.StartPosition
	}
	if payload.EndPosition != nil {
		if !payload.EndPosition.Valid() {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid end position"}
		}
		current.EndPosition = *payload.EndPosition
	}

	if err := h.Store.Update(r.Context(), current); err != nil {
		if errors.Is(err, store.ErrRouteNotFound) {
			return &apiError{Status: http.StatusNotFound, Message: "route not found"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "updating route failed"}
	}
	writeJSON(w, http.StatusOK, current)
	return nil
}

func (h *RestHandler) deleteRoute(w http.ResponseWriter, r *http.Request, id string) *apiError {
	if err := h.Store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrRouteNotFound) {
			return &apiError{Status: http.StatusNotFound, Message: "route not found"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "deleting route failed"}
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func validateRoutePayload(payload routePayload) *apiError {
	if payload.Title == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "title is required"}
	}
	if payload.StartPosition == nil || !payload.StartPosition.Valid() {
		return &apiError{Status: http.StatusBadRequest, Message: "invalid start position"}
	}
	if payload.EndPosition == nil || !payload.EndPosition.Valid() {
		return &apiError{Status: http.StatusBadRequest, Message: "invalid end position"}
	}
	return nil
}
