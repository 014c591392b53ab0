// Package api exposes HTTP handlers for the activity store.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"example.com/smarttracker/internal/domain"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const maxBodyBytes = 1 << 20

const (
	activitiesPath = "/api/activities"
	activityPrefix = "/api/activities/"
)

// Handler coordinates HTTP requests with the activity store.
type Handler struct {
	store  *domain.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(store *domain.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger, now: time.Now}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", h.health)
	mux.HandleFunc(activitiesPath, h.activities)
	mux.HandleFunc(activityPrefix, h.activityByID)
}

// health reports liveness without touching the store.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Success:   true,
		Message:   "SmartTracker API is running",
		Timestamp: h.now().UTC(),
		Version:   Version,
	})
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listActivities(w, r)
	case http.MethodPost:
		h.createActivity(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, activityPrefix)
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "Activity not found", "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, id)
	case http.MethodPut:
		h.updateActivity(w, r, id)
	case http.MethodDelete:
		h.deleteActivity(w, r, id)
	default:
		writeMethodNotAllowed(w)
	}
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.store.List(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "Failed to fetch activities")
		return
	}

	h.logger.Debug("returning activities", zap.Int("count", len(activities)))
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Success:   true,
		Data:      activities,
		Count:     len(activities),
		Timestamp: h.now().UTC(),
	})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	activity, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Failed to fetch activity")
		return
	}
	writeJSON(w, http.StatusOK, ActivityResponse{Success: true, Data: *activity})
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	var req CreateActivityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	activity, err := h.store.Create(r.Context(), req.toInput())
	if err != nil {
		label := "Failed to create activity"
		var persistErr *domain.PersistenceError
		if errors.As(err, &persistErr) {
			label = "Failed to save activity"
		}
		h.writeStoreError(w, err, label)
		return
	}

	writeJSON(w, http.StatusCreated, ActivityResponse{
		Success: true,
		Data:    *activity,
		Message: "Activity created successfully",
	})
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request, id string) {
	var body map[string]json.RawMessage
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	patch, err := domain.NewActivityPatch(body)
	if err != nil {
		// An unknown id reports 404 before any complaint about the body.
		if _, lookupErr := h.store.Get(r.Context(), id); errors.Is(lookupErr, domain.ErrActivityNotFound) {
			err = lookupErr
		}
		h.writeStoreError(w, err, "Failed to update activity")
		return
	}

	activity, err := h.store.Update(r.Context(), id, patch)
	if err != nil {
		h.writeStoreError(w, err, "Failed to update activity")
		return
	}

	writeJSON(w, http.StatusOK, ActivityResponse{
		Success: true,
		Data:    *activity,
		Message: "Activity updated successfully",
	})
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, id string) {
	activity, err := h.store.Delete(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Failed to delete activity")
		return
	}

	writeJSON(w, http.StatusOK, ActivityResponse{
		Success: true,
		Data:    *activity,
		Message: "Activity deleted successfully",
	})
}

// writeStoreError maps store errors onto status codes. label names the failed
// operation for server-side failures.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, label string) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error(), "")
	case errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "Activity not found", "")
	default:
		h.logger.Error(label, zap.Error(err))
		writeError(w, http.StatusInternalServerError, label, err.Error())
	}
}

// CreateActivityRequest is the payload for POST /api/activities. Coordinates
// stay raw so the store can coerce numeric strings.
type CreateActivityRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Latitude    json.RawMessage `json:"latitude"`
	Longitude   json.RawMessage `json:"longitude"`
	UserID      string          `json:"userId"`
	ImageURL    *string         `json:"imageUrl"`
}

func (r CreateActivityRequest) toInput() domain.CreateActivityInput {
	return domain.CreateActivityInput{
		Title:       r.Title,
		Description: r.Description,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		UserID:      r.UserID,
		ImageURL:    r.ImageURL,
	}
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ListActivitiesResponse packages the full collection.
type ListActivitiesResponse struct {
	Success   bool              `json:"success"`
	Data      []domain.Activity `json:"data"`
	Count     int               `json:"count"`
	Timestamp time.Time         `json:"timestamp"`
}

// ActivityResponse wraps a single activity.
type ActivityResponse struct {
	Success bool            `json:"success"`
	Data    domain.Activity `json:"data"`
	Message string          `json:"message,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
}

func writeError(w http.ResponseWriter, status int, label, detail string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: label, Message: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
