package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/opentavern/tavern/internal/auth"
	"github.com/opentavern/tavern/internal/model"
	"github.com/opentavern/tavern/internal/store"
	ws "github.com/opentavern/tavern/internal/websocket"
)

type EventHandler struct {
	eventStore *store.EventStore
	groupStore *store.GroupStore
	permStore  *store.PermissionStore
	sanitizer  *bluemonday.Policy
	hub        *ws.Hub
	logger     *slog.Logger
}

func NewEventHandler(es *store.EventStore, gs *store.GroupStore, ps *store.PermissionStore, hub *ws.Hub, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		eventStore: es,
		groupStore: gs,
		permStore:  ps,
		sanitizer:  bluemonday.StrictPolicy(),
		hub:        hub,
		logger:     logger,
	}
}

type eventRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	StartsAt    string `json:"starts_at"`
	EndsAt      string `json:"ends_at"`
	Location    string `json:"location"`
	Show        *bool  `json:"show"`
}

func (h *EventHandler) parseEventRequest(r *http.Request, w http.ResponseWriter) (*eventRequest, time.Time, *time.Time, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return nil, time.Time{}, nil, false
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return nil, time.Time{}, nil, false
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "starts_at must be RFC3339 format"})
		return nil, time.Time{}, nil, false
	}

	var endsAt *time.Time
	if req.EndsAt != "" {
		t, err := time.Parse(time.RFC3339, req.EndsAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ends_at must be RFC3339 format"})
			return nil, time.Time{}, nil, false
		}
		if t.Before(startsAt) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ends_at must not be before starts_at"})
			return nil, time.Time{}, nil, false
		}
		endsAt = &t
	}

	req.Description = h.sanitizer.Sanitize(req.Description)
	req.Location = h.sanitizer.Sanitize(req.Location)
	return &req, startsAt, endsAt, true
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid group id"})
		return
	}

	req, startsAt, endsAt, ok := h.parseEventRequest(r, w)
	if !ok {
		return
	}

	event, err := h.eventStore.Create(auth.UserID(r.Context()), groupID, req.Name, req.Description, startsAt, endsAt, req.Location)
	if err != nil {
		h.logger.Error("create event", "error", err)
		writeStoreError(w, err, "failed to create event")
		return
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityEvent, ws.ActionCreated, event.ID).WithSlug(event.Slug))
	writeJSON(w, http.StatusCreated, event)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	event, err := h.eventStore.GetByID(id)
	if err != nil {
		h.logger.Error("get event", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get event"})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.eventStore.GetByID(id)
	if err != nil {
		h.logger.Error("get event", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get event"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
		return
	}

	if !h.requirePermission(w, r, id, model.PermChange) {
		return
	}

	req, startsAt, endsAt, ok := h.parseEventRequest(r, w)
	if !ok {
		return
	}
	show := existing.Show
	if req.Show != nil {
		show = *req.Show
	}

	event, err := h.eventStore.Update(id, req.Name, req.Description, startsAt, endsAt, req.Location, show)
	if err != nil {
		h.logger.Error("update event", "error", err)
		writeStoreError(w, err, "failed to update event")
		return
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityEvent, ws.ActionUpdated, event.ID).WithSlug(event.Slug))
	writeJSON(w, http.StatusOK, event)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.eventStore.GetByID(id)
	if err != nil {
		h.logger.Error("get event", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get event"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
		return
	}

	if !h.requirePermission(w, r, id, model.PermDelete) {
		return
	}

	if err := h.eventStore.Delete(id); err != nil {
		h.logger.Error("delete event", "error", err)
		writeStoreError(w, err, "failed to delete event")
		return
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityEvent, ws.ActionDeleted, id))
	w.WriteHeader(http.StatusNoContent)
}

type rsvpRequest struct {
	Status string `json:"status"`
}

func (h *EventHandler) SetRSVP(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req rsvpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if !model.ValidRSVPStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be yes, no, or maybe"})
		return
	}

	attendee, err := h.eventStore.SetRSVP(auth.UserID(r.Context()), id, req.Status)
	if err != nil {
		h.logger.Error("set rsvp", "error", err)
		writeStoreError(w, err, "failed to set rsvp")
		return
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityRSVP, ws.ActionSet, id).WithStatus(req.Status))
	writeJSON(w, http.StatusOK, attendee)
}

// DeleteRSVP removes an attendee record. Only its owner may delete it.
func (h *EventHandler) DeleteRSVP(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	attendee, err := h.eventStore.GetAttendeeByID(id)
	if err != nil {
		h.logger.Error("get attendee", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get rsvp"})
		return
	}
	if attendee == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rsvp not found"})
		return
	}
	if attendee.UserID != auth.UserID(r.Context()) {
		writeForbidden(w)
		return
	}

	if err := h.eventStore.DeleteRSVP(id); err != nil {
		h.logger.Error("delete rsvp", "error", err)
		writeStoreError(w, err, "failed to delete rsvp")
		return
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityRSVP, ws.ActionDeleted, attendee.EventID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	events, err := h.eventStore.Upcoming(time.Now())
	if err != nil {
		h.logger.Error("list upcoming events", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list events"})
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Past(w http.ResponseWriter, r *http.Request) {
	events, err := h.eventStore.Past(time.Now())
	if err != nil {
		h.logger.Error("list past events", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list events"})
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *EventHandler) RSVPed(w http.ResponseWriter, r *http.Request) {
	events, err := h.eventStore.RSVPed(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list rsvped events", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list events"})
		return
	}
	if events == nil {
		events = []model.EventRSVP{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Attendees(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !model.ValidRSVPStatus(status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be yes, no, or maybe"})
		return
	}

	event, err := h.eventStore.GetByID(id)
	if err != nil {
		h.logger.Error("get event", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get event"})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
		return
	}

	attendees, err := h.eventStore.AttendeesByStatus(id, status)
	if err != nil {
		h.logger.Error("list attendees", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list attendees"})
		return
	}
	if attendees == nil {
		attendees = []model.Attendee{}
	}
	writeJSON(w, http.StatusOK, attendees)
}

func (h *EventHandler) requirePermission(w http.ResponseWriter, r *http.Request, eventID int64, perm string) bool {
	ok, err := h.permStore.CanModify(auth.UserID(r.Context()), model.ObjectEvent, eventID, perm)
	if err != nil {
		h.logger.Error("check permission", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to check permission"})
		return false
	}
	if !ok {
		writeForbidden(w)
		return false
	}
	return true
}
