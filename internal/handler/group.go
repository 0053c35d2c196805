package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/opentavern/tavern/internal/auth"
	"github.com/opentavern/tavern/internal/model"
	"github.com/opentavern/tavern/internal/store"
	ws "github.com/opentavern/tavern/internal/websocket"
)

const recentMembersLimit = 5

type GroupHandler struct {
	groupStore *store.GroupStore
	eventStore *store.EventStore
	permStore  *store.PermissionStore
	sanitizer  *bluemonday.Policy
	hub        *ws.Hub
	logger     *slog.Logger
}

func NewGroupHandler(gs *store.GroupStore, es *store.EventStore, ps *store.PermissionStore, hub *ws.Hub, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{
		groupStore: gs,
		eventStore: es,
		permStore:  ps,
		sanitizer:  bluemonday.StrictPolicy(),
		hub:        hub,
		logger:     logger,
	}
}

type groupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MembersName string `json:"members_name"`
}

func (h *GroupHandler) parseGroupRequest(r *http.Request, w http.ResponseWriter) (*groupRequest, bool) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return nil, false
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return nil, false
	}
	req.Description = h.sanitizer.Sanitize(req.Description)
	req.MembersName = h.sanitizer.Sanitize(req.MembersName)
	return &req, true
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseGroupRequest(r, w)
	if !ok {
		return
	}

	group, err := h.groupStore.Create(auth.UserID(r.Context()), req.Name, req.Description, req.MembersName)
	if err != nil {
		h.logger.Error("create group", "error", err)
		writeStoreError(w, err, "failed to create group")
		return
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityGroup, ws.ActionCreated, group.ID).WithSlug(group.Slug))
	writeJSON(w, http.StatusCreated, group)
}

// groupDetail is the group page payload: the group itself, its organizers,
// its events, and the most recently joined members.
type groupDetail struct {
	Group         *model.Group       `json:"group"`
	Organizers    []model.User       `json:"organizers"`
	Events        []model.Event      `json:"events"`
	RecentMembers []model.Membership `json:"recent_members"`
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, err := h.groupStore.GetBySlug(r.PathValue("slug"))
	if err != nil {
		h.logger.Error("get group", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get group"})
		return
	}
	if group == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "group not found"})
		return
	}

	organizers, err := h.groupStore.Organizers(group.ID)
	if err != nil {
		h.logger.Error("list organizers", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get group"})
		return
	}
	events, err := h.eventStore.ListByGroup(group.ID)
	if err != nil {
		h.logger.Error("list group events", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get group"})
		return
	}
	recent, err := h.groupStore.RecentMembers(group.ID, recentMembersLimit)
	if err != nil {
		h.logger.Error("list recent members", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get group"})
		return
	}

	writeJSON(w, http.StatusOK, groupDetail{
		Group:         group,
		Organizers:    organizers,
		Events:        events,
		RecentMembers: recent,
	})
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groupStore.ListAll()
	if err != nil {
		h.logger.Error("list groups", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list groups"})
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) Joined(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groupStore.Joined(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list joined groups", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list groups"})
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) Unjoined(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groupStore.Unjoined(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list unjoined groups", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list groups"})
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if !h.requireGroupExists(w, id) {
		return
	}
	if !h.requirePermission(w, r, id, model.PermChange) {
		return
	}

	req, ok := h.parseGroupRequest(r, w)
	if !ok {
		return
	}

	group, err := h.groupStore.Update(id, req.Name, req.Description, req.MembersName)
	if err != nil {
		h.logger.Error("update group", "error", err)
		writeStoreError(w, err, "failed to update group")
		return
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityGroup, ws.ActionUpdated, group.ID).WithSlug(group.Slug))
	writeJSON(w, http.StatusOK, group)
}

func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if !h.requireGroupExists(w, id) {
		return
	}
	if !h.requirePermission(w, r, id, model.PermDelete) {
		return
	}

	if err := h.groupStore.Delete(id); err != nil {
		h.logger.Error("delete group", "error", err)
		writeStoreError(w, err, "failed to delete group")
		return
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityGroup, ws.ActionDeleted, id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupHandler) ToggleMembership(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	outcome, err := h.groupStore.ToggleMembership(auth.UserID(r.Context()), id)
	if err != nil {
		h.logger.Error("toggle membership", "error", err)
		writeStoreError(w, err, "failed to toggle membership")
		return
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityMembership, ws.ActionToggled, id).WithStatus(outcome))
	writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
}

type organizersRequest struct {
	Usernames string `json:"usernames"`
}

// splitUsernames parses the comma-separated organizer input, dropping empty
// entries.
func splitUsernames(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (h *GroupHandler) AddOrganizers(w http.ResponseWriter, r *http.Request) {
	h.changeOrganizers(w, r, ws.ActionAdded, h.groupStore.AddOrganizers)
}

func (h *GroupHandler) RemoveOrganizers(w http.ResponseWriter, r *http.Request) {
	h.changeOrganizers(w, r, ws.ActionRemoved, h.groupStore.RemoveOrganizers)
}

func (h *GroupHandler) changeOrganizers(w http.ResponseWriter, r *http.Request, action ws.Action, apply func(int64, []string) error) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if !h.requireGroupExists(w, id) {
		return
	}
	if !h.requirePermission(w, r, id, model.PermChange) {
		return
	}

	var req organizersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	names := splitUsernames(req.Usernames)
	if len(names) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "usernames are required"})
		return
	}

	if err := apply(id, names); err != nil {
		h.logger.Error("change organizers", "action", string(action), "error", err)
		writeStoreError(w, err, "failed to change organizers")
		return
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityOrganizers, action, id))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *GroupHandler) requireGroupExists(w http.ResponseWriter, groupID int64) bool {
	group, err := h.groupStore.GetByID(groupID)
	if err != nil {
		h.logger.Error("get group", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get group"})
		return false
	}
	if group == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "group not found"})
		return false
	}
	return true
}

// requirePermission enforces the authorization predicate for group
// update/delete endpoints; writes a 403 and returns false when the actor
// holds no grant.
func (h *GroupHandler) requirePermission(w http.ResponseWriter, r *http.Request, groupID int64, perm string) bool {
	ok, err := h.permStore.CanModify(auth.UserID(r.Context()), model.ObjectGroup, groupID, perm)
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
