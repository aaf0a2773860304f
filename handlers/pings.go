package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"dutydesk/live"
	"dutydesk/models"
)

type PingHandler struct {
	coordinator *live.Coordinator
}

func NewPingHandler(coordinator *live.Coordinator) *PingHandler {
	return &PingHandler{coordinator: coordinator}
}

type CallInstructorRequest struct {
	TestType models.TestType `json:"testType"`
	Note     string          `json:"note"`
}

type AckPingRequest struct {
	ID string `json:"id"`
}

// Call creates a ping on behalf of the caller.
func (h *PingHandler) Call(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req CallInstructorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ping, err := h.coordinator.CreatePing(r.Context(), user, req.TestType, req.Note)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": ping.ID})
}

// Ack accepts a ping for the caller.
func (h *PingHandler) Ack(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req AckPingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID = strings.TrimSpace(req.ID); req.ID == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}

	ping, err := h.coordinator.AcceptPing(r.Context(), user, req.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ping)
}

// List returns pings newest first; ?status=open|accepted filters.
func (h *PingHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.PingStatus(r.URL.Query().Get("status"))
	if status != "" && status != models.PingOpen && status != models.PingAccepted {
		writeDomainError(w, r, fmt.Errorf("unknown status %q: %w", status, models.ErrValidation))
		return
	}

	pings, err := h.coordinator.ListPings(r.Context(), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pings)
}
