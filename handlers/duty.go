package handlers

import (
	"net/http"

	"dutydesk/live"
	"dutydesk/models"
)

type DutyHandler struct {
	coordinator *live.Coordinator
}

func NewDutyHandler(coordinator *live.Coordinator) *DutyHandler {
	return &DutyHandler{coordinator: coordinator}
}

// On puts the caller on duty and returns the registry snapshot.
func (h *DutyHandler) On(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	snapshot, err := h.coordinator.GoOnDuty(r.Context(), user)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// Off takes the caller off duty and returns the registry snapshot.
func (h *DutyHandler) Off(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	snapshot, err := h.coordinator.GoOffDuty(r.Context(), user)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// List returns the registry snapshot.
func (h *DutyHandler) List(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.coordinator.ListDuty(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// Allow reports whether someone on duty covers the test type in the path.
func (h *DutyHandler) Allow(w http.ResponseWriter, r *http.Request) {
	covered, err := h.coordinator.IsCovered(r.Context(), models.TestType(r.PathValue("type")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": covered})
}
