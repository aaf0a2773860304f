package handlers

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"dutydesk/db"
	"dutydesk/middleware"
	"dutydesk/models"

	jww "github.com/spf13/jwalterweatherman"
)

const maxTestTypeLength = 64

type TestsHandler struct {
	db  db.Store
	now func() time.Time
}

func NewTestsHandler(store db.Store) *TestsHandler {
	return &TestsHandler{db: store, now: time.Now}
}

// SubmitTestRequest is the body of POST /submit-test.
type SubmitTestRequest struct {
	TesterCode string                 `json:"testerCode"`
	TestType   string                 `json:"testType"`
	Result     models.TestResult      `json:"result"`
	Details    map[string]interface{} `json:"details"`
}

func (req *SubmitTestRequest) validate() error {
	req.TesterCode = strings.ToUpper(strings.TrimSpace(req.TesterCode))
	req.TestType = strings.TrimSpace(req.TestType)

	switch {
	case req.TesterCode == "":
		return fmt.Errorf("testerCode is required: %w", models.ErrValidation)
	case req.TestType == "" || len(req.TestType) > maxTestTypeLength:
		return fmt.Errorf("testType is required: %w", models.ErrValidation)
	case !req.Result.Valid():
		return fmt.Errorf("result must be %s or %s: %w", models.ResultAdmis, models.ResultRespins, models.ErrValidation)
	}
	return nil
}

// Submit records a submission keyed by tester code. An unknown code is a
// validation failure and nothing is written.
func (h *TestsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}

	ctx := r.Context()
	tester, err := h.db.GetTester(ctx, req.TesterCode)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, "Invalid tester code", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	sub := &models.TestSubmission{
		ID:         db.RandomHex(16),
		TesterCode: req.TesterCode,
		UserID:     tester.UserID,
		TestType:   models.TestType(req.TestType),
		Result:     req.Result,
		Details:    req.Details,
		CreatedAt:  h.now().UTC(),
	}
	if err := h.db.CreateSubmission(ctx, sub); err != nil {
		writeDomainError(w, r, err)
		return
	}

	jww.INFO.Printf("📝 Test submitted: %s %s by %s", sub.TestType, sub.Result, sub.TesterCode)
	writeJSON(w, http.StatusCreated, map[string]string{"id": sub.ID})
}

func (h *TestsHandler) sortedSubmissions(r *http.Request) ([]models.TestSubmission, error) {
	subs, err := h.db.ListSubmissions(r.Context())
	if err != nil {
		return nil, err
	}

	if testType := r.URL.Query().Get("testType"); testType != "" {
		filtered := subs[:0]
		for _, s := range subs {
			if string(s.TestType) == testType {
				filtered = append(filtered, s)
			}
		}
		subs = filtered
	}

	sort.SliceStable(subs, func(i, j int) bool { return subs[i].CreatedAt.After(subs[j].CreatedAt) })
	return subs, nil
}

// History lists all submissions, newest first.
func (h *TestsHandler) History(w http.ResponseWriter, r *http.Request) {
	subs, err := h.sortedSubmissions(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// ComputeStats counts submissions by type, result and UTC day.
func ComputeStats(subs []models.TestSubmission) models.TestStats {
	stats := models.TestStats{
		Total:    len(subs),
		ByType:   map[string]int{},
		ByResult: map[string]int{},
		ByDay:    map[string]int{},
	}
	for _, s := range subs {
		stats.ByType[string(s.TestType)]++
		stats.ByResult[string(s.Result)]++
		stats.ByDay[s.CreatedAt.UTC().Format("2006-01-02")]++
	}
	return stats
}

// Stats aggregates the submission history.
func (h *TestsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	subs, err := h.db.ListSubmissions(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ComputeStats(subs))
}

// Export streams the submission history as CSV.
func (h *TestsHandler) Export(w http.ResponseWriter, r *http.Request) {
	subs, err := h.sortedSubmissions(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	// Set headers for CSV download
	filename := fmt.Sprintf("dutydesk_tests_%s.csv", h.now().Format("2006-01-02_15-04-05"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"ID", "Tester Code", "User ID", "Test Type", "Result", "Created At", "Details"}
	if err := writer.Write(header); err != nil {
		jww.ERROR.Printf("❌ Failed to write CSV header: %v", err)
		return
	}

	for _, s := range subs {
		details := ""
		if s.Details != nil {
			if data, err := json.Marshal(s.Details); err == nil {
				details = string(data)
			}
		}
		row := []string{
			s.ID,
			s.TesterCode,
			s.UserID,
			string(s.TestType),
			string(s.Result),
			s.CreatedAt.Format(time.RFC3339),
			details,
		}
		if err := writer.Write(row); err != nil {
			jww.ERROR.Printf("❌ Failed to write CSV row: %v", err)
			return
		}
	}

	if identity, ok := middleware.GetIdentityFromContext(r.Context()); ok {
		jww.INFO.Printf("📊 CSV export by %s: %d submissions", identity.Tag, len(subs))
	}
}
