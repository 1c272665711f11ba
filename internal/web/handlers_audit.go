package web

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/go-chi/chi/v5"
)

// auditResponse is the audit trail written by one run.
type auditResponse struct {
	RunID   string                 `json:"run_id"`
	Count   int                    `json:"count"`
	Entries []inventory.AuditEntry `json:"entries"`
}

var auditCSVHeader = []string{
	"id", "item_id", "run_id", "requester_id", "ip_address", "user_agent",
	"previous_quantity", "current_quantity", "delta", "note", "created_at",
}

// handleRunAudit returns the audit entries a run committed, as JSON or, with
// ?format=csv, as a CSV download. Entries outlive the run record, so a run
// the manager has forgotten is only unknown when it also wrote nothing.
func (s *Server) handleRunAudit(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	entries, err := s.deps.Store.AuditEntriesForRun(r.Context(), runID)
	if err != nil {
		respondError(w, r, fmt.Errorf("load audit trail: %w", err), http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		if _, err := s.deps.Manager.Get(runID); err != nil {
			respondError(w, r, err, 0)
			return
		}
	}
	if entries == nil {
		entries = []inventory.AuditEntry{}
	}

	if r.URL.Query().Get("format") == "csv" {
		writeAuditCSV(w, r, runID, entries)
		return
	}
	respondJSON(w, r, http.StatusOK, auditResponse{RunID: runID, Count: len(entries), Entries: entries})
}

func writeAuditCSV(w http.ResponseWriter, r *http.Request, runID string, entries []inventory.AuditEntry) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-%s.csv", runID))

	cw := csv.NewWriter(w)
	cw.Write(auditCSVHeader)
	for _, e := range entries {
		cw.Write([]string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.ItemID, 10),
			e.RunID,
			e.RequesterID,
			e.IPAddress,
			e.UserAgent,
			strconv.FormatInt(e.PreviousQuantity, 10),
			strconv.FormatInt(e.CurrentQuantity, 10),
			strconv.FormatInt(e.Delta, 10),
			e.Note,
			e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logging.FromContext(r.Context()).Error("audit csv write error", "run_id", runID, "error", err)
	}
}
