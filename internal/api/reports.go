package api

import (
	"fmt"
	"net/http"

	"github.com/jask/saldo/internal/database"
	"github.com/jask/saldo/internal/service"
)

// maxRestoreBytes bounds uploaded backups.
const maxRestoreBytes = 64 << 20

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDay("from", q.Get("from"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	to, err := parseDay("to", q.Get("to"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeServiceError(w, r, &service.ValidationError{Field: "to", Message: "must not be before from"})
		return
	}
	sum, err := s.deps.Analytics.Summary(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, sum)
}

type insightRequest struct {
	Question string `json:"question"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if s.deps.Insights == nil {
		WriteError(w, http.StatusServiceUnavailable, "insight service unavailable")
		return
	}
	var req insightRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q := service.InsightQuery{Question: req.Question, Session: sessionKey(r)}
	var err error
	if q.From, err = parseDay("from", req.From); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if q.To, err = parseDay("to", req.To); err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp, err := s.deps.Insights.Generate(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Maintenance.Export(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	name := fmt.Sprintf("saldo-backup-%s.json", database.Now().Format("20060102-150405"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	WriteJSON(w, http.StatusOK, b)
}

type restoreResponse struct {
	BackupID     string `json:"backup_id"`
	Transactions int    `json:"transactions"`
	Categories   int    `json:"categories"`
	Rules        int    `json:"rules"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Maintenance.Restore(r.Context(), http.MaxBytesReader(w, r.Body, maxRestoreBytes))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, restoreResponse{
		BackupID:     b.ID,
		Transactions: len(b.Transactions),
		Categories:   len(b.Categories),
		Rules:        len(b.Rules),
	})
}
