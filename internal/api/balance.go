package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/reconcile"
	"github.com/jask/saldo/internal/service"
)

// Balance mutation actions.
const (
	actionManualOverride = "manual_override"
	actionSelectFile     = "select_file"
	actionAddFile        = "add_file"
	actionReset          = "reset"
)

type balanceStatusResponse struct {
	Current repository.AccountBalance `json:"current"`
	Report  reconcile.Report          `json:"reconciliation"`
	Alert   bool                      `json:"alert"`
}

func (s *Server) handleBalanceStatus(w http.ResponseWriter, r *http.Request) {
	cur, err := s.deps.Balances.Current(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rep, err := s.deps.Balances.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, balanceStatusResponse{Current: cur, Report: rep, Alert: rep.Alert()})
}

// balanceMutationRequest is a tagged union on Action. Value applies to
// manual_override and add_file, FileBalanceID to select_file and Confirm to
// reset.
type balanceMutationRequest struct {
	Action        string           `json:"action"`
	Value         *decimal.Decimal `json:"value,omitempty"`
	Note          string           `json:"note,omitempty"`
	FileBalanceID int64            `json:"file_balance_id,omitempty"`
	FileName      string           `json:"file_name,omitempty"`
	StatementDate string           `json:"statement_date,omitempty"`
	Confirm       bool             `json:"confirm,omitempty"`
}

type balanceMutationResponse struct {
	Action      string                  `json:"action"`
	Audit       *repository.AuditEntry  `json:"audit,omitempty"`
	FileBalance *repository.FileBalance `json:"file_balance,omitempty"`
}

func (s *Server) handleBalanceMutation(w http.ResponseWriter, r *http.Request) {
	var req balanceMutationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	resp := balanceMutationResponse{Action: req.Action}
	switch req.Action {
	case actionManualOverride:
		if req.Value == nil {
			writeServiceError(w, r, &service.ValidationError{Field: "value", Message: "is required"})
			return
		}
		entry, err := s.deps.Balances.SetManualBalance(ctx, *req.Value, req.Note)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp.Audit = &entry
	case actionSelectFile:
		entry, err := s.deps.Balances.SelectFileBalance(ctx, req.FileBalanceID, req.Note)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp.Audit = &entry
	case actionAddFile:
		if req.Value == nil {
			writeServiceError(w, r, &service.ValidationError{Field: "value", Message: "is required"})
			return
		}
		date, err := parseDayPtr("statement_date", req.StatementDate)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		fb, err := s.deps.Balances.AddFileBalance(ctx, service.FileBalanceInput{Balance: *req.Value, FileName: req.FileName, StatementDate: date})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp.FileBalance = &fb
	case actionReset:
		if !req.Confirm {
			writeServiceError(w, r, &service.ValidationError{Field: "confirm", Message: "reset cannot be undone; send confirm: true"})
			return
		}
		entry, err := s.deps.Balances.Reset(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp.Audit = &entry
	default:
		writeServiceError(w, r, &service.ValidationError{
			Field:   "action",
			Message: "must be one of manual_override, select_file, add_file, reset",
		})
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFileBalances(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Balances.FileBalances(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"file_balances": files, "count": len(files)})
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	entries, err := s.deps.Balances.AuditLog(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleRunningBalances(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Balances.RecomputeRunningBalances(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"updated": n})
}
