package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/service"
)

// maxImportBytes bounds uploaded statement files.
const maxImportBytes = 10 << 20

// Bulk actions.
const (
	actionRecategorize  = "recategorize"
	actionSetCategory   = "set_category"
	actionClearOverride = "clear_override"
	actionDelete        = "delete"
)

type listTransactionsResponse struct {
	Transactions []service.TransactionView `json:"transactions"`
	Count        int                       `json:"count"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f repository.TransactionFilters
	var err error
	if f.From, err = parseDay("from", q.Get("from")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if f.To, err = parseDay("to", q.Get("to")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if v := q.Get("category_id"); v != "" {
		id, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || id <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid category_id")
			return
		}
		f.CategoryID = id
	}
	if v := strings.ToLower(q.Get("type")); v != "" {
		f.Type = repository.TxType(v)
		if !f.Type.Valid() {
			WriteError(w, http.StatusBadRequest, "type must be income or expense")
			return
		}
	}
	f.Search = strings.TrimSpace(q.Get("search"))
	if f.Limit, err = queryInt(r, "limit", 200); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeServiceError(w, r, err)
		return
	}

	views, err := s.deps.Analytics.ListTransactions(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, listTransactionsResponse{Transactions: views, Count: len(views)})
}

type createTransactionsRequest struct {
	FileName     string             `json:"file_name"`
	Transactions []service.RowInput `json:"transactions"`
}

func (s *Server) handleCreateTransactions(w http.ResponseWriter, r *http.Request) {
	var req createTransactionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.deps.Ingest.ImportRows(r.Context(), req.Transactions, service.ImportOptions{FileName: req.FileName})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// bulkRequest is a tagged union on Action.
type bulkRequest struct {
	Action     string  `json:"action"`
	IDs        []int64 `json:"ids"`
	CategoryID int64   `json:"category_id,omitempty"`
	DryRun     bool    `json:"dry_run,omitempty"`
}

type bulkResponse struct {
	Action   string                      `json:"action"`
	Affected int                         `json:"affected"`
	Report   *service.RecategorizeReport `json:"report,omitempty"`
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	resp := bulkResponse{Action: req.Action}
	var err error
	switch req.Action {
	case actionRecategorize:
		if len(req.IDs) == 0 {
			writeServiceError(w, r, &service.ValidationError{Field: "ids", Message: "at least one transaction id is required"})
			return
		}
		var rep service.RecategorizeReport
		rep, err = s.deps.Categorizer.Recategorize(ctx, service.RecategorizeOptions{IDs: req.IDs, DryRun: req.DryRun})
		resp.Report = &rep
		resp.Affected = rep.Updated
	case actionSetCategory:
		if req.CategoryID <= 0 {
			writeServiceError(w, r, &service.ValidationError{Field: "category_id", Message: "is required"})
			return
		}
		resp.Affected, err = s.deps.Categorizer.BulkSetCategory(ctx, req.IDs, req.CategoryID)
	case actionClearOverride:
		resp.Affected, err = s.deps.Categorizer.BulkClearOverride(ctx, req.IDs)
	case actionDelete:
		resp.Affected, err = s.deps.Categorizer.BulkDelete(ctx, req.IDs)
	default:
		writeServiceError(w, r, &service.ValidationError{
			Field:   "action",
			Message: "must be one of recategorize, set_category, clear_override, delete",
		})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

type setCategoryRequest struct {
	CategoryID int64 `json:"category_id"`
}

func (s *Server) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req setCategoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CategoryID <= 0 {
		writeServiceError(w, r, &service.ValidationError{Field: "category_id", Message: "is required"})
		return
	}
	tx, err := s.deps.Categorizer.SetManualCategory(r.Context(), id, req.CategoryID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, tx)
}

func (s *Server) handleClearCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := s.deps.Categorizer.ClearManualCategory(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, tx)
}

type recategorizeRequest struct {
	IDs    []int64 `json:"ids,omitempty"`
	DryRun bool    `json:"dry_run,omitempty"`
}

func (s *Server) handleRecategorize(w http.ResponseWriter, r *http.Request) {
	var req recategorizeRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	rep, err := s.deps.Categorizer.Recategorize(r.Context(), service.RecategorizeOptions{IDs: req.IDs, DryRun: req.DryRun})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rep)
}

// handleImport accepts a multipart upload with a "file" part and optional
// statement_balance and statement_date fields.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeServiceError(w, r, &service.ValidationError{Field: "file", Message: "is required"})
		return
	}
	defer file.Close()

	opts := service.ImportOptions{FileName: header.Filename}
	if v := strings.TrimSpace(r.FormValue("statement_balance")); v != "" {
		bal, perr := decimal.NewFromString(v)
		if perr != nil {
			writeServiceError(w, r, &service.ValidationError{Field: "statement_balance", Message: "must be a decimal number"})
			return
		}
		opts.StatementBalance = &bal
	}
	if opts.StatementDate, err = parseDayPtr("statement_date", r.FormValue("statement_date")); err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := s.deps.Ingest.ImportCSV(r.Context(), file, opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}
