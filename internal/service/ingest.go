package service

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/metrics"
)

const (
	fuzzyWindowDays = 3
	fuzzyMaxRatio   = 0.4
)

var dateLayouts = []string{"2006-01-02", "2/01/2006", "2/1/2006"}

// IngestService imports statement rows. New rows are categorized in the same
// transaction that inserts them.
type IngestService struct {
	Store    *repository.Store
	Balances *BalanceService
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
}

// RowInput is one transaction in a JSON batch. Type may be omitted, in which
// case the sign of Amount decides it.
type RowInput struct {
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Type        string          `json:"type,omitempty"`
}

// ImportOptions names the source and optionally carries its statement balance.
type ImportOptions struct {
	FileName         string
	StatementBalance *decimal.Decimal
	StatementDate    *time.Time
}

type RowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// DuplicateHint flags a new row that looks like an existing one.
type DuplicateHint struct {
	Line          int     `json:"line"`
	TransactionID int64   `json:"transaction_id"`
	ExistingID    int64   `json:"existing_id"`
	Similarity    float64 `json:"similarity"`
}

// ImportResult reports an import. Uncategorized counts inserted rows left
// without a category because a malformed rule hid the outcome; each one is
// listed in CategoryFailures.
type ImportResult struct {
	ImportID         int64                   `json:"import_id"`
	Imported         int                     `json:"imported"`
	Skipped          int                     `json:"skipped"`
	Uncategorized    int                     `json:"uncategorized"`
	CategoryFailures []RecategorizeFailure   `json:"category_failures,omitempty"`
	Duplicates       []DuplicateHint         `json:"possible_duplicates,omitempty"`
	Errors           []RowError              `json:"errors,omitempty"`
	FileBalance      *repository.FileBalance `json:"file_balance,omitempty"`
}

type parsedRow struct {
	line int
	tx   repository.Transaction
}

// ImportCSV reads date,amount,description rows with a signed amount. A
// header line is skipped. Unparseable lines are reported, not fatal.
func (s *IngestService) ImportCSV(ctx context.Context, r io.Reader, opts ImportOptions) (ImportResult, error) {
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	var rows []parsedRow
	var rowErrs []RowError
	line := 0
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Error: err.Error()})
			continue
		}
		if len(rec) < 3 {
			rowErrs = append(rowErrs, RowError{Line: line, Error: "expected 3 columns (date, amount, description)"})
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "date") {
			continue
		}
		t, err := parseRow(rec[0], rec[1], rec[2], "")
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Error: err.Error()})
			continue
		}
		rows = append(rows, parsedRow{line: line, tx: t})
	}
	res, err := s.importRows(ctx, rows, opts)
	if err != nil {
		return ImportResult{}, err
	}
	res.Errors = append(rowErrs, res.Errors...)
	return res, nil
}

// ImportRows imports a JSON batch. Any invalid row rejects the whole batch.
func (s *IngestService) ImportRows(ctx context.Context, in []RowInput, opts ImportOptions) (ImportResult, error) {
	if len(in) == 0 {
		return ImportResult{}, invalid("transactions", "at least one row is required")
	}
	rows := make([]parsedRow, 0, len(in))
	for i, ri := range in {
		t, err := parseRow(ri.Date, ri.Amount.String(), ri.Description, ri.Type)
		if err != nil {
			return ImportResult{}, invalid(fmt.Sprintf("transactions[%d]", i), "%v", err)
		}
		rows = append(rows, parsedRow{line: i + 1, tx: t})
	}
	if opts.FileName == "" {
		opts.FileName = "api"
	}
	return s.importRows(ctx, rows, opts)
}

func (s *IngestService) importRows(ctx context.Context, rows []parsedRow, opts ImportOptions) (ImportResult, error) {
	name := strings.TrimSpace(opts.FileName)
	if name == "" {
		return ImportResult{}, invalid("file_name", "is required")
	}
	var res ImportResult
	var changes []repository.AuditEntry
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		importID, err := st.Imports.Insert(ctx, name)
		if err != nil {
			return fmt.Errorf("record import: %w", err)
		}
		res.ImportID = importID
		m, def, err := loadMatcher(ctx, st)
		if err != nil {
			return err
		}

		for _, row := range rows {
			t := row.tx
			t.ImportID = &importID
			t.SourceHash = hashSource(t.Date.Format(repository.DateLayout), t.Signed().String(), t.Description)

			hint, err := fuzzyDuplicate(ctx, st, t)
			if err != nil {
				return err
			}

			cat := m.Categorize(t.Description)
			failed := failedEvaluation(cat)
			if !failed {
				to := target(cat, def)
				t.CategoryID = &to
			}

			id, err := st.Transactions.Insert(ctx, t)
			if errors.Is(err, repository.ErrDuplicate) {
				res.Skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("line %d insert: %w", row.line, err)
			}
			res.Imported++
			if failed {
				t.ID = id
				res.Uncategorized++
				res.CategoryFailures = append(res.CategoryFailures, evaluationFailure(t, cat))
			}
			if hint != nil {
				hint.Line = row.line
				hint.TransactionID = id
				res.Duplicates = append(res.Duplicates, *hint)
			}
		}
		if err := st.Imports.SetRowCount(ctx, importID, res.Imported); err != nil {
			return err
		}

		if opts.StatementBalance != nil && s.Balances != nil {
			fb, err := s.Balances.withStore(st, &changes).AddFileBalance(ctx, FileBalanceInput{
				Balance:       *opts.StatementBalance,
				FileName:      name,
				StatementDate: opts.StatementDate,
			})
			if err != nil {
				return err
			}
			res.FileBalance = &fb
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	if s.Balances != nil {
		s.Balances.announce(changes...)
	}
	s.Metrics.Imported("imported", res.Imported)
	s.Metrics.Imported("skipped", res.Skipped)
	s.Log.Info().
		Str("file", name).
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Int("uncategorized", res.Uncategorized).
		Int("possible_duplicates", len(res.Duplicates)).
		Msg("import complete")
	return res, nil
}

// fuzzyDuplicate looks for an existing row with the same amount and type a
// few days either side whose description is close.
func fuzzyDuplicate(ctx context.Context, st *repository.Store, t repository.Transaction) (*DuplicateHint, error) {
	near, err := st.Transactions.Near(ctx, t.Date, t.Amount, t.Type, fuzzyWindowDays)
	if err != nil {
		return nil, fmt.Errorf("duplicate lookup: %w", err)
	}
	var best *DuplicateHint
	for _, n := range near {
		if n.SourceHash != nil && t.SourceHash != nil && *n.SourceHash == *t.SourceHash {
			continue
		}
		ratio := descriptionDistance(t.Description, n.Description)
		if ratio >= fuzzyMaxRatio {
			continue
		}
		if best == nil || 1-ratio > best.Similarity {
			best = &DuplicateHint{ExistingID: n.ID, Similarity: 1 - ratio}
		}
	}
	return best, nil
}

func descriptionDistance(a, b string) float64 {
	a, b = strings.ToUpper(strings.TrimSpace(a)), strings.ToUpper(strings.TrimSpace(b))
	maxlen := len(a)
	if len(b) > maxlen {
		maxlen = len(b)
	}
	if maxlen == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(maxlen)
}

func parseRow(dateStr, amountStr, desc, typ string) (repository.Transaction, error) {
	date, err := parseDate(dateStr)
	if err != nil {
		return repository.Transaction{}, fmt.Errorf("date: %w", err)
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return repository.Transaction{}, fmt.Errorf("amount: %w", err)
	}
	desc = strings.Join(strings.Fields(desc), " ")
	if desc == "" {
		return repository.Transaction{}, fmt.Errorf("description is empty")
	}
	t := repository.Transaction{Date: date, Description: desc, Amount: amount.Abs()}
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "":
		t.Type = repository.TypeIncome
		if amount.IsNegative() {
			t.Type = repository.TypeExpense
		}
	case string(repository.TypeIncome):
		t.Type = repository.TypeIncome
	case string(repository.TypeExpense):
		t.Type = repository.TypeExpense
	default:
		return repository.Transaction{}, fmt.Errorf("type must be income or expense")
	}
	return t, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// groupedAmount is the only comma form accepted: thousands groups ahead of
// an optional dot decimal part.
var groupedAmount = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+(\.\d*)?$`)

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.NewReplacer("$", "", " ", "").Replace(strings.TrimSpace(s))
	if strings.Contains(s, ",") {
		if !groupedAmount.MatchString(s) {
			return decimal.Zero, fmt.Errorf("ambiguous separators in amount %q", s)
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unrecognised amount %q", s)
	}
	return d, nil
}

func hashSource(parts ...string) *string {
	joined := strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(joined))
	h := fmt.Sprintf("%x", sum[:])
	return &h
}
