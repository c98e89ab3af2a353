package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/saldo/internal/categorize"
	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/service"
)

// DemoFileName names the import created by Seed.
const DemoFileName = "demo"

// Services bundles the services used by Seed.
type Services struct {
	Categorizer *service.CategorizerService
	Ingest      *service.IngestService
	Balances    *service.BalanceService
}

// Options controls the generated history. Zero values pick sensible defaults.
type Options struct {
	Days    int
	Seed    uint64
	Opening decimal.Decimal
	Now     time.Time
}

// Result reports what Seed created.
type Result struct {
	Rules  int
	Import service.ImportResult
}

type merchant struct {
	desc     string
	minCents int64
	maxCents int64
	perWeek  int
}

var merchants = []merchant{
	{"WOOLWORTHS METRO", 1500, 12000, 2},
	{"COLES SUPERMARKET", 2000, 16000, 1},
	{"UBER *TRIP", 900, 4500, 2},
	{"CAFE NERO", 450, 1800, 3},
	{"AMAZON MKTPLACE", 1200, 15000, 1},
	{"CHEMIST WAREHOUSE", 800, 6000, 0},
	{"UNKNOWN MERCHANT 4411", 500, 9000, 0},
}

var demoRules = []struct {
	category  string
	pattern   string
	matchType string
	priority  int
}{
	{"Groceries", "WOOLWORTHS", categorize.MatchContains, 10},
	{"Groceries", "COLES", categorize.MatchPrefix, 10},
	{"Transport", "UBER", categorize.MatchContains, 10},
	{"Dining & Drinks", `^cafe\b`, categorize.MatchRegex, 20},
	{"Entertainment", "SPOTIFY", categorize.MatchContains, 10},
	{"Shopping", "AMAZON", categorize.MatchContains, 5},
	{"Health", "CHEMIST", categorize.MatchContains, 10},
	{"Income", "SALARY", categorize.MatchContains, 50},
	{"Bills & Utilities", "RENT", categorize.MatchPrefix, 40},
}

// Seed adds demo rules and a generated statement history. Running it twice
// with the same options adds nothing new: rules are matched by pattern and
// rows are deduplicated on import.
func Seed(ctx context.Context, svc Services, opts Options) (Result, error) {
	if opts.Days <= 0 {
		opts.Days = 90
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Opening.IsZero() {
		opts.Opening = decimal.NewFromInt(3200)
	}

	var res Result
	n, err := seedRules(ctx, svc.Categorizer)
	if err != nil {
		return res, err
	}
	res.Rules = n

	end := time.Date(opts.Now.Year(), opts.Now.Month(), opts.Now.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -opts.Days+1)
	rows := Generate(start, end, opts.Seed)

	imp, err := svc.Ingest.ImportRows(ctx, rows, service.ImportOptions{
		FileName:         DemoFileName,
		StatementBalance: &opts.Opening,
		StatementDate:    &start,
	})
	if err != nil {
		return res, fmt.Errorf("import demo rows: %w", err)
	}
	res.Import = imp

	// A fresh database takes the opening balance as its baseline. Close the
	// gap so the dashboard starts reconciled.
	if imp.Imported > 0 && imp.FileBalance != nil && imp.FileBalance.IsSelected && svc.Balances != nil {
		closing := opts.Opening
		for _, r := range rows {
			closing = closing.Add(r.Amount)
		}
		if _, err := svc.Balances.SetManualBalance(ctx, closing, "demo closing balance"); err != nil {
			return res, err
		}
	}
	return res, nil
}

func seedRules(ctx context.Context, cs *service.CategorizerService) (int, error) {
	cats, err := cs.ListCategories(ctx)
	if err != nil {
		return 0, err
	}
	byName := make(map[string]int64, len(cats))
	for _, c := range cats {
		byName[c.Name] = c.ID
	}
	existing, err := cs.ListRules(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[r.MatchType+"|"+r.Pattern] = true
	}

	created := 0
	for _, r := range demoRules {
		id, ok := byName[r.category]
		if !ok || have[r.matchType+"|"+r.pattern] {
			continue
		}
		if _, err := cs.CreateRule(ctx, service.RuleInput{
			CategoryID: id,
			Pattern:    r.pattern,
			MatchType:  r.matchType,
			Priority:   r.priority,
		}); err != nil {
			return created, fmt.Errorf("rule %q: %w", r.pattern, err)
		}
		created++
	}
	return created, nil
}

// Generate builds a deterministic history between start and end inclusive:
// fortnightly salary, monthly rent and subscription, and random card spend.
func Generate(start, end time.Time, seed uint64) []service.RowInput {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var rows []service.RowInput
	add := func(d time.Time, cents int64, desc string) {
		rows = append(rows, service.RowInput{
			Date:        d.Format(repository.DateLayout),
			Amount:      decimal.New(cents, -2),
			Description: desc,
		})
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		switch d.Day() {
		case 1:
			add(d, -185000, "RENT PAYMENT REF "+d.Format("200601"))
		case 5:
			add(d, -1199, "SPOTIFY P"+d.Format("0102"))
		}
		if d.Day() == 1 || d.Day() == 15 {
			add(d, 248000, "SALARY ACME PTY LTD")
		}
		for _, m := range merchants {
			chance := m.perWeek
			if chance == 0 {
				chance = 1
				if rng.IntN(2) == 0 {
					continue
				}
			}
			if rng.IntN(7) >= chance {
				continue
			}
			cents := m.minCents + rng.Int64N(m.maxCents-m.minCents+1)
			add(d, -cents, m.desc)
		}
	}
	return rows
}
