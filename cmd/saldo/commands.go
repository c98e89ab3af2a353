package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jask/saldo/internal/api"
	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/demo"
	"github.com/jask/saldo/internal/secrets"
	"github.com/jask/saldo/internal/service"
	"github.com/jask/saldo/internal/tui"
)

// withApp runs fn against a freshly opened app and closes it afterwards.
func withApp(cmd *cobra.Command, withLLM bool, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, withLLM)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				if addr == "" {
					addr = a.cfg.Server.Addr()
				}
				if a.cfg.Server.PasswordHash == "" {
					a.log.Warn().Msg("server.password_hash is empty; API is unauthenticated")
				}
				srv := api.New(api.Deps{
					Categorizer:  a.categorizer,
					Balances:     a.balances,
					Ingest:       a.ingest,
					Analytics:    a.analytics,
					Insights:     a.insights,
					Maintenance:  a.maintenance,
					Metrics:      a.metrics,
					Log:          a.log,
					PasswordHash: a.cfg.Server.PasswordHash,
				})
				return srv.ListenAndServe(ctx, addr, a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				return tui.Run(ctx, tui.Services{
					Analytics:   a.analytics,
					Balances:    a.balances,
					Categorizer: a.categorizer,
				}, tui.Options{
					Currency:    a.cfg.UI.CurrencySymbol,
					DateFormat:  a.cfg.UI.DateFormat,
					RecentLimit: 200,
				})
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Reconcile the live balance against the selected statement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				rep, err := a.balances.Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, rep)
				}
				sym := a.cfg.UI.CurrencySymbol
				if !rep.HasBaseline {
					fmt.Fprintln(out, "No statement balance selected; import a statement with --statement-balance.")
				} else {
					date := "undated"
					if rep.BaselineDate != nil {
						date = rep.BaselineDate.Format(repository.DateLayout)
					}
					fmt.Fprintf(out, "Baseline     %s%s (%s)\n", sym, rep.BaselineBalance.StringFixed(2), date)
				}
				fmt.Fprintf(out, "Income       %s%s\n", sym, rep.Income.StringFixed(2))
				fmt.Fprintf(out, "Expenses     %s%s\n", sym, rep.Expense.StringFixed(2))
				fmt.Fprintf(out, "Transactions %d\n", rep.TransactionCount)
				fmt.Fprintf(out, "Calculated   %s%s\n", sym, rep.CalculatedBalance.StringFixed(2))
				fmt.Fprintf(out, "Live         %s%s\n", sym, rep.LiveBalance.StringFixed(2))
				fmt.Fprintf(out, "Difference   %s%s\n", sym, rep.Difference.StringFixed(2))
				fmt.Fprintf(out, "Severity     %s\n", rep.Severity)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newImportCmd() *cobra.Command {
	var balance, date string
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a CSV statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := service.ImportOptions{FileName: filepath.Base(args[0])}
			if balance != "" {
				b, err := decimal.NewFromString(balance)
				if err != nil {
					return fmt.Errorf("--statement-balance: %w", err)
				}
				opts.StatementBalance = &b
			}
			if date != "" {
				d, err := time.Parse(repository.DateLayout, date)
				if err != nil {
					return fmt.Errorf("--statement-date: want YYYY-MM-DD")
				}
				opts.StatementDate = &d
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				res, err := a.ingest.ImportCSV(ctx, f, opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Imported %d, skipped %d duplicate(s)\n", res.Imported, res.Skipped)
				for _, e := range res.Errors {
					fmt.Fprintf(out, "  line %d: %s\n", e.Line, e.Error)
				}
				if res.Uncategorized > 0 {
					fmt.Fprintf(out, "%d row(s) left uncategorised by malformed rules\n", res.Uncategorized)
				}
				for _, f := range res.CategoryFailures {
					fmt.Fprintf(out, "  transaction %d %q: %s\n", f.TransactionID, f.Description, f.Error)
				}
				for _, d := range res.Duplicates {
					fmt.Fprintf(out, "  line %d looks like transaction %d (%.0f%% similar)\n", d.Line, d.ExistingID, d.Similarity*100)
				}
				if res.FileBalance != nil {
					fmt.Fprintf(out, "Statement balance %s recorded (id %d, baseline %t)\n",
						res.FileBalance.Balance.StringFixed(2), res.FileBalance.ID, res.FileBalance.IsSelected)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&balance, "statement-balance", "", "balance printed on the statement")
	cmd.Flags().StringVar(&date, "statement-date", "", "statement date (YYYY-MM-DD)")
	return cmd
}

func newRecategorizeCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "recategorize",
		Short: "Re-run the rules over every transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				rep, err := a.categorizer.Recategorize(ctx, service.RecategorizeOptions{DryRun: dryRun})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				verb := "updated"
				if dryRun {
					verb = "would update"
				}
				fmt.Fprintf(out, "%d total: %d %s, %d unchanged, %d overridden, %d failed\n",
					rep.Total, rep.Updated, verb, rep.Unchanged, rep.Overridden, rep.Failed)
				for _, re := range rep.RuleErrors {
					fmt.Fprintf(out, "  rule %d %q: %s\n", re.RuleID, re.Pattern, re.Err)
				}
				for _, f := range rep.Failures {
					fmt.Fprintf(out, "  transaction %d %q: %s\n", f.TransactionID, f.Description, f.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without writing them")
	return cmd
}

func newBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Change the live balance",
	}
	var note string
	set := &cobra.Command{
		Use:   "set <amount>",
		Short: "Override the live balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				e, err := a.balances.SetManualBalance(ctx, v, note)
				if err != nil {
					return err
				}
				return printAudit(cmd.OutOrStdout(), e)
			})
		},
	}
	set.Flags().StringVar(&note, "note", "", "audit note")

	sel := &cobra.Command{
		Use:   "select <file-balance-id>",
		Short: "Make a statement balance the baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("id: %w", err)
			}
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				e, err := a.balances.SelectFileBalance(ctx, id, note)
				if err != nil {
					return err
				}
				return printAudit(cmd.OutOrStdout(), e)
			})
		},
	}
	sel.Flags().StringVar(&note, "note", "", "audit note")

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete statement balances and audit history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset cannot be undone; pass --yes to confirm")
			}
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				e, err := a.balances.Reset(ctx)
				if err != nil {
					return err
				}
				return printAudit(cmd.OutOrStdout(), e)
			})
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "confirm the reset")

	list := &cobra.Command{
		Use:   "files",
		Short: "List statement balances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				fbs, err := a.balances.FileBalances(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, fb := range fbs {
					mark := " "
					if fb.IsSelected {
						mark = "*"
					}
					date := "-"
					if fb.StatementDate != nil {
						date = fb.StatementDate.Format(repository.DateLayout)
					}
					fmt.Fprintf(out, "%s %4d  %-10s  %12s  %s\n", mark, fb.ID, date, fb.Balance.StringFixed(2), fb.FileName)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(set, sel, reset, list)
	return cmd
}

func printAudit(w io.Writer, e repository.AuditEntry) error {
	old := "none"
	if e.OldValue != nil {
		old = e.OldValue.StringFixed(2)
	}
	_, err := fmt.Fprintf(w, "Balance %s -> %s (%s) audit #%d\n", old, e.NewValue.StringFixed(2), e.Reason, e.ID)
	return err
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup [path]",
		Short: "Write a JSON backup of all data",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "saldo-backup-" + time.Now().UTC().Format("20060102-150405") + ".json"
			if len(args) == 1 {
				path = args[0]
			}
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				b, err := a.maintenance.WriteBackupFile(ctx, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup %s written to %s (%d transactions)\n", b.ID, path, len(b.Transactions))
				return nil
			})
		},
	}
}

func newRestoreCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <path>",
		Short: "Replace all data with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("restore replaces all data; pass --yes to confirm")
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				b, err := a.maintenance.Restore(ctx, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored backup %s: %d categories, %d rules, %d transactions\n",
					b.ID, len(b.Categories), len(b.Rules), len(b.Transactions))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the restore")
	return cmd
}

func newWipeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete all data and re-seed default categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("wipe deletes everything; pass --yes to confirm")
			}
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				if err := a.maintenance.WipeAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All data deleted.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	return cmd
}

func newDemoCmd() *cobra.Command {
	var days int
	var seed uint64
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Load generated demo rules and transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				res, err := demo.Seed(ctx, demo.Services{
					Categorizer: a.categorizer,
					Ingest:      a.ingest,
					Balances:    a.balances,
				}, demo.Options{Days: days, Seed: seed, Now: time.Now().In(a.location())})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Demo: %d rule(s) added, %d transaction(s) imported, %d skipped\n",
					res.Rules, res.Import.Imported, res.Import.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "days of history to generate")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "random seed")
	return cmd
}

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage stored LLM provider keys",
	}
	set := &cobra.Command{
		Use:   "set <provider> [key]",
		Short: "Store a provider key (read from stdin when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 2 {
				key = args[1]
			} else {
				var err error
				if key, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			store, err := secrets.NewStore("")
			if err != nil {
				return err
			}
			if err := store.Set(args[0], key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored key for %s\n", args[0])
			return nil
		},
	}
	del := &cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove a stored provider key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := secrets.NewStore("")
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted key for %s\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(set, del)
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for server.password_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := ""
			if len(args) == 1 {
				pw = args[0]
			} else {
				var err error
				if pw, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if pw == "" {
				return errors.New("password is empty")
			}
			hash, err := api.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
