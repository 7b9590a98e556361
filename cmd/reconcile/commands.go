package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JosineyJr/paydispatch/internal/bootstrap"
	"github.com/JosineyJr/paydispatch/internal/config"
	"github.com/JosineyJr/paydispatch/internal/queue"
	"github.com/JosineyJr/paydispatch/pkg/payments"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigFastest

type store interface {
	Summarize(ctx context.Context, from, to time.Time) (payments.PaymentsSummary, error)
	DeadLetters(ctx context.Context, limit int64) ([]queue.DeadLetter, error)
	Replay(ctx context.Context, id string) error
}

type opener func(ctx context.Context) (store, *config.Config, func(), error)

type backendStore struct {
	bootstrap.Ledger
	bootstrap.Queue
}

func openStore(ctx context.Context) (store, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	b, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if !b.Shared() {
		b.Close()
		return nil, nil, nil, fmt.Errorf("reconcile needs shared backends, got ledger=%s queue=%s", cfg.LedgerBackend, cfg.QueueBackend)
	}
	return backendStore{Ledger: b.Ledger, Queue: b.Queue}, cfg, b.Close, nil
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "reconcile",
		Short:         "Inspect the payment ledger and dead-lettered payments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	deadLetters := &cobra.Command{
		Use:   "deadletters",
		Short: "List or replay payments that could not be dispatched",
	}
	deadLetters.AddCommand(listCmd(open), replayCmd(open))

	root.AddCommand(summaryCmd(open), deadLetters)
	return root
}

func summaryCmd(open opener) *cobra.Command {
	var fromFlag, toFlag string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show committed totals and fees per processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := parseRange(fromFlag, toFlag)
			if err != nil {
				return err
			}

			s, cfg, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := s.Summarize(cmd.Context(), from, to)
			if err != nil {
				return fmt.Errorf("summarizing ledger: %w", err)
			}
			fees := summary.Fees(
				decimal.NewFromFloat(cfg.DefaultFeeRate),
				decimal.NewFromFloat(cfg.FallbackFeeRate),
			)

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					Summary payments.PaymentsSummary `json:"summary"`
					Fees    payments.FeeReport       `json:"fees"`
				}{summary, fees})
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROCESSOR\tREQUESTS\tAMOUNT\tFEE")
			fmt.Fprintf(w, "default\t%d\t%s\t%s\n", summary.Default.Count, summary.Default.Total.StringFixed(2), fees.Default.StringFixed(2))
			fmt.Fprintf(w, "fallback\t%d\t%s\t%s\n", summary.Fallback.Count, summary.Fallback.Total.StringFixed(2), fees.Fallback.StringFixed(2))
			fmt.Fprintf(w, "total\t%d\t%s\t%s\n",
				summary.Default.Count+summary.Fallback.Count,
				summary.Default.Total.Add(summary.Fallback.Total).StringFixed(2),
				fees.Total.StringFixed(2))
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&fromFlag, "from", "", "Start of the requestedAt range, RFC3339 (inclusive)")
	cmd.Flags().StringVar(&toFlag, "to", "", "End of the requestedAt range, RFC3339 (inclusive)")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func listCmd(open opener) *cobra.Command {
	var limit int64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered payments, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			dead, err := s.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("listing dead letters: %w", err)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), dead)
			}
			if len(dead) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead-lettered payments.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CORRELATION ID\tAMOUNT\tATTEMPTS\tTRIED\tDEAD-LETTERED AT\tREASON")
			for _, d := range dead {
				tried := make([]string, len(d.Record.ProcessorsTried))
				for i, id := range d.Record.ProcessorsTried {
					tried[i] = string(id)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					d.Record.ID,
					d.Record.Payment.Amount.StringFixed(2),
					d.Record.Attempt,
					strings.Join(tried, ","),
					d.DeadLetteredAt.Format(time.RFC3339),
					d.Reason,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int64VarP(&limit, "limit", "n", 50, "Maximum entries, 0 for all")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func replayCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [correlation-id...]",
		Short: "Put dead-lettered payments back on the dispatch queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			for _, id := range args {
				if err := s.Replay(cmd.Context(), id); err != nil {
					return fmt.Errorf("replaying %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Replayed %s\n", id)
			}
			return nil
		},
	}
}

func parseRange(fromFlag, toFlag string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error

	if fromFlag != "" {
		if from, err = time.Parse(time.RFC3339Nano, fromFlag); err != nil {
			return from, to, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if toFlag != "" {
		if to, err = time.Parse(time.RFC3339Nano, toFlag); err != nil {
			return from, to, fmt.Errorf("invalid --to: %w", err)
		}
	} else {
		to = time.Now().UTC()
	}
	if from.After(to) {
		return from, to, fmt.Errorf("--from %s is after --to %s", from.Format(time.RFC3339Nano), to.Format(time.RFC3339Nano))
	}
	return from, to, nil
}

func writeJSON(w io.Writer, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", body)
	return err
}
