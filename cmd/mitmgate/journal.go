package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mitmgate-hq/mitmgate/pkg/cli"
	"mitmgate-hq/mitmgate/pkg/config"
	"mitmgate-hq/mitmgate/pkg/journal"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
)

func newJournalCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query and prune the flow journal",
		Long: `The flow journal records every exchange that passes the journal stage:
method, URL, status, duration, redacted headers and the pipeline error if
any. Bodies are never recorded.`,
	}
	cmd.AddCommand(newJournalQueryCmd(opts), newJournalPruneCmd(opts))
	return cmd
}

func openJournal(opts *rootOptions) (journal.Store, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	return journal.Open(cfg.Journal, resolveDirs(cfg).Log, logging.Discard())
}

func newJournalQueryCmd(opts *rootOptions) *cobra.Command {
	var flags struct {
		host   string
		since  time.Duration
		limit  int
		errors bool
		format string
	}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List recorded flows, newest first",
		Long: `List recorded flows, newest first.

Examples:
  # Last 20 flows to one host
  mitmgate journal query --host api.example.com --limit 20

  # Failed flows of the last hour as CSV
  mitmgate journal query --errors --since 1h --format csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := cli.NewFormatter(cli.OutputFormat(flags.format))
			if err != nil {
				return err
			}
			store, err := openJournal(opts)
			if err != nil {
				return cli.NewCommandError("journal query", err)
			}
			defer store.Close()

			q := journal.Query{Host: flags.host, Limit: flags.limit, Errors: flags.errors}
			if flags.since > 0 {
				q.Since = time.Now().Add(-flags.since)
			}
			flows, err := store.Query(cmd.Context(), q)
			if err != nil {
				return cli.NewCommandError("journal query", err)
			}
			if _, ok := formatter.(*cli.JSONFormatter); ok {
				return formatter.FormatTo(cmd.OutOrStdout(), flows)
			}
			return formatter.FormatTo(cmd.OutOrStdout(), flowTable(flows))
		},
	}

	cmd.Flags().StringVar(&flags.host, "host", "", "only flows to this host")
	cmd.Flags().DurationVar(&flags.since, "since", 0, "only flows started within this duration")
	cmd.Flags().IntVar(&flags.limit, "limit", 100, "maximum number of flows (0 for all)")
	cmd.Flags().BoolVar(&flags.errors, "errors", false, "only flows that failed")
	cmd.Flags().StringVar(&flags.format, "format", "text", "output format: text, json, csv")
	return cmd
}

func newJournalPruneCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete flows older than the retention period",
		Long: `Delete flows older than --older-than, which defaults to journal.retention.
The scheduler does the same on journal.prune_schedule while the proxy runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.Journal.Retention
			}
			store, err := journal.Open(cfg.Journal, resolveDirs(cfg).Log, logging.Discard())
			if err != nil {
				return cli.NewCommandError("journal prune", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := store.Prune(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return cli.NewCommandError("journal prune", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d flows older than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, fmt.Sprintf("age threshold (default journal.retention, %s)", config.DefaultJournalRetention))
	return cmd
}

// flowTable renders flows one per row.
type flowTable []*journal.Flow

func (t flowTable) Header() []string {
	return []string{"STARTED", "METHOD", "STATUS", "DURATION", "URL", "ERROR"}
}

func (t flowTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, f := range t {
		status := "-"
		if f.Status != 0 {
			status = strconv.Itoa(f.Status)
		}
		rows = append(rows, []string{
			f.StartedAt.UTC().Format(time.RFC3339),
			f.Method,
			status,
			f.Duration.Round(time.Millisecond).String(),
			f.URL,
			f.Error,
		})
	}
	return rows
}
