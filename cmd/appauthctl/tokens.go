package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/example/appauth/internal/tokens"
)

func newTokensCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tokens",
		Short:   "Maintain issued API tokens",
		Aliases: []string{"token"},
	}
	cmd.AddCommand(newPruneCmd(open), newStatsCmd(open))
	return cmd
}

func newPruneCmd(open opener) *cobra.Command {
	var (
		days      int
		inactive  bool
		dryRun    bool
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired and revoked tokens",
		Long: `Deletes tokens that expired more than --days ago. With --inactive, revoked tokens
untouched for the same period are removed too. Deletion runs in batches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			ctx := cmd.Context()
			s, c, err := open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if batchSize <= 0 && c != nil {
				batchSize = c.PruneBatchSize
			}
			res, err := tokens.NewService(s).Prune(ctx, tokens.PruneOptions{
				OlderThan:       time.Duration(days) * 24 * time.Hour,
				IncludeInactive: inactive,
				BatchSize:       batchSize,
				DryRun:          dryRun,
			})
			if err != nil {
				return err
			}
			renderPrune(cmd.OutOrStdout(), res, inactive)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "grace period in days")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "also delete revoked tokens")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows per delete statement (defaults to PRUNE_BATCH_SIZE)")
	return cmd
}

func renderPrune(out io.Writer, res tokens.PruneResult, inactive bool) {
	verb := "Deleted"
	if res.DryRun {
		verb = "Would delete"
		fmt.Fprintln(out, text.FgYellow.Sprint("Dry run: no tokens were deleted."))
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Category", verb})
	t.AppendRow(table.Row{"Expired", res.Expired})
	if inactive {
		t.AppendRow(table.Row{"Inactive", res.Inactive})
	}
	t.AppendFooter(table.Row{"Total", res.Total()})
	t.Render()
	fmt.Fprintf(out, "Cutoff: %s\n", res.Cutoff.Format(time.RFC3339))
}

func newStatsCmd(open opener) *cobra.Command {
	var (
		applicationID, userID int64
		export                string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch export {
			case "", "json", "csv":
			default:
				return fmt.Errorf("unsupported export format %q (supported: json, csv)", export)
			}
			ctx := cmd.Context()
			s, _, err := open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := tokens.NewService(s).Statistics(ctx, tokens.Filter{ApplicationID: applicationID, UserID: userID})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if export == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			renderStats(out, st, export == "csv")
			return nil
		},
	}
	cmd.Flags().Int64Var(&applicationID, "application", 0, "limit to one application id")
	cmd.Flags().Int64Var(&userID, "user", 0, "limit to one user id")
	cmd.Flags().StringVar(&export, "export", "", "export format: json or csv")
	return cmd
}

func statsRows(st *tokens.Stats) []table.Row {
	rows := []table.Row{
		{"Total", st.Total},
		{"Active", st.Active},
		{"Inactive", st.Inactive},
		{"Expired", st.Expired},
		{"Never expire", st.NeverExpires},
		{"Expire within 24h", st.ExpiresIn24h},
		{"Expire within 7 days", st.ExpiresIn7d},
		{"Expire within 30 days", st.ExpiresIn30d},
		{"Used in last 24h", st.UsedLast24h},
		{"Used in last week", st.UsedLastWeek},
		{"Used in last month", st.UsedLastMonth},
		{"Never used", st.NeverUsed},
	}
	for _, sc := range st.Scopes {
		rows = append(rows, table.Row{"Scope " + sc.Scope, sc.Count})
	}
	return rows
}

func renderStats(out io.Writer, st *tokens.Stats, csv bool) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Metric", "Count"})
	t.AppendRows(statsRows(st))
	if csv {
		t.RenderCSV()
		return
	}
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Token statistics (%s)", st.GeneratedAt.Format(time.RFC3339))
	t.Render()
}
