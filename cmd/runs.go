package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout/internal/monitoring"
	"github.com/sells-group/leadscout/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect acquisition run history",
	Long:  "Commands for listing and summarizing runs recorded in the lead store.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openRunStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics over recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openRunStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		snap, err := monitoring.NewCollector(st).Collect(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	runsCmd.PersistentFlags().String("db", "", "lead store SQLite file (default from config)")
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsListCmd.Flags().Bool("json", false, "print full run records as JSON")
	runsStatsCmd.Flags().Int("limit", 50, "number of recent runs to aggregate")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRunStore(cmd *cobra.Command) (store.LeadStore, error) {
	if cmd.Flags().Changed("db") {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path, _ = cmd.Flags().GetString("db")
	}
	cfg.Store.Enabled = true
	return initStore(cmd.Context(), cfg)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.RunRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tPLATFORMS\tREAD\tLEADS\tNEW\tTIMEOUTS")
	_, _ = fmt.Fprintln(w, "--\t-------\t--------\t---------\t----\t-----\t---\t--------")

	for _, r := range runs {
		dur := r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		timeouts := len(r.Summary.TimedOutPlatforms)
		if r.Summary.Control.GlobalTimeout {
			timeouts++
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			truncateID(r.ID),
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			len(r.Summary.Platforms),
			r.Summary.PostsRead,
			r.LeadsTotal,
			r.LeadsInserted,
			timeouts,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs:\t%d\n", s.Runs)
	_, _ = fmt.Fprintf(w, "Leads:\t%d\n", s.LeadsTotal)
	_, _ = fmt.Fprintf(w, "  New:\t%d\n", s.LeadsInserted)
	_, _ = fmt.Fprintf(w, "Avg leads/run:\t%.1f\n", s.AvgLeads)
	_, _ = fmt.Fprintf(w, "Zero-lead runs:\t%d\n", s.ZeroLeadRuns)
	_, _ = fmt.Fprintf(w, "Timed-out runs:\t%d\n", s.TimeoutRuns)
	_, _ = fmt.Fprintf(w, "Posts read:\t%d\n", s.PostsRead)
	_, _ = fmt.Fprintf(w, "Blocked pages:\t%d\n", s.BlockedPages)
	if s.LastRunID != "" {
		_, _ = fmt.Fprintf(w, "Last run:\t%s (%s)\n", truncateID(s.LastRunID), s.LastRunAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
