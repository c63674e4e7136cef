package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/access"
)

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Inspect and maintain the revisit cooldown store",
}

var accessStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many cooldown records are stored",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyAccessDB(cmd)

		ctrl, err := access.Open(ctx, cfg.Access)
		if err != nil {
			return err
		}
		defer ctrl.Close() //nolint:errcheck

		counts, err := ctrl.Store().CountByKind(ctx)
		if err != nil {
			return eris.Wrap(err, "access stats")
		}
		formatAccessStats(cmd.OutOrStdout(), cfg.Access.DBPath, ctrl.Config(), counts)
		return nil
	},
}

var accessSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired records and enforce the size limit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyAccessDB(cmd)

		ctrl, err := access.Open(ctx, cfg.Access)
		if err != nil {
			return err
		}
		defer ctrl.Close() //nolint:errcheck

		expired, evicted, err := ctrl.Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "access sweep")
		}
		zap.L().Info("access sweep complete",
			zap.Int("expired", expired),
			zap.Int("evicted", evicted),
		)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "expired=%d evicted=%d\n", expired, evicted)
		return nil
	},
}

func init() {
	accessCmd.PersistentFlags().String("access-db", "", "access control SQLite file (default from config)")
	accessCmd.AddCommand(accessStatsCmd)
	accessCmd.AddCommand(accessSweepCmd)
	rootCmd.AddCommand(accessCmd)
}

func applyAccessDB(cmd *cobra.Command) {
	if cmd.Flags().Changed("access-db") {
		cfg.Access.DBPath, _ = cmd.Flags().GetString("access-db")
	}
	// Maintenance always targets the persistent store.
	cfg.Access.Enabled = true
	cfg.Access.Persist = true
}

func formatAccessStats(out io.Writer, path string, c access.Config, counts map[access.Kind]int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Store:\t%s\n", path)
	_, _ = fmt.Fprintf(w, "Video records:\t%d\n", counts[access.KindVideo])
	_, _ = fmt.Fprintf(w, "User records:\t%d\n", counts[access.KindUser])
	_, _ = fmt.Fprintf(w, "Total:\t%d / %d\n", counts[access.KindVideo]+counts[access.KindUser], c.MaxEntries)
	_, _ = fmt.Fprintf(w, "Video cooldown:\t%s\n", c.VideoCooldown)
	_, _ = fmt.Fprintf(w, "User cooldown:\t%s\n", c.UserCooldown)
	_ = w.Flush()
}
