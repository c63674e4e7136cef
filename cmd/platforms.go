package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout/internal/platform"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List the platforms acquire can search",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := initRegistry(cfg)
		if err != nil {
			return err
		}
		formatPlatforms(cmd.OutOrStdout(), reg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(platformsCmd)
}

// formatPlatforms writes one row per registered platform to out.
func formatPlatforms(out io.Writer, reg *platform.Registry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tALIASES\tSORT\tDM_READY\tSEARCH_URL")
	_, _ = fmt.Fprintln(w, "----\t-------\t----\t--------\t----------")
	for _, name := range reg.Names() {
		p, _ := reg.Lookup(name)
		sorts := "-"
		if len(p.SortModes) > 0 {
			sorts = strings.Join(p.SortModes, ",")
		}
		aliases := "-"
		if len(p.Aliases) > 0 {
			aliases = strings.Join(p.Aliases, ",")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", p.Name, aliases, sorts, p.RequireDMReady, p.SearchURL)
	}
	_ = w.Flush()
}
