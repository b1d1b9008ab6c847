package djdeploycmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var configCmd = cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration of the environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.load()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		_, _ = fmt.Fprint(w, cfg.Values)

		app.printf(w, "\n%s\n", app.au.Bold("processes"))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, p := range cfg.Processes {
			_, _ = fmt.Fprintln(tw, strings.Join([]string{"    " + cfg.ServiceName(p.Name), p.Command}, "\t"))
		}
		tw.Flush()

		if len(cfg.Schedules) > 0 {
			app.printf(w, "\n%s\n", app.au.Bold("cron"))
			tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			for _, s := range cfg.Schedules {
				_, _ = fmt.Fprintln(tw, strings.Join([]string{"    " + s.Name, s.Spec, s.Command}, "\t"))
			}
			tw.Flush()
		}
		return nil
	},
}
