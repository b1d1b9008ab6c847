package djdeploycmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stuartcarnie/djdeploy"
)

var rollbackCmd = cobra.Command{
	Use:   "rollback [release]",
	Short: "Switch back to an earlier release and reverse its migrations",
	Long: `Switch back to an earlier release and reverse its migrations.

The release is a release ID as listed by "releases", or "previous" (the
default) for the release before the current one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := djdeploy.Previous
		if len(args) == 1 {
			target = args[0]
		}
		return withDeployer(func(d *djdeploy.Deployer) error {
			plans, err := d.Rollback(cmd.Context(), target)
			if err != nil {
				return err
			}
			for _, p := range plans {
				app.printf(cmd.OutOrStdout(), "%s: %s %s to %s (%d migration(s) reversed)\n",
					p.Host, app.au.Yellow("rolled back"), p.From, app.au.Bold(p.To), len(p.Steps))
			}
			return nil
		})
	},
}

var releasesCmd = cobra.Command{
	Use:   "releases",
	Short: "List the releases on each host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			hosts, err := d.Releases(cmd.Context())
			if err != nil {
				return err
			}
			printReleases(cmd.OutOrStdout(), hosts)
			return nil
		})
	},
}

func printReleases(w io.Writer, hosts []djdeploy.HostReleases) {
	for _, h := range hosts {
		app.printf(w, "%s\n", app.au.Bold(h.Host))
		if len(h.Releases) == 0 {
			app.printf(w, "    no releases\n")
			continue
		}
		tw := tabwriter.NewWriter(w, 0, 4, 3, ' ', 0)
		for i := len(h.Releases) - 1; i >= 0; i-- {
			id := h.Releases[i]
			mark := ""
			if id == h.Current {
				mark = app.au.Green("current").String()
			}
			_, _ = fmt.Fprintln(tw, strings.Join([]string{"    " + id.String(), id.Friendly(), mark}, "\t"))
		}
		tw.Flush()
	}
}

var infoCmd = cobra.Command{
	Use:   "info",
	Short: "Show the release running on each host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			infos, err := d.Info(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, info := range infos {
				r := info.Manifest.Release
				prev := "none"
				if info.Previous != "" {
					prev = info.Previous.String()
				}
				app.printf(w, "%s\n", app.au.Bold(info.Host))
				tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
				for _, row := range [][2]string{
					{"release:", app.au.Green(info.Current).String()},
					{"released:", r.DisplayDate},
					{"by:", r.By},
					{"ref:", r.Ref},
					{"strategy:", r.Type},
					{"sha:", r.SHA},
					{"previous:", prev},
				} {
					_, _ = fmt.Fprintf(tw, "    %s\t%s\n", row[0], row[1])
				}
				tw.Flush()
			}
			return nil
		})
	},
}

var pruneCmd = cobra.Command{
	Use:   "prune [keep]",
	Short: "Delete old releases, keeping the newest (keep_releases by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			keep := d.Config.KeepReleases
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid number of releases to keep %q", args[0])
				}
				keep = n
			}
			pruned, err := d.Prune(cmd.Context(), keep)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, p := range pruned {
				if len(p.Deleted) == 0 && len(p.Partials) == 0 {
					app.printf(w, "%s: nothing to prune\n", p.Host)
					continue
				}
				for _, id := range p.Deleted {
					app.printf(w, "%s: %s %s\n", p.Host, app.au.Red("deleted"), id)
				}
				for _, id := range p.Partials {
					app.printf(w, "%s: %s %s\n", p.Host, app.au.Red("deleted partial"), id)
				}
			}
			return nil
		})
	},
}
