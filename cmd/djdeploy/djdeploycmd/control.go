package djdeploycmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stuartcarnie/djdeploy"
)

func controlCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeployer(func(d *djdeploy.Deployer) error {
				fn := map[string]func(context.Context) error{
					"start":   d.Start,
					"stop":    d.Stop,
					"restart": d.Restart,
				}[verb]
				return fn(cmd.Context())
			})
		},
	}
}

var checkCmd = cobra.Command{
	Use:   "check",
	Short: "Check that the hosts have what a deployment needs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			if err := d.Check(cmd.Context()); err != nil {
				return err
			}
			app.printf(cmd.OutOrStdout(), "%s\n", app.au.Green("All checks passed"))
			return nil
		})
	},
}

var unlockCmd = cobra.Command{
	Use:   "unlock",
	Short: "Remove a deploy lock left behind by an interrupted operation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			return d.Unlock(cmd.Context())
		})
	},
}

var runCmd = cobra.Command{
	Use:   "run <command> [args...]",
	Short: "Run a Django management command on the first host",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			res, err := d.RunCommand(cmd.Context(), args...)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write([]byte(res.Stdout))
			return err
		})
	},
}

func init() {
	// Flags after the command name belong to the management command.
	runCmd.Flags().SetInterspersed(false)
}
