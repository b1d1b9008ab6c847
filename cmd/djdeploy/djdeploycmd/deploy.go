package djdeploycmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stuartcarnie/djdeploy"
)

var setupCmd = cobra.Command{
	Use:   "setup",
	Short: "Provision the hosts: directories, virtualenv and service configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			if err := d.Setup(cmd.Context()); err != nil {
				return err
			}
			app.printf(cmd.OutOrStdout(), "%s %d host(s)\n", app.au.Green("Provisioned"), len(d.Config.Hosts))
			return nil
		})
	},
}

var deployCmd = cobra.Command{
	Use:   "deploy",
	Short: "Deploy a new release",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			id, err := d.Deploy(cmd.Context())
			if err != nil {
				return err
			}
			app.printf(cmd.OutOrStdout(), "%s release %s (%s)\n", app.au.Green("Deployed"), app.au.Bold(id), d.Config.Checkout)
			return nil
		})
	},
}

var recreateVirtualenvCmd = cobra.Command{
	Use:   "recreate-virtualenv",
	Short: "Replace the virtualenv with a new one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			return d.RecreateVirtualenv(cmd.Context())
		})
	},
}

var purgeOpt = struct {
	yes bool
}{}

var purgeCmd = cobra.Command{
	Use:   "purge",
	Short: "Remove the application and all its releases from the hosts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !purgeOpt.yes {
			return errors.New("purge removes every release and the shared files; pass --yes to confirm")
		}
		return withDeployer(func(d *djdeploy.Deployer) error {
			if err := d.Purge(cmd.Context()); err != nil {
				return err
			}
			app.printf(cmd.OutOrStdout(), "%s %s\n", app.au.Yellow("Purged"), d.Config.Root)
			return nil
		})
	},
}

var putSecretsCmd = cobra.Command{
	Use:   "put-secrets",
	Short: "Upload the environment's secrets file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			if err := d.PutSecrets(cmd.Context()); err != nil {
				return err
			}
			app.printf(cmd.OutOrStdout(), "Uploaded %s\n", d.SecretsFile())
			return nil
		})
	},
}

var configureServerCmd = cobra.Command{
	Use:   "configure-server <admin-user>",
	Short: "Prepare the hosts for the deploy user, connecting as an administrator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeployer(func(d *djdeploy.Deployer) error {
			if err := d.ConfigureServer(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("configure server as %s: %w", args[0], err)
			}
			return nil
		})
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeOpt.yes, "yes", false, "Confirm the purge")
}
