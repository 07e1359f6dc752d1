// Package commands holds the hire-checkout command tree.
package commands

import "github.com/spf13/cobra"

var Version = "dev"

// NewRootCmd builds the hire-checkout command with every sub-command attached
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "hire-checkout",
		Short:         "Accept freelance proposals, fund escrow and create contracts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults to $CONFIG_FILE)")

	root.AddCommand(botCmd(&configPath))
	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(feesCmd())
	root.AddCommand(cardCmd())
	root.AddCommand(ledgerCmd(&configPath))

	return root
}
