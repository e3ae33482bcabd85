package commands

import (
	"github.com/spf13/cobra"
)

func newInstallCmd(o *opts) *cobra.Command {
	c := &cobra.Command{
		Use:   "install MODEL",
		Short: "Download a model to the daemon's store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.client().Install(cmd.Context(), args[0], asPrinter(cmd)); err != nil {
				return handleClientError(err, "Failed to install model")
			}
			return nil
		},
	}
	return c
}
