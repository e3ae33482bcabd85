package commands

import (
	"github.com/spf13/cobra"
)

func newRemoveCmd(o *opts) *cobra.Command {
	c := &cobra.Command{
		Use:   "rm [MODEL...]",
		Short: "Remove installed models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, model := range args {
				if err := o.client().Remove(cmd.Context(), model); err != nil {
					return handleClientError(err, "Failed to remove model")
				}
				cmd.Printf("Removed: %s\n", model)
			}
			return nil
		},
	}
	return c
}
