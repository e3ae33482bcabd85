package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newStatusCmd(o *opts) *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Check whether the tagrunner daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status := o.client().Status(cmd.Context())
			if status.Error != nil {
				return status.Error
			}
			if !status.Running {
				cmd.Println(color.RedString("The tagrunner daemon is not running"))
				return nil
			}
			cmd.Println(color.GreenString("The tagrunner daemon is running"))
			cmd.Printf("Models installed: %d\n", status.Info.ModelsInstalled)
			return nil
		},
	}
	return c
}
