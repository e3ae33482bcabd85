package commands

import (
	"github.com/spf13/cobra"

	"github.com/lumeview/tagrunner/pkg/client"
)

const defaultHost = "http://127.0.0.1:7764"

// opts carries the persistent flag values shared by all subcommands.
type opts struct {
	host       string
	configPath string
}

func (o *opts) client() *client.Client {
	return client.New(o.host)
}

func NewRootCmd() *cobra.Command {
	o := &opts{}

	c := &cobra.Command{
		Use:           "tagrunner",
		Short:         "Batch image tagging with WD tagger models",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	c.PersistentFlags().StringVar(&o.host, "host", defaultHost, "Address of the tagrunner daemon")
	c.PersistentFlags().StringVar(&o.configPath, "config", "", "Path to the settings file (default ~/.config/tagrunner/settings.toml)")

	c.AddCommand(
		newServeCmd(),
		newModelsCmd(o),
		newInstallCmd(o),
		newRemoveCmd(o),
		newTagCmd(o),
		newStatusCmd(o),
	)
	return c
}
