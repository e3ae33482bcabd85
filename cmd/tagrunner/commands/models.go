package commands

import (
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lumeview/tagrunner/pkg/server"
)

func newModelsCmd(o *opts) *cobra.Command {
	var quiet bool

	c := &cobra.Command{
		Use:   "models",
		Short: "List available models and their install state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := o.client().List(cmd.Context())
			if err != nil {
				return handleClientError(err, "Failed to list models")
			}
			if quiet {
				for _, m := range models {
					cmd.Println(m.ID)
				}
				return nil
			}
			cmd.Print(prettyPrintModels(models))
			return nil
		},
	}

	c.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only show model ids")
	return c
}

// prettyPrintModels renders the model table, sorted case-insensitively
// by id with the default model first.
func prettyPrintModels(models []server.ModelInfo) string {
	sort.SliceStable(models, func(i, j int) bool {
		if models[i].Default != models[j].Default {
			return models[i].Default
		}
		return strings.ToLower(models[i].ID) < strings.ToLower(models[j].ID)
	})

	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"MODEL", "NAME", "SIZE", "STATUS"})

	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, m := range models {
		id := m.ID
		if m.Default {
			id += " (default)"
		}
		table.Append([]string{
			id,
			m.DisplayName,
			units.HumanSize(float64(m.SizeBytes)),
			string(m.Status),
		})
	}

	table.Render()
	return sb.String()
}
