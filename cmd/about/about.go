package about

import (
	"github.com/spf13/cobra"

	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/display"
	"github.com/cassavanet/cassavanet/internal/labels"
)

// Command creates a new cobra.Command to describe the application.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "about",
		Short: "Describe the application and the diseases it detects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := labels.Load(settings.Labels.Path)
			if err != nil {
				return err
			}
			return display.About(cmd.OutOrStdout(), table)
		},
	}

	return cmd
}
