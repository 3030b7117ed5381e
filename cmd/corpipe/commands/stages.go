package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/corpipe/display"
	"github.com/teranos/corpipe/stages"
	"github.com/teranos/corpipe/sym"
)

// StagesCmd lists the registered stages
var StagesCmd = &cobra.Command{
	Use:   "stages",
	Short: sym.Stage + " List available stages",
	RunE: func(cmd *cobra.Command, args []string) error {
		specs := stages.NewRegistry().Specs()
		if display.ShouldOutputJSON(cmd) {
			return display.WriteJSON(cmd.OutOrStdout(), specs)
		}
		table, err := display.StagesTable(specs)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), table)
		return nil
	},
}
