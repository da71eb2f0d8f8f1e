package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaywell/goals/internal/fsck"
)

func newFsckCommand(r *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "fsck",
		Short: "Scan every goal, correcting any whose persisted state has drifted",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			report, err := fsck.CheckFixAll(cmd.Context(), engine.Store, r.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, fixed %d\n", report.Scanned, report.Fixed)
			return nil
		},
	}
}
