package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newWatchCommand(r *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <goal-id>",
		Short: "Block until the goal's next progress notification, then print its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse goal id: %w", err)
			}
			engine, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			state, err := engine.WaitForGoal(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		},
	}
}
