package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRetryCommand(r *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <goal-id>",
		Short: "Unblock a BLOCKED goal or retry a failed one",
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
			return engine.Retry(cmd.Context(), id)
		},
	}
}
