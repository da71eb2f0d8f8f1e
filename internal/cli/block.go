package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newBlockCommand(r *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "block <goal-id>",
		Short: "Administratively block a waiting goal",
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
			return engine.Block(cmd.Context(), id)
		},
	}
}
