package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relaywell/goals/internal/domain"
)

func newStatusCommand(r *Root) *cobra.Command {
	var stateFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "status [goal-id]",
		Short: "Print a goal's current state, or list recent goals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := r.open(cmd.Context())
			if err != nil {
				return err
			}

			if len(args) == 1 {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("parse goal id: %w", err)
				}
				goal, err := engine.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", goal.ID, goal.Handler, goal.State)
				return nil
			}

			var state *domain.State
			if stateFilter != "" {
				s := domain.State(stateFilter)
				state = &s
			}
			goalList, err := engine.Status(cmd.Context(), state, limit)
			if err != nil {
				return err
			}
			for _, g := range goalList {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", g.ID, g.Handler, g.State, g.Updated.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFilter, "state", "", "filter by state (e.g. WAITING_FOR_WORKER)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max goals to list")
	return cmd
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse goal id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
