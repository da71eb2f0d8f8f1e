package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaywell/goals"
	"github.com/relaywell/goals/internal/domain"
)

func newScheduleCommand(r *Root) *cobra.Command {
	var handler string
	var argsJSON string
	var preconditionIDs []string
	var mode string
	var blocked bool
	var allowFailures bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a new goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := r.open(cmd.Context())
			if err != nil {
				return err
			}

			var argsVal any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &argsVal); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			preconditions, err := parseUUIDs(preconditionIDs)
			if err != nil {
				return err
			}

			preconditionsMode := domain.ModeAll
			if mode == "any" {
				preconditionsMode = domain.ModeAny
			}

			id, err := engine.Schedule(cmd.Context(), goals.ScheduleOptions{
				Handler:                     handler,
				Args:                        argsVal,
				PreconditionGoals:           preconditions,
				PreconditionsMode:           preconditionsMode,
				Blocked:                     blocked,
				PreconditionFailuresAllowed: &allowFailures,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&handler, "handler", "", "registered handler name (required)")
	cmd.Flags().StringVar(&argsJSON, "args", "", "JSON-encoded args passed to the handler")
	cmd.Flags().StringArrayVar(&preconditionIDs, "precondition", nil, "goal id this goal depends on (repeatable)")
	cmd.Flags().StringVar(&mode, "mode", "all", `preconditions mode: "all" or "any"`)
	cmd.Flags().BoolVar(&blocked, "blocked", false, "schedule directly into BLOCKED")
	cmd.Flags().BoolVar(&allowFailures, "allow-precondition-failures", true, "ignore a failed prerequisite instead of propagating NOT_GOING_TO_HAPPEN_SOON")
	_ = cmd.MarkFlagRequired("handler")

	return cmd
}
