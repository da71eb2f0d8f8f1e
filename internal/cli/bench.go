package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relaywell/goals"
)

// newBenchCommand reimplements original_source's set_goal.py: build a
// butterfly network of noop goals across n+1 stages of 2^n nodes each,
// wired so stage k's node depends on stage k-1's same node and its
// XOR-partner, then wait on a single sink goal and report throughput.
func newBenchCommand(r *Root) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "bench butterfly",
		Short: "Build and drain a butterfly network of noop goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			if n < 0 || n > 16 {
				return fmt.Errorf("n must be between 0 and 16, got %d", n)
			}
			engine, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			numNodes := 1 << n
			totalGoals := numNodes*(n+1) + 2
			fmt.Fprintf(cmd.OutOrStdout(), "building butterfly network: n=%d, %d total goals\n", n, totalGoals)

			start := time.Now()
			startID, err := scheduleNoop(ctx, engine, nil)
			if err != nil {
				return err
			}

			stages := make([][]uuid.UUID, n+1)
			for stageNum := 0; stageNum <= n; stageNum++ {
				current := make([]uuid.UUID, numNodes)
				for node := 0; node < numNodes; node++ {
					var preconditions []uuid.UUID
					if stageNum == 0 {
						preconditions = []uuid.UUID{startID}
					} else {
						preconditions = []uuid.UUID{stages[stageNum-1][node]}
						partner := node ^ (1 << (stageNum - 1))
						if partner != node {
							preconditions = append(preconditions, stages[stageNum-1][partner])
						}
					}
					id, err := scheduleNoop(ctx, engine, preconditions)
					if err != nil {
						return err
					}
					current[node] = id
				}
				stages[stageNum] = current
			}

			sinkID, err := scheduleNoop(ctx, engine, stages[n])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "network built")

			if _, err := engine.WaitForGoal(ctx, sinkID); err != nil {
				return err
			}
			elapsed := time.Since(start)

			fmt.Fprintf(cmd.OutOrStdout(), "butterfly network completed in %.3fs (%d goals, %.2fms/goal, %.0f goals/sec)\n",
				elapsed.Seconds(), totalGoals,
				elapsed.Seconds()/float64(totalGoals)*1000,
				float64(totalGoals)/elapsed.Seconds())
			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "n", "n", 0, "network depth: 2^n nodes per stage")
	return cmd
}

func scheduleNoop(ctx context.Context, engine *goals.Engine, preconditions []uuid.UUID) (uuid.UUID, error) {
	return engine.Schedule(ctx, goals.ScheduleOptions{
		Handler:           "noop",
		PreconditionGoals: preconditions,
	})
}
