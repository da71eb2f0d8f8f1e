// Package cli implements goalsctl, the operator-facing command line for the
// goal engine, grounded on the ChuLiYu-raft-recovery/internal/cli and
// roach88-nysm/brutalist/internal/cli cobra command trees.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaywell/goals"
	"github.com/relaywell/goals/internal/config"
)

// Root holds shared state every subcommand needs: a lazily-opened Engine
// and a logger.
type Root struct {
	engine *goals.Engine
	logger *slog.Logger
}

// NewRootCommand builds the goalsctl command tree.
func NewRootCommand() *cobra.Command {
	r := &Root{logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}

	cmd := &cobra.Command{
		Use:   "goalsctl",
		Short: "Operate a running goal engine",
	}

	cmd.AddCommand(
		newScheduleCommand(r),
		newStatusCommand(r),
		newBlockCommand(r),
		newRetryCommand(r),
		newWatchCommand(r),
		newFsckCommand(r),
		newBenchCommand(r),
	)

	return cmd
}

func (r *Root) open(ctx context.Context) (*goals.Engine, error) {
	if r.engine != nil {
		return r.engine, nil
	}
	e, err := goals.Open(ctx, config.Load(), r.logger)
	if err != nil {
		return nil, err
	}
	r.engine = e
	return e, nil
}
