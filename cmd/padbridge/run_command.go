package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"padbridge/internal/instance"
	"padbridge/internal/launcher"
	"padbridge/internal/primary"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the primary, or bring the running one forward",
		Long: `Start the padbridge primary in the foreground.

When a primary is already running, it is signaled to come forward and this
invocation exits immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrimary(cmd, ctx)
		},
	}
}

func runPrimary(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.primaryLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	result, err := launcher.Run(cmd.Context(), cfg, logger, launcher.RunOptions{
		Foreground: func() {
			fmt.Fprintln(out, renderStatusLine("padbridge", statusInfo, "brought to foreground", colorize))
		},
		Ready: func(p *primary.Primary) {
			fmt.Fprintln(out, renderStatusLine("padbridge", statusOK, "serving (endpoint "+p.Endpoint()+")", colorize))
		},
	})
	if err != nil {
		return wrapBridgeError(err)
	}
	if result.Role == instance.RoleSecondary {
		fmt.Fprintln(out, "padbridge is already running; signaled it to come forward")
		return nil
	}
	fmt.Fprintf(out, "padbridge stopped (run %s)\n", result.RunID)
	return nil
}
