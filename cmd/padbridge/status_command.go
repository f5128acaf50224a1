package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"padbridge/internal/locator"
	"padbridge/internal/preflight"
	"padbridge/internal/primary"
)

const hotplugCheckName = "Controller hotplug"

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the environment and the running primary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			lines := renderSectionHeader("Environment", colorize)
			if ctx.configPath != "" {
				lines = append(lines, renderStatusLine("Config", statusInfo, ctx.configPath, colorize))
			}
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				lines = append(lines, renderCheck(result, result.Name == hotplugCheckName, colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Primary", colorize)...)
			client, err := ctx.client()
			if err != nil {
				return err
			}
			d, err := client.Query(cmd.Context(), primary.ResourceStatus)
			switch {
			case errors.Is(err, locator.ErrNoPrimary):
				lines = append(lines, renderStatusLine("Primary", statusWarn, "not running", colorize))
			case err != nil:
				lines = append(lines, renderStatusLine("Primary", statusError, wrapBridgeError(err).Error(), colorize))
			default:
				state, detail := describeStatus(d.Answer)
				kind := statusOK
				if state != "Running" {
					kind = statusWarn
				}
				lines = append(lines, renderStatusLine("Primary", kind, strings.TrimSpace(state+" "+detail), colorize))
			}

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

// describeStatus splits a status answer ("running slots=4 ...") into a
// title-cased state and its counters.
func describeStatus(answer string) (string, string) {
	state, rest, _ := strings.Cut(strings.TrimSpace(answer), " ")
	if state == "" {
		return "Unknown", ""
	}
	if rest != "" {
		rest = "(" + rest + ")"
	}
	return cases.Title(language.English).String(state), rest
}
