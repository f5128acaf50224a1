package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"padbridge/internal/ipc"
	"padbridge/internal/launcher"
	"padbridge/internal/locator"
)

func newCommandCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "command <text>",
		Short: "Send a command to the running primary",
		Long: `Send one command to the running primary and exit.

Examples:
  padbridge command start
  padbridge command LoadProfile.2.Racing
  padbridge command query.1.profilename`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			delivery, err := client.Deliver(cmd.Context(), text)
			if delivery.Command.Kind == ipc.KindQuery {
				return printAnswer(cmd, delivery, err)
			}
			if err != nil {
				return wrapBridgeError(err)
			}
			if !delivery.Processed {
				fmt.Fprintln(cmd.ErrOrStderr(), "primary ignored the command")
			}
			return nil
		},
	}
}

func newQueryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "query <resource>",
		Short: "Ask the running primary for a value",
		Long: `Ask the running primary for a value and print it.

Resources:
  status                 primary state summary
  endpoint               published endpoint token
  <slot>                 active profile of a slot
  <slot>.<property>      profilename, activeprofile, tempprofile or connected

An empty line is printed when the primary does not answer in time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			delivery, err := client.Query(cmd.Context(), strings.TrimSpace(args[0]))
			return printAnswer(cmd, delivery, err)
		},
	}
}

// printAnswer writes a query answer. Timeouts and contention print an empty
// line; only a missing primary or an invalid query fails the command.
func printAnswer(cmd *cobra.Command, delivery launcher.Delivery, err error) error {
	if err != nil {
		if errors.Is(err, locator.ErrNoPrimary) || errors.Is(err, ipc.ErrMalformed) {
			return wrapBridgeError(err)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.ErrOrStderr(), wrapBridgeError(err))
		return nil
	}
	if delivery.Abandoned {
		fmt.Fprintln(cmd.ErrOrStderr(), "recovered a result exchange abandoned by a crashed client")
	}
	fmt.Fprintln(cmd.OutOrStdout(), delivery.Answer)
	return nil
}
