package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"padbridge/internal/launcher"
	"padbridge/internal/primary"
)

func newSlotsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "slots",
		Short: "Show controller slot assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, cfg.Slots.Count)
			for index := 1; index <= cfg.Slots.Count; index++ {
				row, err := slotRow(cmd.Context(), client, index)
				if err != nil {
					return wrapBridgeError(err)
				}
				rows = append(rows, row)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Slot", "Profile", "Temporary", "Connected"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignCenter},
			))
			return nil
		},
	}
}

func slotRow(ctx context.Context, client *launcher.Client, index int) ([]string, error) {
	props := []string{primary.PropProfileName, primary.PropTempProfile, primary.PropConnected}
	row := []string{strconv.Itoa(index)}
	for _, prop := range props {
		d, err := client.Query(ctx, fmt.Sprintf("%d.%s", index, prop))
		if err != nil {
			return nil, err
		}
		value := d.Answer
		if value == "-" {
			value = ""
		}
		if prop == primary.PropConnected {
			connected, _ := strconv.ParseBool(value)
			value = yesNo(connected)
		}
		row = append(row, value)
	}
	return row, nil
}
