package main

import (
	"github.com/spf13/cobra"

	"github.com/weftworks/weft/internal/types"
)

var closeCmd = &cobra.Command{
	Use:   "close <id>...",
	Short: "Close cells",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		reason, _ := cmd.Flags().GetString("reason")
		for _, id := range args {
			ev := &types.Event{
				Project: project,
				CellID:  id,
				Actor:   actor(),
				Payload: &types.CellClosed{Reason: reason},
			}
			if _, err := store.AppendEvent(cmd.Context(), ev); err != nil {
				return err
			}
		}
		markDirtyAndFlush()
		return nil
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <id>...",
	Short: "Reopen closed cells",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		for _, id := range args {
			ev := &types.Event{
				Project: project,
				CellID:  id,
				Actor:   actor(),
				Payload: &types.CellReopened{},
			}
			if _, err := store.AppendEvent(cmd.Context(), ev); err != nil {
				return err
			}
		}
		markDirtyAndFlush()
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Soft-delete cells (tombstones remain)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		reason, _ := cmd.Flags().GetString("reason")
		for _, id := range args {
			ev := &types.Event{
				Project: project,
				CellID:  id,
				Actor:   actor(),
				Payload: &types.CellDeleted{Reason: reason},
			}
			if _, err := store.AppendEvent(cmd.Context(), ev); err != nil {
				return err
			}
		}
		markDirtyAndFlush()
		return nil
	},
}

func init() {
	closeCmd.Flags().String("reason", "", "close reason")
	deleteCmd.Flags().String("reason", "", "delete reason")
	rootCmd.AddCommand(closeCmd, reopenCmd, deleteCmd)
}
