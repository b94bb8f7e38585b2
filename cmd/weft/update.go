package main

import (
	"github.com/spf13/cobra"

	"github.com/weftworks/weft/internal/types"
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a cell's fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		payload := &types.CellUpdated{}
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			payload.Title = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			payload.Description = &v
		}
		if cmd.Flags().Changed("priority") {
			v, _ := cmd.Flags().GetInt("priority")
			payload.Priority = &v
		}
		if cmd.Flags().Changed("type") {
			v, _ := cmd.Flags().GetString("type")
			t := types.CellType(v)
			payload.CellType = &t
		}

		ev := &types.Event{
			Project: project,
			CellID:  args[0],
			Actor:   actor(),
			Payload: payload,
		}
		if _, err := store.AppendEvent(cmd.Context(), ev); err != nil {
			return err
		}
		markDirtyAndFlush()
		return nil
	},
}

var assignCmd = &cobra.Command{
	Use:   "assign <id> [assignee]",
	Short: "Assign a cell (no assignee unassigns)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		assignee := ""
		if len(args) == 2 {
			assignee = args[1]
		}
		ev := &types.Event{
			Project: project,
			CellID:  args[0],
			Actor:   actor(),
			Payload: &types.Assigned{Assignee: assignee},
		}
		if _, err := store.AppendEvent(cmd.Context(), ev); err != nil {
			return err
		}
		markDirtyAndFlush()
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start work on a cell (in_progress, assigned to you)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		ev := &types.Event{
			Project: project,
			CellID:  args[0],
			Actor:   actor(),
			Payload: &types.WorkStarted{},
		}
		if _, err := store.AppendEvent(cmd.Context(), ev); err != nil {
			return err
		}
		markDirtyAndFlush()
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Change a cell's status (use 'close' to close)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		cell, err := store.GetCell(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		ev := &types.Event{
			Project: project,
			CellID:  args[0],
			Actor:   actor(),
			Payload: &types.StatusChanged{From: cell.Status, To: types.Status(args[1])},
		}
		if _, err := store.AppendEvent(cmd.Context(), ev); err != nil {
			return err
		}
		markDirtyAndFlush()
		return nil
	},
}

func init() {
	updateCmd.Flags().String("title", "", "new title")
	updateCmd.Flags().StringP("description", "d", "", "new description")
	updateCmd.Flags().IntP("priority", "p", 2, "new priority")
	updateCmd.Flags().String("type", "", "new cell type")
	rootCmd.AddCommand(updateCmd, assignCmd, startCmd, statusCmd)
}
