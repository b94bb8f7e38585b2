package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/weftworks/weft/internal/types"
)

// newCellID mints a project-prefixed cell id. Random suffixes avoid the
// coordination a per-project counter would need across processes.
func newCellID(project string) string {
	return fmt.Sprintf("%s-%s", project, strings.Split(uuid.NewString(), "-")[0])
}

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a cell",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		cellType, _ := cmd.Flags().GetString("type")
		priority, _ := cmd.Flags().GetInt("priority")
		description, _ := cmd.Flags().GetString("description")
		parent, _ := cmd.Flags().GetString("parent")
		assignee, _ := cmd.Flags().GetString("assign")
		labels, _ := cmd.Flags().GetStringSlice("label")

		cell := types.Cell{
			ID:          newCellID(project),
			Project:     project,
			Title:       args[0],
			Description: description,
			Status:      types.StatusOpen,
			Priority:    priority,
			CellType:    types.CellType(cellType),
			ParentID:    parent,
			Assignee:    assignee,
		}

		ev := &types.Event{
			Project: project,
			CellID:  cell.ID,
			Actor:   actor(),
			Payload: &types.CellCreated{Cell: cell},
		}
		if _, err := store.AppendEvent(cmd.Context(), ev); err != nil {
			return err
		}

		for _, label := range labels {
			labelEv := &types.Event{
				Project: project,
				CellID:  cell.ID,
				Actor:   actor(),
				Payload: &types.LabelAdded{Label: label},
			}
			if _, err := store.AppendEvent(cmd.Context(), labelEv); err != nil {
				return err
			}
		}

		markDirtyAndFlush()
		fmt.Println(cell.ID)
		return nil
	},
}

func init() {
	createCmd.Flags().String("type", "task", "cell type (epic, task, bug, chore, feature)")
	createCmd.Flags().IntP("priority", "p", 2, "priority 0 (critical) to 3 (low)")
	createCmd.Flags().StringP("description", "d", "", "description")
	createCmd.Flags().String("parent", "", "parent cell id")
	createCmd.Flags().String("assign", "", "assignee")
	createCmd.Flags().StringSliceP("label", "l", nil, "labels (repeatable)")
	rootCmd.AddCommand(createCmd)
}
