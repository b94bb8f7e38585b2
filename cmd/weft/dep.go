package main

import (
	"github.com/spf13/cobra"

	"github.com/weftworks/weft/internal/types"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage dependencies between cells",
}

var depAddCmd = &cobra.Command{
	Use:   "add <cell> <depends-on>",
	Short: "Add a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		depType, _ := cmd.Flags().GetString("type")
		ev := &types.Event{
			Project: project,
			CellID:  args[0],
			Actor:   actor(),
			Payload: &types.DependencyAdded{
				DependsOnID: args[1],
				DepType:     types.DependencyType(depType),
			},
		}
		if _, err := store.AppendEvent(cmd.Context(), ev); err != nil {
			return err
		}
		markDirtyAndFlush()
		return nil
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove <cell> <depends-on>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		ev := &types.Event{
			Project: project,
			CellID:  args[0],
			Actor:   actor(),
			Payload: &types.DependencyRemoved{DependsOnID: args[1]},
		}
		if _, err := store.AppendEvent(cmd.Context(), ev); err != nil {
			return err
		}
		markDirtyAndFlush()
		return nil
	},
}

var labelCmd = &cobra.Command{
	Use:   "label <id> <label>",
	Short: "Add a label (use --remove to detach)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		remove, _ := cmd.Flags().GetBool("remove")
		var payload types.EventPayload
		if remove {
			payload = &types.LabelRemoved{Label: args[1]}
		} else {
			payload = &types.LabelAdded{Label: args[1]}
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

var commentCmd = &cobra.Command{
	Use:   "comment <id> <text>",
	Short: "Comment on a cell",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		payload := &types.CommentAdded{Author: actor(), Text: args[1]}
		if cmd.Flags().Changed("reply-to") {
			parentID, _ := cmd.Flags().GetInt64("reply-to")
			payload.ParentID = &parentID
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

func init() {
	depAddCmd.Flags().String("type", "blocks", "dependency type (blocks, parent-child, related, discovered-from)")
	labelCmd.Flags().Bool("remove", false, "remove the label instead of adding")
	commentCmd.Flags().Int64("reply-to", 0, "parent comment id")
	depCmd.AddCommand(depAddCmd, depRemoveCmd)
	rootCmd.AddCommand(depCmd, labelCmd, commentCmd)
}
