package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weftworks/weft/internal/types"
	"github.com/weftworks/weft/internal/ui"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cells",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		filter := types.CellFilter{}
		if cmd.Flags().Changed("status") {
			v, _ := cmd.Flags().GetString("status")
			s := types.Status(v)
			filter.Status = &s
		}
		if cmd.Flags().Changed("type") {
			v, _ := cmd.Flags().GetString("type")
			t := types.CellType(v)
			filter.CellType = &t
		}
		if cmd.Flags().Changed("parent") {
			v, _ := cmd.Flags().GetString("parent")
			filter.ParentID = &v
		}
		if cmd.Flags().Changed("assignee") {
			v, _ := cmd.Flags().GetString("assignee")
			filter.Assignee = &v
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		filter.Offset, _ = cmd.Flags().GetInt("offset")
		filter.IncludeDeleted, _ = cmd.Flags().GetBool("include-deleted")

		cells, err := store.ListCells(cmd.Context(), project, filter)
		if err != nil {
			return err
		}
		for _, c := range cells {
			printCellLine(c)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a cell in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		cell, err := store.GetCell(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n", ui.RenderAccent(cell.ID), cell.Title)
		fmt.Printf("  status: %s  priority: P%d  type: %s\n", renderStatus(cell.Status), cell.Priority, cell.CellType)
		if cell.Assignee != "" {
			fmt.Printf("  assignee: %s\n", cell.Assignee)
		}
		if cell.ParentID != "" {
			fmt.Printf("  parent: %s\n", cell.ParentID)
		}
		if len(cell.Labels) > 0 {
			fmt.Printf("  labels: %s\n", strings.Join(cell.Labels, ", "))
		}
		if cell.Description != "" {
			fmt.Printf("\n%s\n", cell.Description)
		}
		if cell.ClosedAt != nil {
			fmt.Printf("\n  closed %s", cell.ClosedAt.Format("2006-01-02 15:04"))
			if cell.CloseReason != "" {
				fmt.Printf(" (%s)", cell.CloseReason)
			}
			fmt.Println()
		}
		if cell.IsDeleted() {
			fmt.Println(ui.RenderMuted("  [deleted]"))
		}

		if blocked, err := store.IsBlocked(cmd.Context(), cell.ID); err == nil && blocked {
			blockers, _ := store.GetBlockers(cmd.Context(), cell.ID)
			fmt.Printf("\n  %s blocked by: %s\n", ui.RenderWarn(ui.IconWarn), strings.Join(blockers, ", "))
		}

		deps, err := store.GetDependencyRecords(cmd.Context(), cell.ID)
		if err != nil {
			return err
		}
		if len(deps) > 0 {
			fmt.Println("\n  dependencies:")
			for _, d := range deps {
				fmt.Printf("    -> %s (%s)\n", d.DependsOnID, d.Type)
			}
		}

		comments, err := store.GetComments(cmd.Context(), cell.ID)
		if err != nil {
			return err
		}
		if len(comments) > 0 {
			fmt.Println("\n  comments:")
			for _, c := range comments {
				prefix := ""
				if c.ParentID != nil {
					prefix = fmt.Sprintf("(re #%d) ", *c.ParentID)
				}
				fmt.Printf("    #%d %s [%s]: %s%s\n", c.ID,
					c.CreatedAt.Format("2006-01-02 15:04"), c.Author, prefix, c.Text)
			}
		}
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log <id>",
	Short: "Show a cell's event history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		events, err := store.GetCellEvents(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		for _, ev := range events {
			fmt.Printf("%6d  %s  %-20s %s\n", ev.Seq,
				ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Type, ev.Actor)
		}
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild projections from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}
		if err := store.ReplayProject(cmd.Context(), project); err != nil {
			return err
		}
		fmt.Println("projections rebuilt from event log")
		return nil
	},
}

func printCellLine(c *types.Cell) {
	marker := ""
	if c.IsDeleted() {
		marker = ui.RenderMuted(" [deleted]")
	}
	fmt.Printf("%s  P%d %-12s %s%s\n", ui.RenderAccent(c.ID), c.Priority, renderStatus(c.Status), c.Title, marker)
}

func renderStatus(s types.Status) string {
	switch s {
	case types.StatusClosed:
		return ui.RenderMuted(string(s))
	case types.StatusBlocked:
		return ui.RenderWarn(string(s))
	case types.StatusInProgress:
		return ui.RenderAccent(string(s))
	default:
		return ui.RenderPass(string(s))
	}
}

func init() {
	listCmd.Flags().String("status", "", "filter by status")
	listCmd.Flags().String("type", "", "filter by cell type")
	listCmd.Flags().String("parent", "", "filter by parent id")
	listCmd.Flags().String("assignee", "", "filter by assignee")
	listCmd.Flags().Int("limit", 0, "max results")
	listCmd.Flags().Int("offset", 0, "skip results")
	listCmd.Flags().Bool("include-deleted", false, "include soft-deleted cells")
	logCmd.Flags().Int("limit", 50, "max events")
	rootCmd.AddCommand(listCmd, showCmd, logCmd, replayCmd)
}
