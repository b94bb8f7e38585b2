package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftworks/weft/internal/timeparsing"
	"github.com/weftworks/weft/internal/ui"
)

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Show the next cell ready to work on",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		cell, err := store.NextReady(cmd.Context(), project)
		if err != nil {
			return err
		}
		if cell == nil {
			fmt.Println(ui.RenderMuted("nothing ready"))
			return nil
		}
		printCellLine(cell)
		return nil
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List blocked cells and their blockers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		blocked, err := store.GetBlockedCells(cmd.Context(), project)
		if err != nil {
			return err
		}
		for _, bc := range blocked {
			fmt.Printf("%s  P%d %s\n", ui.RenderAccent(bc.ID), bc.Priority, bc.Title)
			fmt.Printf("    blocked by: %s\n", strings.Join(bc.BlockedBy, ", "))
		}
		return nil
	},
}

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List cells untouched since a given time",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		sinceExpr, _ := cmd.Flags().GetString("since")
		since, err := timeparsing.Parse(sinceExpr, time.Now())
		if err != nil {
			return err
		}

		cells, err := store.GetStaleCells(cmd.Context(), project, since)
		if err != nil {
			return err
		}
		for _, c := range cells {
			fmt.Printf("%s  %s  last touched %s\n", ui.RenderAccent(c.ID), c.Title,
				ui.RenderMuted(c.UpdatedAt.Format("2006-01-02 15:04")))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show project statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		stats, err := store.GetStatistics(cmd.Context(), project)
		if err != nil {
			return err
		}
		fmt.Printf("total:       %d\n", stats.TotalCells)
		fmt.Printf("open:        %d\n", stats.OpenCells)
		fmt.Printf("in progress: %d\n", stats.InProgressCells)
		fmt.Printf("closed:      %d\n", stats.ClosedCells)
		fmt.Printf("blocked:     %d\n", stats.BlockedCells)
		fmt.Printf("ready:       %d\n", stats.ReadyCells)
		if stats.DeletedCells > 0 {
			fmt.Printf("deleted:     %d\n", stats.DeletedCells)
		}
		return nil
	},
}

func init() {
	staleCmd.Flags().String("since", "-1w", "staleness horizon (-2d, '2 weeks ago', 2026-01-15)")
	rootCmd.AddCommand(readyCmd, blockedCmd, staleCmd, statsCmd)
}
