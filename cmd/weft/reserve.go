package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftworks/weft/internal/timeparsing"
	"github.com/weftworks/weft/internal/types"
	"github.com/weftworks/weft/internal/ui"
)

var reserveCmd = &cobra.Command{
	Use:   "reserve <path>...",
	Short: "Reserve file paths before editing them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		ttlExpr, _ := cmd.Flags().GetString("ttl")
		ttl, err := timeparsing.ParseTTL(ttlExpr, time.Now())
		if err != nil {
			return err
		}
		shared, _ := cmd.Flags().GetBool("shared")
		reason, _ := cmd.Flags().GetString("reason")

		result, err := store.Reserve(cmd.Context(), project, actor(), args, types.ReserveOptions{
			TTL:       ttl,
			Exclusive: !shared,
			Reason:    reason,
		})
		if err != nil {
			return err
		}

		for _, r := range result.Granted {
			fmt.Printf("%s %s until %s (%s)\n", ui.RenderPass(ui.IconPass), r.Path,
				r.ExpiresAt.Format("15:04:05"), r.ID)
		}
		for _, c := range result.Conflicts {
			fmt.Printf("%s %s\n", ui.RenderWarn(ui.IconWarn), c)
		}
		if len(result.Conflicts) > 0 {
			return fmt.Errorf("%d of %d paths conflicted", len(result.Conflicts), len(args))
		}
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release [path]...",
	Short: "Release your reservations (no paths releases all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		var n int
		var err error
		if len(args) == 0 {
			n, err = store.ReleaseAll(cmd.Context(), project, actor())
		} else {
			n, err = store.Release(cmd.Context(), project, actor(), args)
		}
		if err != nil {
			return err
		}

		fmt.Printf("released %d reservation(s)\n", n)
		return nil
	},
}

var reservationsCmd = &cobra.Command{
	Use:   "reservations",
	Short: "List active reservations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		if purge, _ := cmd.Flags().GetBool("purge"); purge {
			n, err := store.PurgeExpired(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("purged %d dead lease(s)\n", n)
		}

		active, err := store.ActiveReservations(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range active {
			mode := "exclusive"
			if !r.Exclusive {
				mode = "shared"
			}
			fmt.Printf("%-20s %-10s %s (until %s)\n", r.Agent, mode, r.Path,
				r.ExpiresAt.Format("15:04:05"))
		}
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Export dirty cells to the JSONL file now",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}

		flushManager.MarkDirty()
		if err := flushManager.FlushNow(); err != nil {
			return err
		}
		fmt.Printf("exported to %s\n", projectCfg.ExportPath(weftDir))
		return nil
	},
}

func init() {
	reserveCmd.Flags().String("ttl", "30m", "lease duration (30m, 2h, +1d)")
	reserveCmd.Flags().Bool("shared", false, "allow other shared holders")
	reserveCmd.Flags().String("reason", "", "why the paths are needed")
	reservationsCmd.Flags().Bool("purge", false, "delete expired and released lease rows first")
	rootCmd.AddCommand(reserveCmd, releaseCmd, reservationsCmd, flushCmd)
}
