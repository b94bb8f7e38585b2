// Command weft is the CLI for the weft coordination store.
//
// The CLI stays thin: commands translate flags into events and queries
// against the embedded store. All domain behavior lives in internal/.
package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftworks/weft/internal/configfile"
	"github.com/weftworks/weft/internal/flush"
	"github.com/weftworks/weft/internal/storage"
	"github.com/weftworks/weft/internal/storage/sqlite"
	"github.com/weftworks/weft/internal/telemetry"
	"github.com/weftworks/weft/internal/ui"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	store        *sqlite.Store
	projectCfg   *configfile.Config
	weftDir      string
	project      string
	flushManager *flush.Manager
)

var rootCmd = &cobra.Command{
	Use:           "weft",
	Short:         "Event-sourced task coordination for autonomous agents",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return telemetry.Init(cmd.Context(), "weft", Version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if flushManager != nil {
			if err := flushManager.Shutdown(); err != nil {
				ui.Warnf("final flush failed: %v", err)
			}
			flushManager = nil
		}
		if store != nil {
			_ = store.Close()
			store = nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().String("actor", "", "actor recorded on events (default: $WEFT_AGENT_ID or OS user)")
	rootCmd.PersistentFlags().Bool("no-flush", false, "skip the automatic JSONL export after mutations")

	viper.SetEnvPrefix("WEFT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("no-flush", rootCmd.PersistentFlags().Lookup("no-flush"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ui.Failf("%v", err)
		os.Exit(1)
	}
}

// findWeftDir walks up from the working directory looking for .weft/.
func findWeftDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, ".weft")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .weft directory found (run 'weft init' first): %w", storage.ErrNotInitialized)
		}
		dir = parent
	}
}

// ensureStore opens the project store, resolving the .weft directory and
// its metadata. Commands that mutate also get a flush manager.
func ensureStore(ctx context.Context) error {
	if store != nil {
		return nil
	}

	dir, err := findWeftDir()
	if err != nil {
		return err
	}
	weftDir = dir

	cfg, err := configfile.Load(weftDir)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("missing %s: %w", configfile.ConfigPath(weftDir), storage.ErrNotInitialized)
	}
	projectCfg = cfg

	s, err := sqlite.New(ctx, cfg.DatabasePath(weftDir))
	if err != nil {
		return err
	}
	store = s

	project, err = s.ProjectKey(ctx)
	if err != nil {
		return err
	}

	exporter := flush.NewExporter(store, project, cfg.ExportPath(weftDir))
	flushManager = flush.NewManager(exporter, !viper.GetBool("no-flush"), 500*time.Millisecond)
	return nil
}

// actor resolves the identity recorded on events: flag, then WEFT_AGENT_ID
// via viper's env binding, then the OS user.
func actor() string {
	if a := viper.GetString("actor"); a != "" {
		return a
	}
	if a := os.Getenv("WEFT_AGENT_ID"); a != "" {
		return a
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

// markDirtyAndFlush schedules the post-mutation export.
func markDirtyAndFlush() {
	if flushManager != nil {
		flushManager.MarkDirty()
	}
}
