package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/weftworks/weft/internal/configfile"
	"github.com/weftworks/weft/internal/storage/sqlite"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a weft project in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectKey, _ := cmd.Flags().GetString("project")
		if projectKey == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			projectKey = filepath.Base(wd)
		}

		dir := filepath.Join(".", ".weft")
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}

		existing, err := configfile.Load(dir)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("already initialized (%s exists)", configfile.ConfigPath(dir))
		}

		cfg := configfile.DefaultConfig()
		cfg.ProjectName = projectKey
		if err := cfg.Save(dir); err != nil {
			return err
		}

		s, err := sqlite.New(cmd.Context(), cfg.DatabasePath(dir))
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		if err := s.SetConfig(cmd.Context(), "project_key", projectKey); err != nil {
			return err
		}

		fmt.Printf("Initialized weft project %q in %s\n", projectKey, dir)
		return nil
	},
}

func init() {
	initCmd.Flags().String("project", "", "project key (default: directory name)")
	rootCmd.AddCommand(initCmd)
}
