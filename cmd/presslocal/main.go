// Command presslocal synchronizes a remote CMS site into a local SQLite
// cache for offline editing, and pushes local edits back.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/presslocal/presslocal/internal/config"
	"github.com/presslocal/presslocal/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "presslocal",
	Short: "Local cache sync for a remote CMS site",
	Long: `presslocal keeps a local SQLite cache of a remote site's content.

Content is pulled with 'presslocal sync' (full or incremental), edited
locally by other tooling, and pushed back with 'presslocal push'. Local
edits are never overwritten by sync; genuine conflicts are detected by
comparing remote modification timestamps.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"profile file (default: ./presslocal.yaml, ~/.presslocal/presslocal.yaml)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(conflictsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openAll loads the profile and opens the store. Exits the process on
// failure; a migration error here is fatal.
func openAll() (*config.Config, *store.DB) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading profile: %v\n", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return cfg, db
}
