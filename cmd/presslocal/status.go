package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/presslocal/presslocal/internal/logging"
	"github.com/presslocal/presslocal/internal/push"
	"github.com/presslocal/presslocal/internal/remote"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local cache status",
	Long: `Display the state of the local cache.

Shows the cache file location, record and term counts per content type,
how many records carry unpushed edits, and the last clean sync time.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, db := openAll()
		defer db.Close()

		ctx := context.Background()

		fmt.Printf("Cache: %s\n", db.Path())

		last, err := db.LastSync(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading last sync: %v\n", err)
			os.Exit(1)
		}
		if last.IsZero() {
			fmt.Println("Last clean sync: never")
		} else {
			fmt.Printf("Last clean sync: %s\n", last.Local())
		}

		terms, _ := db.CountTerms(ctx)
		fmt.Printf("Terms: %d\n", terms)

		for _, ct := range cfg.ContentTypes {
			total, err := db.CountResources(ctx, ct.Name)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error counting %s: %v\n", ct.Name, err)
				os.Exit(1)
			}
			dirty, err := db.ListDirty(ctx, ct.Name)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error listing dirty %s: %v\n", ct.Name, err)
				os.Exit(1)
			}
			fmt.Printf("%s: %d cached, %d with unpushed edits\n", ct.Name, total, len(dirty))
		}
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List records the remote changed since last sync",
	Long: `Check every dirty record against the remote site and list the ones
whose remote copy changed since the last sync. These would be refused by
a single push without --skip-conflict-check.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, db := openAll()
		defer db.Close()

		client := remote.New(cfg.SiteURL, cfg.Username, cfg.AppPassword,
			logging.New("[remote] ", cfg.LogPath))
		engine := push.New(db, client, cfg, logging.New("[push] ", cfg.LogPath))

		ctx := context.Background()

		dirty, err := db.ListDirty(ctx, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing dirty records: %v\n", err)
			os.Exit(1)
		}
		if len(dirty) == 0 {
			fmt.Println("No unpushed edits.")
			return
		}

		ids := make([]int64, len(dirty))
		for i, r := range dirty {
			ids[i] = r.ID
		}

		conflicts, err := engine.CheckForConflicts(ctx, ids)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking conflicts: %v\n", err)
			os.Exit(1)
		}
		if len(conflicts) == 0 {
			fmt.Printf("No conflicts across %d dirty records.\n", len(dirty))
			return
		}
		for _, c := range conflicts {
			fmt.Println(c)
		}
		os.Exit(1)
	},
}
