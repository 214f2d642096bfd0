package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/presslocal/presslocal/internal/logging"
	"github.com/presslocal/presslocal/internal/remote"
	"github.com/presslocal/presslocal/internal/sync"
)

var (
	syncFull  bool
	syncTypes []string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull remote content into the local cache",
	Long: `Synchronize the local cache from the remote site.

A full sync fetches every taxonomy term and every record of every
configured content type, and deletes local records that no longer exist
remotely. An incremental sync (the default once a clean sync exists)
fetches only records modified since the last clean run and skips
deletion detection.

Records with unpushed local edits are never overwritten; sync only
refreshes their snapshot of the remote state.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, db := openAll()
		defer db.Close()

		logger := logging.New("[sync] ", cfg.LogPath)
		client := remote.New(cfg.SiteURL, cfg.Username, cfg.AppPassword,
			logging.New("[remote] ", cfg.LogPath))

		full := syncFull
		if last, err := db.LastSync(context.Background()); err == nil && last.IsZero() {
			// First run has nothing to be incremental against.
			full = true
		}

		progress := func(phase string, p float64, detail string) {
			if detail != "" {
				fmt.Printf("\r[%3.0f%%] %-12s %s        ", p*100, phase, detail)
			} else {
				fmt.Printf("\r[%3.0f%%] %-12s        ", p*100, phase)
			}
		}

		engine := sync.New(db, client, cfg, logger, progress)

		start := time.Now()
		res, err := engine.Run(context.Background(), sync.Options{
			Full:  full,
			Types: syncTypes,
		})
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Terms: %d\n", res.TermsSynced)
		for name, n := range res.ResourcesUpdated {
			fmt.Printf("   %s: %d updated", name, n)
			if d := res.ResourcesDeleted[name]; d > 0 {
				fmt.Printf(", %d deleted", d)
			}
			fmt.Println()
		}
		if len(res.Errors) > 0 {
			fmt.Fprintf(os.Stderr, "Completed with %d errors:\n", len(res.Errors))
			for _, e := range res.Errors {
				fmt.Fprintf(os.Stderr, "   %s\n", e)
			}
			os.Exit(1)
		}
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false,
		"force a full sync with deletion detection")
	syncCmd.Flags().StringSliceVar(&syncTypes, "type", nil,
		"restrict to the named content types")
}
