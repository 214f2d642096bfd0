package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/presslocal/presslocal/internal/logging"
	"github.com/presslocal/presslocal/internal/push"
	"github.com/presslocal/presslocal/internal/remote"
)

var (
	pushAll           bool
	pushID            int64
	pushType          string
	skipConflictCheck bool
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push local edits to the remote site",
	Long: `Push locally edited records back to the remote site.

A single push (--id) refuses to overwrite a record the remote changed
since the last sync, unless --skip-conflict-check is given. Pushing all
dirty records (--all) logs conflicts as warnings but proceeds: records
are pushed one at a time with a small delay between requests.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !pushAll && pushID == 0 {
			fmt.Fprintf(os.Stderr, "Error: either --all or --id is required\n")
			os.Exit(1)
		}

		cfg, db := openAll()
		defer db.Close()

		client := remote.New(cfg.SiteURL, cfg.Username, cfg.AppPassword,
			logging.New("[remote] ", cfg.LogPath))
		engine := push.New(db, client, cfg, logging.New("[push] ", cfg.LogPath))

		ctx := context.Background()

		if pushID != 0 {
			if err := engine.PushResource(ctx, pushID, skipConflictCheck); err != nil {
				if errors.Is(err, push.ErrConflict) {
					fmt.Fprintf(os.Stderr, "Conflict: %v\n", err)
					fmt.Fprintf(os.Stderr, "Re-run with --skip-conflict-check to overwrite.\n")
				} else {
					fmt.Fprintf(os.Stderr, "Error pushing %d: %v\n", pushID, err)
				}
				os.Exit(1)
			}
			fmt.Printf("Pushed resource %d\n", pushID)
			return
		}

		report, err := engine.PushAllDirty(ctx, skipConflictCheck, pushType)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during push: %v\n", err)
			os.Exit(1)
		}

		if len(report.Conflicts) > 0 {
			fmt.Printf("Pushed over %d conflicts:\n", len(report.Conflicts))
			for _, c := range report.Conflicts {
				fmt.Printf("   %s\n", c)
			}
		}

		failed := 0
		for _, r := range report.Results {
			if r.Err != "" {
				failed++
				fmt.Fprintf(os.Stderr, "   FAILED %d (%s): %s\n", r.ID, r.Title, r.Err)
			}
		}
		fmt.Printf("Pushed %d of %d records\n", len(report.Results)-failed, len(report.Results))
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	pushCmd.Flags().BoolVar(&pushAll, "all", false, "push every dirty record")
	pushCmd.Flags().Int64Var(&pushID, "id", 0, "push one record by id")
	pushCmd.Flags().StringVar(&pushType, "type", "", "restrict --all to one content type")
	pushCmd.Flags().BoolVar(&skipConflictCheck, "skip-conflict-check", false,
		"push even if the remote record changed since last sync")
}
