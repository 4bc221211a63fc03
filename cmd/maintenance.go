package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomdev/loom/internal/logger"
	"github.com/loomdev/loom/internal/paths"
	"github.com/loomdev/loom/internal/store"
)

// pruneCmd removes worktree directories that no longer have a session row.
// Recovery only logs these; pruning is an explicit user action.
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove orphaned worktree directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveDataDir()
		if err != nil {
			return err
		}

		db, err := store.Open(paths.DatabasePath(dir))
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := db.ListAllSessions()
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(sessions))
		for _, sess := range sessions {
			known[sess.ID] = true
		}

		entries, err := os.ReadDir(paths.WorktreesDir(dir))
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No worktrees directory; nothing to prune.")
				return nil
			}
			return err
		}

		pruned := 0
		for _, entry := range entries {
			if !entry.IsDir() || known[entry.Name()] {
				continue
			}
			orphan := paths.WorktreePath(dir, entry.Name())
			if err := os.RemoveAll(orphan); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to remove %s: %v\n", orphan, err)
				continue
			}
			fmt.Printf("Pruned %s\n", orphan)
			pruned++
		}
		if pruned == 0 {
			fmt.Println("No orphaned worktrees found.")
		} else {
			fmt.Printf("Pruned %d worktree(s).\n", pruned)
		}
		return nil
	},
}

var clearLogsCmd = &cobra.Command{
	Use:   "clear-logs",
	Short: "Remove the debug log file",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := logger.ClearLogs()
		if err != nil {
			return err
		}
		if count > 0 {
			fmt.Printf("Removed %d log file(s).\n", count)
		} else {
			fmt.Println("No log files to remove.")
		}
		return nil
	},
}
