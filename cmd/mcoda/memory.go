package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mcoda/internal/config"
	"mcoda/internal/memory"
)

var memoryLimit int

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect the writeback memory store",
}

var memoryRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the latest run writebacks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := filepath.Abs(workspace)
		if err != nil {
			return err
		}
		cfg, err := config.Load(config.Path(ws))
		if err != nil {
			return err
		}
		store, err := memory.Open(filepath.Join(ws, cfg.Memory.DatabasePath))
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		defer store.Close()

		records, err := store.Recent(context.Background(), memoryLimit)
		if err != nil {
			return err
		}
		if jsonEvents {
			return json.NewEncoder(os.Stdout).Encode(records)
		}
		if len(records) == 0 {
			fmt.Println("No writebacks recorded.")
			return nil
		}
		for _, rec := range records {
			when := time.UnixMilli(rec.CreatedAtMS).Format(time.RFC3339)
			fmt.Printf("%s  %s/%s  failures=%d/%d\n", when, rec.JobID, rec.TaskID, rec.Failures, rec.MaxRetries)
			if rec.Lesson != "" {
				fmt.Printf("  lesson: %s\n", rec.Lesson)
			}
			for _, pref := range rec.Preferences {
				fmt.Printf("  pref: %s\n", pref)
			}
		}
		return nil
	},
}

func init() {
	memoryRecentCmd.Flags().IntVarP(&memoryLimit, "limit", "n", 10, "number of records to show")
	memoryRecentCmd.Flags().BoolVar(&jsonEvents, "json", false, "emit records as JSON")
	memoryCmd.AddCommand(memoryRecentCmd)
	rootCmd.AddCommand(memoryCmd)
}
