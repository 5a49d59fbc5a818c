package main

import (
	"fmt"
	"time"

	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/dsa110/contimg-ingest/internal/queue"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue and worker status",
		Long:  "Displays item counts per queue state and the registered workers. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cingest.yaml", "path to config file")
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh every 5 seconds")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, watch bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	for {
		if watch {
			// Clear screen.
			fmt.Fprint(out, "\033[2J\033[H")
		}
		if err := printStatus(cmd, gormDB); err != nil {
			return err
		}
		if !watch {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
}

func printStatus(cmd *cobra.Command, gormDB *gorm.DB) error {
	out := cmd.OutOrStdout()

	rows, err := queue.Summary(gormDB)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Queue:")
	if len(rows) == 0 {
		fmt.Fprintln(out, "  (empty)")
	}
	for _, r := range rows {
		fmt.Fprintf(out, "  %-10s %d\n", r.State, r.Count)
	}

	var workers []models.Worker
	if err := gormDB.Order("last_activity DESC").Find(&workers).Error; err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	fmt.Fprintln(out, "\nWorkers:")
	if len(workers) == 0 {
		fmt.Fprintln(out, "  (none registered)")
	}
	for _, w := range workers {
		line := fmt.Sprintf("  %-24s %-8s last active %s",
			w.ID, w.Status, w.LastActivity.Format(time.RFC3339))
		if w.CurrentGroup != "" {
			line += " on " + w.CurrentGroup
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
