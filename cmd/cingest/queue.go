package main

import (
	"fmt"
	"time"

	"github.com/dsa110/contimg-ingest/internal/queue"
	"github.com/dsa110/contimg-ingest/internal/subband"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue management commands",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueCancelCmd())
	cmd.AddCommand(newQueueRetryCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	var (
		configPath string
		state      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(cmd, configPath, state, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cingest.yaml", "path to config file")
	cmd.Flags().StringVar(&state, "state", "", "filter by state (pending, ready, claimed, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	return cmd
}

func runQueueList(cmd *cobra.Command, configPath, state string, limit int) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	items, err := queue.List(gormDB, state, limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "No queue items.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-10s %-7s %-24s %s\n",
		"GROUP", "STATE", "RETRIES", "OWNER", "UPDATED")
	for _, item := range items {
		owner := item.ClaimOwner
		if owner == "" {
			owner = "-"
		}
		fmt.Fprintf(out, "%-20s %-10s %-7d %-24s %s\n",
			item.GroupKey, item.State, item.RetryCount, owner,
			item.LastUpdate.Format(time.RFC3339))
		if item.Error != "" {
			fmt.Fprintf(out, "    error: %s\n", item.Error)
		}
	}
	return nil
}

func newQueueCancelCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cancel GROUP_KEY",
		Short: "Cancel an unclaimed queue item",
		Long: `Cancels a pending or ready item. An item a worker has already claimed
cannot be cancelled; let it finish or fail.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueCancel(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cingest.yaml", "path to config file")
	return cmd
}

func runQueueCancel(cmd *cobra.Command, configPath, rawKey string) error {
	out := cmd.OutOrStdout()

	key, err := subband.NormalizeGroupKey(rawKey)
	if err != nil {
		return err
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	ok, err := queue.Cancel(gormDB, key)
	if err != nil {
		return err
	}
	if !ok {
		item, err := queue.Get(gormDB, key)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("no queue item for group %s", key)
		}
		return fmt.Errorf("group %s is %s; only pending or ready items can be cancelled", key, item.State)
	}
	fmt.Fprintf(out, "Cancelled %s\n", key)
	return nil
}

func newQueueRetryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "retry GROUP_KEY",
		Short: "Requeue a failed item",
		Long:  "Moves a permanently failed item back to pending with a fresh retry budget.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueRetry(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cingest.yaml", "path to config file")
	return cmd
}

func runQueueRetry(cmd *cobra.Command, configPath, rawKey string) error {
	out := cmd.OutOrStdout()

	key, err := subband.NormalizeGroupKey(rawKey)
	if err != nil {
		return err
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	ok, err := queue.Requeue(gormDB, key)
	if err != nil {
		return err
	}
	if !ok {
		item, err := queue.Get(gormDB, key)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("no queue item for group %s", key)
		}
		return fmt.Errorf("group %s is %s; only failed items can be retried", key, item.State)
	}
	fmt.Fprintf(out, "Requeued %s\n", key)
	return nil
}
