package main

import (
	"fmt"

	"github.com/dsa110/contimg-ingest/internal/assembler"
	"github.com/dsa110/contimg-ingest/internal/indexer"
	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	var (
		configPath string
		root       string
		full       bool
		maxFiles   int
		promote    bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Run one scan pass over the input directory",
		Long: `Walks the input directory for sub-band files and reconciles them against
the file index. A full scan (--full) also marks files that have vanished from
disk as absent; partial scans never infer deletion. With --promote, groups
touched by the scan are re-classified and eligible ones queued.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, configPath, root, full, maxFiles, promote)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cingest.yaml", "path to config file")
	cmd.Flags().StringVar(&root, "root", "", "scan root (default: input_dir from config)")
	cmd.Flags().BoolVar(&full, "full", false, "exhaustive scan, reconcile deletions")
	cmd.Flags().IntVar(&maxFiles, "max-files", 0, "cap on files visited (0 = unlimited)")
	cmd.Flags().BoolVar(&promote, "promote", true, "re-classify and queue touched groups")
	return cmd
}

func runIndex(cmd *cobra.Command, configPath, root string, full bool, maxFiles int, promote bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if root == "" {
		root = cfg.InputDir
	}

	res, err := indexer.Scan(gormDB, root, indexer.Options{
		Full:             full,
		MaxFiles:         maxFiles,
		ClusterTolerance: cfg.ClusterTolerance(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Scanned %d files: %d new, %d updated, %d skipped, %d removed, %d errors\n",
		res.Scanned, res.New, res.Updated, res.Skipped, res.Removed, res.Errors)

	if !promote || len(res.Touched) == 0 {
		return nil
	}

	for _, key := range res.Touched {
		item, err := assembler.Promote(gormDB, key,
			cfg.Ingest.ExpectedSubbands, cfg.FloorCount(), cfg.PlaceholderDir)
		if err != nil {
			fmt.Fprintf(out, "  %s: promote error: %v\n", key, err)
			continue
		}
		if item == nil {
			fmt.Fprintf(out, "  %s: incomplete, not queued\n", key)
			continue
		}
		fmt.Fprintf(out, "  %s: %s\n", key, item.State)
	}
	return nil
}
