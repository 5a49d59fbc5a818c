// Package ingest ties the pipeline together: periodic scans feed the file
// index, touched groups are re-classified and promoted, stale claims are
// reaped, and a worker pool drains the ready queue. One daemon per input
// directory; multiple hosts may run daemons against a shared MySQL queue.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/dsa110/contimg-ingest/internal/alerting"
	"github.com/dsa110/contimg-ingest/internal/assembler"
	"github.com/dsa110/contimg-ingest/internal/config"
	"github.com/dsa110/contimg-ingest/internal/dashboard"
	"github.com/dsa110/contimg-ingest/internal/indexer"
	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/dsa110/contimg-ingest/internal/queue"
	"github.com/dsa110/contimg-ingest/internal/worker"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// cronParser accepts standard 5-field cron expressions (minute, hour, dom,
// month, dow) for the full-rescan schedule.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Daemon is the long-running ingest process.
type Daemon struct {
	DB  *gorm.DB
	Cfg *config.Config
	Out io.Writer
}

// Run starts all pipeline loops and blocks until ctx is cancelled. On
// startup it performs one full scan so that state from downtime (files that
// arrived or vanished while the daemon was off) is reconciled before any
// worker claims a group.
func (d *Daemon) Run(ctx context.Context) error {
	if d.DB == nil {
		return fmt.Errorf("ingest: db is required")
	}
	if d.Cfg == nil {
		return fmt.Errorf("ingest: config is required")
	}
	out := d.Out
	if out == nil {
		out = io.Discard
	}
	cfg := d.Cfg

	var wg sync.WaitGroup

	// Worker pool.
	pool := &worker.Pool{
		DB: d.DB,
		Executor: &worker.CommandExecutor{
			Command: cfg.Executor.Command,
			OutDir:  cfg.Executor.OutDir,
		},
		Count:             cfg.Workers.Count,
		PollInterval:      cfg.PollInterval(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ExecTimeout:       cfg.ExecutorTimeout(),
		MaxRetries:        cfg.Queue.MaxRetries,
		ScratchDir:        cfg.Executor.OutDir,
		MinFreeBytes:      cfg.MinFreeBytes(),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	fmt.Fprintf(out, "Worker pool started (%d workers)\n", cfg.Workers.Count)

	// Alerting, when any channel is configured.
	if notifier := alerting.FromConfig(cfg.Alerting); notifier != nil {
		dispatcher := &alerting.Dispatcher{DB: d.DB, Notifier: notifier}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dispatcher.Run(ctx); err != nil {
				log.Printf("ingest: alerting: %v", err)
			}
		}()
		fmt.Fprintf(out, "Alerting dispatcher started\n")
	}

	// Dashboard.
	if cfg.Dashboard.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := dashboard.Start(ctx, dashboard.StartOpts{
				DB:   d.DB,
				Addr: cfg.Dashboard.Addr,
				Out:  out,
			})
			if err != nil {
				log.Printf("ingest: dashboard: %v", err)
			}
		}()
	}

	// Optional scheduled full rescans, on top of the incremental ticker.
	if expr := cfg.Ingest.FullRescanCron; expr != "" {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return fmt.Errorf("ingest: full_rescan_cron %q: %w", expr, err)
		}
		c := cron.New(cron.WithParser(cronParser))
		c.Schedule(sched, cron.FuncJob(func() {
			if err := d.ScanOnce(true); err != nil {
				log.Printf("ingest: full rescan: %v", err)
			}
		}))
		c.Start()
		defer c.Stop()
		fmt.Fprintf(out, "Full rescan scheduled (%s)\n", expr)
	}

	// Bootstrap: full scan, then promote the whole non-terminal backlog so
	// groups stranded by a previous shutdown move again.
	if err := d.ScanOnce(true); err != nil {
		log.Printf("ingest: bootstrap scan: %v", err)
	}
	if err := d.promoteBacklog(); err != nil {
		log.Printf("ingest: bootstrap promote: %v", err)
	}
	d.reapOnce()

	fmt.Fprintf(out, "Ingest daemon running (scan every %s, reap every %s)\n",
		cfg.ScanInterval(), cfg.ReapInterval())

	scanTicker := time.NewTicker(cfg.ScanInterval())
	reapTicker := time.NewTicker(cfg.ReapInterval())
	defer scanTicker.Stop()
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "Shutting down, waiting for workers to drain...\n")
			wg.Wait()
			fmt.Fprintf(out, "Ingest daemon stopped.\n")
			return nil
		case <-scanTicker.C:
			if err := d.ScanOnce(false); err != nil {
				log.Printf("ingest: scan: %v", err)
			}
		case <-reapTicker.C:
			d.reapOnce()
		}
	}
}

// ScanOnce runs a single scan pass and promotes every group the pass
// touched. Full passes also reconcile deletions; incremental passes only
// pick up new and changed files.
func (d *Daemon) ScanOnce(full bool) error {
	cfg := d.Cfg
	res, err := indexer.Scan(d.DB, cfg.InputDir, indexer.Options{
		Full:             full,
		ClusterTolerance: cfg.ClusterTolerance(),
	})
	if err != nil {
		return err
	}
	if res.New > 0 || res.Updated > 0 || res.Removed > 0 || res.Errors > 0 {
		log.Printf("ingest: scan: %d new, %d updated, %d removed, %d errors",
			res.New, res.Updated, res.Removed, res.Errors)
	}

	for _, key := range res.Touched {
		_, err := assembler.Promote(d.DB, key,
			cfg.Ingest.ExpectedSubbands, cfg.FloorCount(), cfg.PlaceholderDir)
		if err != nil {
			log.Printf("ingest: promote %s: %v", key, err)
		}
	}
	return nil
}

// promoteBacklog re-runs promotion for every group with present files whose
// queue item is absent or non-terminal. A rescan reports unchanged files as
// skipped, so a group that was fully indexed but never promoted (the process
// died between the index commit and the promotion loop) is invisible to
// Result.Touched; this sweep is what gets it moving again after a restart.
func (d *Daemon) promoteBacklog() error {
	var keys []string
	err := d.DB.Model(&models.IndexedFile{}).
		Distinct().
		Joins("LEFT JOIN queue_items ON queue_items.group_key = indexed_files.group_key").
		Where("indexed_files.present = ?", true).
		Where("queue_items.group_key IS NULL OR queue_items.state NOT IN ?", models.TerminalStates).
		Pluck("indexed_files.group_key", &keys).Error
	if err != nil {
		return fmt.Errorf("ingest: load backlog groups: %w", err)
	}
	for _, key := range keys {
		_, err := assembler.Promote(d.DB, key,
			d.Cfg.Ingest.ExpectedSubbands, d.Cfg.FloorCount(), d.Cfg.PlaceholderDir)
		if err != nil {
			log.Printf("ingest: promote %s: %v", key, err)
		}
	}
	return nil
}

// reapOnce requeues groups whose worker stopped heartbeating.
func (d *Daemon) reapOnce() {
	reaped, err := queue.ReapStaleClaims(d.DB, d.Cfg.StaleAfter(), d.Cfg.Queue.MaxRetries)
	if err != nil {
		log.Printf("ingest: reap: %v", err)
		return
	}
	for _, key := range reaped {
		log.Printf("ingest: reaped stale claim on %s", key)
	}
}
