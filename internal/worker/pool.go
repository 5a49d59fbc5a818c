package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dsa110/contimg-ingest/internal/queue"
	"gorm.io/gorm"
)

// Pool runs N independent workers against the shared queue. Workers
// coordinate only through the queue's atomic operations; there is no shared
// in-memory state between them.
type Pool struct {
	DB                *gorm.DB
	Executor          Executor
	Count             int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	ExecTimeout       time.Duration
	MaxRetries        int

	// ScratchDir and MinFreeBytes guard against filling the conversion
	// output filesystem: while free space under ScratchDir is below the
	// floor, workers stop claiming instead of burning retry budget on
	// executions bound to fail. Either field zero disables the guard.
	ScratchDir   string
	MinFreeBytes uint64
}

// diskBackoff is how long a worker pauses when free space is below the
// floor. Longer than the poll interval, since disk pressure clears on
// operator timescales.
const diskBackoff = time.Minute

// Run starts the pool and blocks until ctx is cancelled and every worker has
// drained. A worker holding a claim at shutdown aborts the execution cleanly
// and reports the failure so the item requeues promptly instead of waiting
// out its lease.
func (p *Pool) Run(ctx context.Context) {
	count := p.Count
	if count < 1 {
		count = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx)
		}()
	}
	wg.Wait()
}

// runWorker is one worker's poll loop: claim, execute, report, back off when
// the queue is empty.
func (p *Pool) runWorker(ctx context.Context) {
	id := NewID()
	if _, err := Register(p.DB, id); err != nil {
		log.Printf("worker %s: register: %v", id, err)
		return
	}
	defer func() {
		if err := Deregister(p.DB, id); err != nil {
			log.Printf("worker %s: deregister: %v", id, err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.diskLow(id) {
			if !sleepCtx(ctx, diskBackoff) {
				return
			}
			continue
		}

		item, err := queue.Claim(p.DB, id)
		if err != nil {
			log.Printf("worker %s: claim: %v", id, err)
			if !sleepCtx(ctx, p.PollInterval) {
				return
			}
			continue
		}
		if item == nil {
			if !sleepCtx(ctx, p.PollInterval) {
				return
			}
			continue
		}

		p.process(ctx, id, item.GroupKey)
	}
}

// process runs the executor for one claimed group and reports the outcome.
func (p *Pool) process(ctx context.Context, id, groupKey string) {
	if err := setStatus(p.DB, id, StatusWorking, groupKey); err != nil {
		log.Printf("worker %s: %v", id, err)
	}
	defer func() {
		if err := setStatus(p.DB, id, StatusIdle, ""); err != nil {
			log.Printf("worker %s: %v", id, err)
		}
	}()

	var execCtx context.Context
	var cancel context.CancelFunc
	if p.ExecTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, p.ExecTimeout)
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Heartbeat for as long as the execution runs. Losing ownership (lease
	// reaped while we were stalled) aborts the execution: its result would
	// be rejected anyway.
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		p.heartbeatLoop(execCtx, cancel, id, groupKey)
	}()

	paths, err := SlotPaths(p.DB, groupKey)
	var output string
	if err == nil {
		output, err = p.Executor.Execute(execCtx, groupKey, paths)
	}

	cancel()
	<-hbDone

	if err != nil {
		ok, ferr := queue.Fail(p.DB, groupKey, id, err.Error(), p.MaxRetries)
		if ferr != nil {
			log.Printf("worker %s: fail %s: %v", id, groupKey, ferr)
		} else if !ok {
			log.Printf("worker %s: fail %s: claim no longer owned", id, groupKey)
		}
		return
	}

	ok, cerr := queue.Complete(p.DB, groupKey, id, output)
	if cerr != nil {
		log.Printf("worker %s: complete %s: %v", id, groupKey, cerr)
	} else if !ok {
		log.Printf("worker %s: complete %s: claim no longer owned, output at %s discarded", id, groupKey, output)
	}
}

// heartbeatLoop renews the claim lease on an interval until ctx is done. A
// rejected heartbeat means the claim was reclaimed; abort cancels the
// execution.
func (p *Pool) heartbeatLoop(ctx context.Context, abort context.CancelFunc, id, groupKey string) {
	interval := p.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := queue.Heartbeat(p.DB, groupKey, id)
			if err != nil {
				log.Printf("worker %s: heartbeat %s: %v", id, groupKey, err)
				continue
			}
			if !ok {
				log.Printf("worker %s: lost claim on %s, aborting execution", id, groupKey)
				abort()
				return
			}
		}
	}
}

// diskLow reports whether the scratch filesystem is below the free-space
// floor. A statfs failure is logged and treated as not-low: a broken monitor
// must not stall the pool.
func (p *Pool) diskLow(id string) bool {
	if p.ScratchDir == "" || p.MinFreeBytes == 0 {
		return false
	}
	free, err := FreeBytes(p.ScratchDir)
	if err != nil {
		log.Printf("worker %s: disk check: %v", id, err)
		return false
	}
	if free < p.MinFreeBytes {
		log.Printf("worker %s: %.1f GiB free under %s, below floor, pausing",
			id, float64(free)/(1<<30), p.ScratchDir)
		return true
	}
	return false
}

// sleepCtx sleeps for d or until ctx is cancelled; it reports whether the
// caller should keep running.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
