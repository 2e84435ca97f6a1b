// Package dispatcher implements the bounded-concurrency scheduling loop
// of spec.md §4.4: draw candidates from the address generator, admit them
// through the rate limiter, spawn probes up to maxConcurrent, enrich and
// filter successful outcomes into the result sink, and run periodic
// maintenance. Modeled on the teacher's engine.schedule/engine.worker
// tasks/done channel pair.
package dispatcher

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhaiiker/mcscan/internal/addrgen"
	"github.com/zhaiiker/mcscan/internal/control"
	"github.com/zhaiiker/mcscan/internal/enrich"
	"github.com/zhaiiker/mcscan/internal/prober"
	"github.com/zhaiiker/mcscan/internal/ratelimit"
	"github.com/zhaiiker/mcscan/internal/sink"
	"github.com/zhaiiker/mcscan/internal/slp"
	"github.com/zhaiiker/mcscan/internal/stats"
)

// maintenanceInterval is how many completed scans pass between automatic
// maintenance cycles.
const maintenanceInterval = 50_000

// retryBackoffUnit is the per-attempt backoff multiplier of spec.md §4.2:
// attempt N waits 500*(N+1) ms before retrying.
const retryBackoffUnit = 500 * time.Millisecond

// Config configures a Dispatcher's scheduling behavior.
type Config struct {
	Port          uint16
	BatchSize     int
	MaxConcurrent int
	MaxScans      *int64 // nil = infinite
	MaxRetries    int
	VersionFilter []string
	MinPlayers    int
	MaxPlayers    int
}

// Dispatcher owns the main scan loop: it never shares mutable state with
// its workers except through the channels and the thread-safe
// collaborators (generator, limiter, sink, stats, control).
type Dispatcher struct {
	cfg Config

	generator *addrgen.Generator
	limiter   *ratelimit.Limiter
	prober    *prober.Prober
	sink      *sink.Sink
	stats     *stats.Aggregator
	control   *control.Surface
	enrichOpt enrich.Options

	tasks chan addrgen.Address
	done  chan probeDone

	mu       sync.Mutex
	attempts map[uint32]int

	// closeMu guards against sending a retry on d.tasks after Run has
	// closed it: a bare select-with-default does not protect against the
	// send-on-closed-channel panic, so closing takes the write lock and
	// every send takes the read lock.
	closeMu sync.RWMutex
	closed  bool

	totalScanned int64

	// inFlight counts probes admitted but not yet completed, including
	// retries re-entering d.tasks from retryOrBlacklist's timer goroutine —
	// it is accessed from both schedule()'s goroutine and those timers, so
	// it is atomic rather than schedule()'s private loop variable.
	inFlight int64

	// onSaveProgress is invoked on control.CmdSaveProgress; internal/scanner
	// sets this since it alone holds the config/state-dir paths needed to
	// persist a snapshot.
	onSaveProgress func()
}

// SetSaveProgressHook registers the callback run when a SaveProgress
// command is drained from the control surface.
func (d *Dispatcher) SetSaveProgressHook(fn func()) {
	d.onSaveProgress = fn
}

type probeDone struct {
	outcome prober.Outcome
}

// New constructs a Dispatcher from its collaborators.
func New(cfg Config, generator *addrgen.Generator, limiter *ratelimit.Limiter, p *prober.Prober, sk *sink.Sink, agg *stats.Aggregator, ctl *control.Surface, enrichOpt enrich.Options) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		generator: generator,
		limiter:   limiter,
		prober:    p,
		sink:      sk,
		stats:     agg,
		control:   ctl,
		enrichOpt: enrichOpt,
		attempts:  make(map[uint32]int),
	}
}

// Run executes the main scheduling loop until maxScans is reached, ctx is
// canceled, or the control surface's stop flag is set.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.tasks = make(chan addrgen.Address, d.cfg.MaxConcurrent)
	d.done = make(chan probeDone, d.cfg.MaxConcurrent)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.MaxConcurrent; i++ {
		wg.Add(1)
		go d.worker(ctx, &wg)
	}

	err := d.schedule(ctx)

	d.closeMu.Lock()
	d.closed = true
	close(d.tasks)
	d.closeMu.Unlock()
	wg.Wait()
	close(d.done)
	for result := range d.done {
		// handle stragglers that completed after the scheduler stopped reading
		atomic.AddInt64(&d.inFlight, -1)
		d.handleResult(ctx, result)
	}

	return err
}

// worker reads candidates off tasks, probes them, and reports results on
// done until tasks is closed.
func (d *Dispatcher) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for addr := range d.tasks {
		d.stats.AdjustActiveConnections(1)
		outcome := d.prober.Probe(ctx, addr)
		d.stats.AdjustActiveConnections(-1)

		select {
		case d.done <- probeDone{outcome: outcome}:
		case <-ctx.Done():
			return
		}
	}
}

// schedule is the main event-driven loop of spec.md §4.4.
func (d *Dispatcher) schedule(ctx context.Context) error {
	for {
		if d.control.ShouldStop() {
			return nil
		}
		if d.maxScansReached() {
			return nil
		}

		for _, cmd := range d.control.Drain() {
			d.runCommand(cmd)
		}

		if d.control.Paused() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		admitted := 0
		for admitted < d.cfg.BatchSize && atomic.LoadInt64(&d.inFlight) < int64(d.cfg.MaxConcurrent) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			addr, ok := d.generator.Next()
			if !ok {
				break
			}
			if d.sink.Contains(addr) {
				// A bounded-list (targeted) generator can hand back the
				// same already-seen address repeatedly; defer to the
				// outer loop's idle wait instead of spinning here.
				break
			}
			if !d.limiter.Admit(addr) {
				// Same reasoning: a rejected /24 window or blacklist hit
				// on a small candidate set would otherwise spin this
				// loop until the window clears.
				break
			}

			select {
			case d.tasks <- addr:
				atomic.AddInt64(&d.inFlight, 1)
				admitted++
				d.totalScanned++
				d.stats.RecordScan()
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case result := <-d.done:
			atomic.AddInt64(&d.inFlight, -1)
			d.handleResult(ctx, result)
			if d.totalScanned%maintenanceInterval == 0 {
				d.maintenance()
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			// yield; nothing completed within the idle window
		}
	}
}

func (d *Dispatcher) maxScansReached() bool {
	if d.cfg.MaxScans == nil {
		return false
	}
	return d.totalScanned >= *d.cfg.MaxScans
}

func (d *Dispatcher) runCommand(cmd control.Command) {
	switch cmd {
	case control.CmdResetStats:
		d.stats.Reset()
	case control.CmdMaintenance:
		d.maintenance()
	case control.CmdSaveProgress:
		if d.onSaveProgress != nil {
			d.onSaveProgress()
		}
	}
}

// handleResult classifies a probe outcome: server outcomes are enriched,
// filtered, and emitted; failures are retried with backoff up to
// maxRetries, after which the address is blacklisted.
func (d *Dispatcher) handleResult(ctx context.Context, result probeDone) {
	switch result.outcome.Kind {
	case slp.KindServer:
		d.emit(ctx, result)
	default:
		d.recordFailure(result)
		d.retryOrBlacklist(result)
	}
}

func (d *Dispatcher) recordFailure(result probeDone) {
	if result.outcome.DialError != nil {
		d.stats.RecordConnectionError()
	} else {
		d.stats.RecordTimeout()
	}
}

func (d *Dispatcher) retryOrBlacklist(result probeDone) {
	addr := result.outcome.Addr
	d.mu.Lock()
	attempt := d.attempts[addr.Uint32()] + 1
	d.attempts[addr.Uint32()] = attempt
	d.mu.Unlock()

	if attempt >= d.cfg.MaxRetries {
		d.limiter.Blacklist(addr)
		return
	}

	// Retries re-enter the tasks channel directly rather than going
	// through schedule()'s admission loop, since the attempt is already
	// accounted for; a full channel (the worker pool saturated) drops
	// the retry rather than blocking the timer goroutine, at the cost of
	// occasionally under-retrying before blacklisting.
	backoff := time.Duration(attempt) * retryBackoffUnit
	time.AfterFunc(backoff, func() {
		d.closeMu.RLock()
		defer d.closeMu.RUnlock()
		if d.closed {
			return
		}
		select {
		case d.tasks <- addr:
			atomic.AddInt64(&d.inFlight, 1)
		default:
		}
	})
}

func (d *Dispatcher) emit(ctx context.Context, result probeDone) {
	server := enrich.Enrich(ctx, result.outcome.Addr, d.cfg.Port, result.outcome.Status, result.outcome.ResponseTimeMS, d.enrichOpt)
	d.stats.RecordResponseTime(server.ResponseTimeMS)

	if !d.passesFilters(server) {
		return
	}

	dup, err := d.sink.Append(server)
	if err != nil {
		d.stats.RecordError()
		return
	}
	if dup {
		d.stats.RecordDuplicate()
		return
	}
	d.stats.RecordServer(server)
}

func (d *Dispatcher) passesFilters(s enrich.Server) bool {
	if len(d.cfg.VersionFilter) > 0 {
		matched := false
		for _, v := range d.cfg.VersionFilter {
			if v == s.Version {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if s.PlayersOnline < d.cfg.MinPlayers {
		return false
	}
	if s.PlayersOnline > d.cfg.MaxPlayers {
		return false
	}
	return true
}

// maintenance invokes GC and records the invocation. It does not reap the
// rate limiter or trim the seen-set itself: the limiter's own background
// reaper ticks on its own schedule, and the sink trims its seen-set on
// insertion once it passes its threshold.
func (d *Dispatcher) maintenance() {
	runtime.GC()
	d.stats.RecordGC()
}
