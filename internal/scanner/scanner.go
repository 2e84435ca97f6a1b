// Package scanner wires the generator, rate limiter, prober, enricher,
// sink, stats aggregator, and control surface into the top-level scan
// session described by spec.md §2, and owns the on-disk persistence
// (catalog paths, session-stats snapshot) that the dispatcher itself has
// no knowledge of. Modeled on the teacher's engine.Engine/engine.New
// wiring shape, generalized from a one-shot Run(ctx, req) to a
// long-lived session with periodic autosave/stats/maintenance ticks.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhaiiker/mcscan/internal/addrgen"
	"github.com/zhaiiker/mcscan/internal/config"
	"github.com/zhaiiker/mcscan/internal/control"
	"github.com/zhaiiker/mcscan/internal/dispatcher"
	"github.com/zhaiiker/mcscan/internal/enrich"
	"github.com/zhaiiker/mcscan/internal/geoip"
	"github.com/zhaiiker/mcscan/internal/logging"
	"github.com/zhaiiker/mcscan/internal/prober"
	"github.com/zhaiiker/mcscan/internal/ratelimit"
	"github.com/zhaiiker/mcscan/internal/sink"
	"github.com/zhaiiker/mcscan/internal/statedir"
	"github.com/zhaiiker/mcscan/internal/stats"
)

// Scanner is the top-level aggregate a CLI entrypoint drives: one Config,
// one state directory, one of every collaborator package.
type Scanner struct {
	cfg   config.Config
	state statedir.Dir

	generator  *addrgen.Generator
	limiter    *ratelimit.Limiter
	aggregator *stats.Aggregator
	control    *control.Surface
	sink       *sink.Sink
	dispatch   *dispatcher.Dispatcher
	geoCache   *geoip.CachingResolver // nil unless cfg.EnableGeolocation

	tickersWG   sync.WaitGroup
	stopTickers chan struct{}
}

// New constructs a Scanner and opens its on-disk collaborators. Close
// must be called (directly, or via Run's own cleanup) to release them.
func New(cfg config.Config, state statedir.Dir) (*Scanner, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scanner: invalid config: %w", err)
	}

	ipRanges, err := parseCIDRList(cfg.IPRanges)
	if err != nil {
		return nil, fmt.Errorf("scanner: ipRanges: %w", err)
	}
	excludeRanges, err := parseCIDRList(cfg.ExcludeRanges)
	if err != nil {
		return nil, fmt.Errorf("scanner: excludeRanges: %w", err)
	}

	limiter := ratelimit.New()

	catalogPaths := resolveCatalogPaths(cfg, state)
	format := sink.FormatJSONLines
	if cfg.HasExportFormat("json-monolithic") {
		format = sink.FormatMonolithicJSON
	}
	sk, err := sink.Open(sink.Config{
		TextPath: catalogPaths.text,
		JSONPath: catalogPaths.json,
		CSVPath:  catalogPaths.csv,
		Format:   format,
	})
	if err != nil {
		limiter.Close()
		return nil, fmt.Errorf("scanner: open sink: %w", err)
	}

	generator := addrgen.New(addrgen.Config{
		Mode:          addrgen.Mode(cfg.ScanMode),
		IPRanges:      ipRanges,
		ExcludeRanges: excludeRanges,
		Seen:          sk,
		Blacklist:     limiter,
	})

	agg := stats.New()
	ctl := control.New()

	p := prober.NewProber(prober.Config{
		Port:    uint16(cfg.Port),
		Timeout: cfg.Timeout(),
	})

	var resolver geoip.Resolver
	var geoCache *geoip.CachingResolver
	if cfg.EnableGeolocation {
		cached, err := geoip.NewCachingResolver(geoip.NewHostnameResolver(), state.GeoCachePath())
		if err != nil {
			limiter.Close()
			sk.Close()
			return nil, fmt.Errorf("scanner: open geoip cache: %w", err)
		}
		geoCache = cached
		resolver = cached
	}

	d := dispatcher.New(dispatcher.Config{
		Port:          uint16(cfg.Port),
		BatchSize:     cfg.BatchSize,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxScans:      cfg.MaxScans,
		MaxRetries:    cfg.MaxRetries,
		VersionFilter: cfg.VersionFilter,
		MinPlayers:    cfg.MinPlayers,
		MaxPlayers:    cfg.MaxPlayers,
	}, generator, limiter, p, sk, agg, ctl, enrich.Options{
		Resolver:       resolver,
		ResolveTimeout: time.Second,
	})

	s := &Scanner{
		cfg:         cfg,
		state:       state,
		generator:   generator,
		limiter:     limiter,
		aggregator:  agg,
		control:     ctl,
		sink:        sk,
		dispatch:    d,
		geoCache:    geoCache,
		stopTickers: make(chan struct{}),
	}
	d.SetSaveProgressHook(s.saveProgressBestEffort)
	return s, nil
}

// Control returns the scan session's control surface, for a CLI or
// dashboard collaborator to drive pause/resume/stop/save/reset.
func (s *Scanner) Control() *control.Surface { return s.control }

// Stats returns the scan session's statistics aggregator, for read-only
// dashboard or logging access while the scan runs.
func (s *Scanner) Stats() *stats.Aggregator { return s.aggregator }

// Run starts the periodic autosave/maintenance tickers, runs the
// dispatcher's scheduling loop to completion, and persists a final
// session summary before returning. It blocks until ctx is canceled, the
// control surface's stop flag is set, or maxScans is reached.
func (s *Scanner) Run(ctx context.Context) error {
	s.startTickers(ctx)
	err := s.dispatch.Run(ctx)
	s.stopTickersAndWait()

	if saveErr := s.SaveProgress(); saveErr != nil {
		logging.Errorf("scanner: final save-progress failed: %v", saveErr)
	}
	if err := s.writeShutdownSummary(); err != nil {
		logging.Errorf("scanner: write shutdown summary: %v", err)
	}
	s.logSummary()

	if closeErr := s.Close(); closeErr != nil {
		logging.Errorf("scanner: close: %v", closeErr)
	}
	return err
}

// startTickers launches the saveInterval/statsInterval/gcInterval
// goroutines. The save and gc tickers enqueue the matching control command
// (gc also flushes the geoip cache), which the dispatcher drains at its
// safe points; the stats ticker logs a stats line directly.
func (s *Scanner) startTickers(ctx context.Context) {
	intervals := []struct {
		name string
		d    time.Duration
		fire func()
	}{
		{"save", time.Duration(s.cfg.SaveIntervalMS) * time.Millisecond, s.control.SaveProgress},
		{"stats", time.Duration(s.cfg.StatsIntervalMS) * time.Millisecond, s.logStatsLine},
		{"gc", time.Duration(s.cfg.GCIntervalMS) * time.Millisecond, s.maintenanceTick},
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			continue
		}
		s.tickersWG.Add(1)
		go func(d time.Duration, fire func()) {
			defer s.tickersWG.Done()
			ticker := time.NewTicker(d)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.stopTickers:
					return
				case <-ticker.C:
					fire()
				}
			}
		}(iv.d, iv.fire)
	}
}

func (s *Scanner) stopTickersAndWait() {
	close(s.stopTickers)
	s.tickersWG.Wait()
}

func (s *Scanner) logStatsLine() {
	snap := s.aggregator.Snapshot()
	logging.Infof("scanned=%d found=%d duplicates=%d errors=%d avgResponseMs=%.1f",
		snap.TotalScanned, snap.TotalFound, snap.DuplicatesSkipped, snap.Errors, snap.AvgResponseTimeMS)
}

func (s *Scanner) logSummary() {
	snap := s.aggregator.Snapshot()
	logging.Infof("session summary: scanned=%d found=%d duplicates=%d blacklisted=%d avgResponseMs=%.1f peakScanRate=%.1f",
		snap.TotalScanned, snap.TotalFound, snap.DuplicatesSkipped, s.limiter.Size(), snap.AvgResponseTimeMS, snap.PeakScanRate)
}

// topNKVs ranks m's entries by value descending (ties broken by key, for a
// deterministic summary) and returns at most n of them.
func topNKVs(m map[string]int64, n int) []kv {
	all := toKVs(m)
	sort.Slice(all, func(i, j int) bool {
		if all[i].Value != all[j].Value {
			return all[i].Value > all[j].Value
		}
		return all[i].Key < all[j].Key
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// shutdownSummaryDoc is the timestamped shutdown-summary file spec.md
// §4.8 requires: top-10 versions, top-10 countries, the best server seen,
// and the session's performance metrics.
type shutdownSummaryDoc struct {
	Timestamp         time.Time      `json:"timestamp"`
	TopVersions       []kv           `json:"topVersions"`
	TopCountries      []kv           `json:"topCountries"`
	BestServer        *enrich.Server `json:"bestServer,omitempty"`
	TotalScanned      int64          `json:"totalScanned"`
	TotalFound        int64          `json:"totalFound"`
	DuplicatesSkipped int64          `json:"duplicatesSkipped"`
	Errors            int64          `json:"errors"`
	AvgResponseTimeMS float64        `json:"avgResponseTimeMs"`
	PeakScanRate      float64        `json:"peakScanRate"`
	Blacklisted       int            `json:"blacklisted"`
}

const summaryTimestampLayout = "20060102T150405Z"

// writeShutdownSummary persists the spec.md §4.8 shutdown report: a
// timestamped JSON document under state.Exports plus, when any server was
// found, a companion ranked CSV via sink.ExportCSV (the best and the most
// recently discovered server, deduplicated by address).
func (s *Scanner) writeShutdownSummary() error {
	snap := s.aggregator.Snapshot()
	now := time.Now().UTC()

	doc := shutdownSummaryDoc{
		Timestamp:         now,
		TopVersions:       topNKVs(snap.ServersByVersion, 10),
		TopCountries:      topNKVs(snap.ServersByCountry, 10),
		BestServer:        snap.BestServer,
		TotalScanned:      snap.TotalScanned,
		TotalFound:        snap.TotalFound,
		DuplicatesSkipped: snap.DuplicatesSkipped,
		Errors:            snap.Errors,
		AvgResponseTimeMS: snap.AvgResponseTimeMS,
		PeakScanRate:      snap.PeakScanRate,
		Blacklisted:       s.limiter.Size(),
	}

	stamp := now.Format(summaryTimestampLayout)
	jsonPath := filepath.Join(s.state.Exports, fmt.Sprintf("summary-%s.json", stamp))
	if err := writeJSONAtomic(jsonPath, doc); err != nil {
		return fmt.Errorf("write summary json: %w", err)
	}

	ranked := rankedSummaryServers(snap.BestServer, snap.LastFoundServer)
	if len(ranked) == 0 {
		return nil
	}
	csvPath := filepath.Join(s.state.Exports, fmt.Sprintf("summary-%s.csv", stamp))
	if err := s.sink.ExportCSV(csvPath, ranked); err != nil {
		return fmt.Errorf("write summary csv: %w", err)
	}
	return nil
}

// rankedSummaryServers returns best and last (in that order), skipping nils
// and not repeating last if it is the same address as best.
func rankedSummaryServers(best, last *enrich.Server) []enrich.Server {
	var out []enrich.Server
	if best != nil {
		out = append(out, *best)
	}
	if last != nil && (best == nil || last.Address != best.Address) {
		out = append(out, *last)
	}
	return out
}

// maintenanceTick enqueues the dispatcher's maintenance command and, when
// geolocation is enabled, flushes any new lookup-cache entries to disk.
func (s *Scanner) maintenanceTick() {
	s.control.Maintenance()
	if s.geoCache != nil {
		if err := s.geoCache.Save(); err != nil {
			logging.Errorf("scanner: save geoip cache: %v", err)
		}
	}
}

func (s *Scanner) saveProgressBestEffort() {
	if err := s.SaveProgress(); err != nil {
		logging.Errorf("scanner: save-progress: %v", err)
	}
}

// SaveProgress atomically writes the statistics snapshot and the active
// configuration to the state directory, per spec.md §6.
func (s *Scanner) SaveProgress() error {
	if err := writeJSONAtomic(s.state.SessionStatsPath(), snapshotDoc(s.aggregator.Snapshot())); err != nil {
		return fmt.Errorf("scanner: save session-stats: %w", err)
	}
	if err := writeJSONAtomic(s.state.ConfigPath(), s.cfg); err != nil {
		return fmt.Errorf("scanner: save config: %w", err)
	}
	return nil
}

// Close releases the sink and rate limiter's held resources, flushing the
// geoip lookup cache first if geolocation was enabled.
func (s *Scanner) Close() error {
	if s.geoCache != nil {
		if err := s.geoCache.Save(); err != nil {
			logging.Errorf("scanner: save geoip cache: %v", err)
		}
	}
	s.limiter.Close()
	return s.sink.Close()
}

// kv is one entry of a serialized map, per session-stats.json's
// "maps serialized as arrays of [key, value] pairs" contract.
type kv struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

func toKVs(m map[string]int64) []kv {
	out := make([]kv, 0, len(m))
	for k, v := range m {
		out = append(out, kv{Key: k, Value: v})
	}
	return out
}

// sessionStatsDoc is the session-stats.json shape.
type sessionStatsDoc struct {
	TotalScanned         int64          `json:"totalScanned"`
	TotalFound           int64          `json:"totalFound"`
	DuplicatesSkipped    int64          `json:"duplicatesSkipped"`
	Errors               int64          `json:"errors"`
	TimeoutCount         int64          `json:"timeoutCount"`
	ConnectionErrors     int64          `json:"connectionErrors"`
	ActiveConnections    int64          `json:"activeConnections"`
	GCInvocations        int64          `json:"gcInvocations"`
	StartTime            time.Time      `json:"startTime"`
	AvgResponseTimeMS    float64        `json:"avgResponseTimeMs"`
	PeakScanRate         float64        `json:"peakScanRate"`
	ServersByVersion     []kv           `json:"serversByVersion"`
	ServersByCountry     []kv           `json:"serversByCountry"`
	ServersByPlayerCount []kv           `json:"serversByPlayerCount"`
	PopularMOTDs         []kv           `json:"popularMotds"`
	LastFoundServer      *enrich.Server `json:"lastFoundServer,omitempty"`
	BestServer           *enrich.Server `json:"bestServer,omitempty"`
}

func snapshotDoc(snap stats.Snapshot) sessionStatsDoc {
	return sessionStatsDoc{
		TotalScanned:         snap.TotalScanned,
		TotalFound:           snap.TotalFound,
		DuplicatesSkipped:    snap.DuplicatesSkipped,
		Errors:               snap.Errors,
		TimeoutCount:         snap.TimeoutCount,
		ConnectionErrors:     snap.ConnectionErrors,
		ActiveConnections:    snap.ActiveConnections,
		GCInvocations:        snap.GCInvocations,
		StartTime:            snap.StartTime,
		AvgResponseTimeMS:    snap.AvgResponseTimeMS,
		PeakScanRate:         snap.PeakScanRate,
		ServersByVersion:     toKVs(snap.ServersByVersion),
		ServersByCountry:     toKVs(snap.ServersByCountry),
		ServersByPlayerCount: toKVs(snap.ServersByPlayerCnt),
		PopularMOTDs:         toKVs(snap.PopularMOTDs),
		LastFoundServer:      snap.LastFoundServer,
		BestServer:           snap.BestServer,
	}
}

// writeJSONAtomic encodes v and renames it into place, so a crash
// mid-write never leaves path holding a truncated document.
func writeJSONAtomic(path string, v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func parseCIDRList(entries []string) ([]addrgen.CIDR, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]addrgen.CIDR, 0, len(entries))
	for _, e := range entries {
		c, err := addrgen.ParseCIDR(e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type catalogPaths struct {
	text string
	json string
	csv  string
}

// resolveCatalogPaths derives the JSON and CSV catalog paths from
// cfg.OutputFile's base name, enabling each only when cfg.ExportFormats
// names it (per spec.md §6's exportFormats option).
func resolveCatalogPaths(cfg config.Config, state statedir.Dir) catalogPaths {
	textPath := cfg.OutputFile
	if !filepath.IsAbs(textPath) {
		textPath = filepath.Join(state.Exports, textPath)
	}
	base := strings.TrimSuffix(textPath, filepath.Ext(textPath))

	paths := catalogPaths{text: textPath}
	if cfg.HasExportFormat("json") || cfg.HasExportFormat("json-monolithic") {
		paths.json = base + ".json"
	}
	if cfg.HasExportFormat("csv") {
		paths.csv = base + ".csv"
	}
	return paths
}
