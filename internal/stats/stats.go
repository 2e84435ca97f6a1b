// Package stats implements the streaming statistics aggregator of
// spec.md §4.7: monotonic counters, an exponential moving average of
// response time, dense top-K tallies, a capped popular-MOTD table, and
// best-server tracking.
package stats

import (
	"sync"
	"time"

	"github.com/zhaiiker/mcscan/internal/enrich"
)

// emaAlpha is the response-time EMA smoothing factor.
const emaAlpha = 0.1

// popularMOTDCap bounds the popularMOTDs map; spec.md §4.7 leaves the
// exact cap unspecified beyond "a small cap, e.g. 256" — see DESIGN.md.
const popularMOTDCap = 256

// popularMOTDEntryCap is the per-MOTD count ceiling: once an entry
// reaches this count it is no longer incremented.
const popularMOTDEntryCap = 10

// Snapshot is an immutable point-in-time copy of the aggregator's state,
// safe to serialize or log without holding the aggregator's lock.
type Snapshot struct {
	TotalScanned       int64
	TotalFound         int64
	DuplicatesSkipped  int64
	Errors             int64
	TimeoutCount       int64
	ConnectionErrors   int64
	ActiveConnections  int64
	GCInvocations      int64
	StartTime          time.Time
	AvgResponseTimeMS  float64
	PeakScanRate       float64
	ServersByVersion   map[string]int64
	ServersByCountry   map[string]int64
	ServersByPlayerCnt map[string]int64
	PopularMOTDs       map[string]int64
	LastFoundServer    *enrich.Server
	BestServer         *enrich.Server
}

// Aggregator accumulates scan statistics. All methods are safe for
// concurrent use.
type Aggregator struct {
	mu sync.Mutex

	totalScanned      int64
	totalFound        int64
	duplicatesSkipped int64
	errors            int64
	timeoutCount      int64
	connectionErrors  int64
	activeConnections int64
	gcInvocations     int64
	startTime         time.Time

	avgResponseTimeMS float64
	peakScanRate      float64

	serversByVersion   map[string]int64
	serversByCountry   map[string]int64
	serversByPlayerCnt map[string]int64
	popularMOTDs       map[string]int64

	lastFoundServer *enrich.Server
	bestServer      *enrich.Server
}

// New constructs an Aggregator with start-time set to now.
func New() *Aggregator {
	return &Aggregator{
		startTime:          time.Now(),
		serversByVersion:   make(map[string]int64),
		serversByCountry:   make(map[string]int64),
		serversByPlayerCnt: make(map[string]int64),
		popularMOTDs:       make(map[string]int64),
	}
}

// RecordScan increments total-scanned, updates the instantaneous scan
// rate, and bumps peak-scan-rate if the new rate exceeds it.
func (a *Aggregator) RecordScan() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalScanned++
	uptime := time.Since(a.startTime).Seconds()
	if uptime <= 0 {
		return
	}
	rate := float64(a.totalScanned) / uptime
	if rate > a.peakScanRate {
		a.peakScanRate = rate
	}
}

// RecordError increments the generic error counter.
func (a *Aggregator) RecordError() {
	a.mu.Lock()
	a.errors++
	a.mu.Unlock()
}

// RecordTimeout increments the timeout counter.
func (a *Aggregator) RecordTimeout() {
	a.mu.Lock()
	a.timeoutCount++
	a.mu.Unlock()
}

// RecordConnectionError increments the connection-error counter.
func (a *Aggregator) RecordConnectionError() {
	a.mu.Lock()
	a.connectionErrors++
	a.mu.Unlock()
}

// RecordDuplicate increments duplicates-skipped.
func (a *Aggregator) RecordDuplicate() {
	a.mu.Lock()
	a.duplicatesSkipped++
	a.mu.Unlock()
}

// AdjustActiveConnections applies delta (positive on spawn, negative on
// completion) to the active-connections gauge.
func (a *Aggregator) AdjustActiveConnections(delta int64) {
	a.mu.Lock()
	a.activeConnections += delta
	a.mu.Unlock()
}

// RecordGC increments the GC-invocation counter.
func (a *Aggregator) RecordGC() {
	a.mu.Lock()
	a.gcInvocations++
	a.mu.Unlock()
}

// RecordResponseTime folds sample into the response-time EMA.
func (a *Aggregator) RecordResponseTime(sampleMS int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.avgResponseTimeMS == 0 {
		a.avgResponseTimeMS = float64(sampleMS)
		return
	}
	a.avgResponseTimeMS = (1-emaAlpha)*a.avgResponseTimeMS + emaAlpha*float64(sampleMS)
}

// RecordServer folds a newly discovered server into total-found, the
// dense top-K tallies, the capped popular-MOTD table, and last-found /
// best-server tracking.
func (a *Aggregator) RecordServer(s enrich.Server) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalFound++
	a.serversByVersion[s.Version]++
	a.serversByCountry[s.Country]++
	a.serversByPlayerCnt[playerCountBucket(s.PlayersOnline)]++
	a.recordMOTD(s.MOTD)

	serverCopy := s
	a.lastFoundServer = &serverCopy

	if a.bestServer == nil || s.QualityScore > a.bestServer.QualityScore {
		best := s
		a.bestServer = &best
	}
}

// recordMOTD applies the cap rule from spec.md §4.7: an entry already at
// popularMOTDEntryCap is not incremented further, and once the map holds
// popularMOTDCap distinct entries no new MOTD is inserted.
func (a *Aggregator) recordMOTD(motd string) {
	if count, exists := a.popularMOTDs[motd]; exists {
		if count < popularMOTDEntryCap {
			a.popularMOTDs[motd] = count + 1
		}
		return
	}
	if len(a.popularMOTDs) >= popularMOTDCap {
		return
	}
	a.popularMOTDs[motd] = 1
}

// playerCountBucket maps an online-player count to its bucket label.
func playerCountBucket(online int) string {
	switch {
	case online == 0:
		return "0"
	case online <= 5:
		return "1-5"
	case online <= 20:
		return "6-20"
	case online <= 50:
		return "21-50"
	case online <= 100:
		return "51-100"
	default:
		return "100+"
	}
}

// Snapshot returns an immutable copy of the aggregator's current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Snapshot{
		TotalScanned:       a.totalScanned,
		TotalFound:         a.totalFound,
		DuplicatesSkipped:  a.duplicatesSkipped,
		Errors:             a.errors,
		TimeoutCount:       a.timeoutCount,
		ConnectionErrors:   a.connectionErrors,
		ActiveConnections:  a.activeConnections,
		GCInvocations:      a.gcInvocations,
		StartTime:          a.startTime,
		AvgResponseTimeMS:  a.avgResponseTimeMS,
		PeakScanRate:       a.peakScanRate,
		ServersByVersion:   copyMap(a.serversByVersion),
		ServersByCountry:   copyMap(a.serversByCountry),
		ServersByPlayerCnt: copyMap(a.serversByPlayerCnt),
		PopularMOTDs:       copyMap(a.popularMOTDs),
		LastFoundServer:    a.lastFoundServer,
		BestServer:         a.bestServer,
	}
}

// Reset zeroes volatile counters and re-seeds start-time, preserving
// total-found, serversByVersion, and serversByCountry, per the
// resetStats() contract in spec.md §4.8.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalScanned = 0
	a.duplicatesSkipped = 0
	a.errors = 0
	a.timeoutCount = 0
	a.connectionErrors = 0
	a.gcInvocations = 0
	a.avgResponseTimeMS = 0
	a.peakScanRate = 0
	a.serversByPlayerCnt = make(map[string]int64)
	a.popularMOTDs = make(map[string]int64)
	a.startTime = time.Now()
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
