// Package sink implements the deduplicating, append-only result catalog
// of spec.md §4.6/§6: a text catalog, an optional JSON catalog
// (JSON-lines by default, monolithic-JSON as a documented opt-in), and a
// CSV export, all bootstrapped from and trimming a seen-set.
package sink

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/zhaiiker/mcscan/internal/addrgen"
	"github.com/zhaiiker/mcscan/internal/enrich"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// seenTrimThreshold and seenTrimKeep implement the seen-set bootstrap/trim
// rule of spec.md §3: trimmed when it exceeds 1,000,000 entries, retaining
// the most-recently-inserted 500,000.
const (
	seenTrimThreshold = 1_000_000
	seenTrimKeep      = 500_000
)

// CatalogFormat selects how the structured catalog is persisted.
type CatalogFormat int

const (
	// FormatJSONLines appends one JSON object per line; default, avoids
	// the O(n²) write amplification of rewriting the whole file per
	// discovery. See DESIGN.md.
	FormatJSONLines CatalogFormat = iota
	// FormatMonolithicJSON rewrites a single `{"servers":[...],
	// "lastUpdated":...}` object on every append, matching the source
	// behavior byte-for-byte (spec.md §6 explicitly permits the
	// JSON-lines optimization, so this is an opt-in compatibility mode).
	FormatMonolithicJSON
)

// seenEntry tracks a seen-set insertion's order for trimming.
type seenEntry struct {
	addr  uint32
	order int64
}

// Sink is the deduplicating result catalog. It satisfies
// addrgen.Membership so the address generator can skip already-seen
// addresses without importing this package.
type Sink struct {
	mu sync.Mutex

	textPath string
	jsonPath string
	format   CatalogFormat

	textFile *os.File
	jsonFile *os.File // only opened for FormatJSONLines
	csvFile  *os.File // only opened when cfg.CSVPath is set
	csvRank  int

	seen      map[uint32]int64 // address -> insertion order
	nextOrder int64

	// monolithic mirrors the full server list, only maintained under
	// FormatMonolithicJSON.
	monolithic []enrich.Server
}

// Config configures a Sink.
type Config struct {
	TextPath string
	JSONPath string
	CSVPath  string // optional; enables a parallel per-record CSV catalog
	Format   CatalogFormat
}

// Open creates (or appends to) the catalog files and bootstraps the
// seen-set from the existing text catalog, if any.
func Open(cfg Config) (*Sink, error) {
	s := &Sink{
		textPath: cfg.TextPath,
		jsonPath: cfg.JSONPath,
		format:   cfg.Format,
		seen:     make(map[uint32]int64),
	}

	if err := s.bootstrapSeenSet(); err != nil {
		return nil, err
	}

	textFile, err := os.OpenFile(s.textPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("sink: open text catalog: %w", err)
	}
	s.textFile = textFile

	if s.jsonPath != "" && s.format == FormatJSONLines {
		jsonFile, err := os.OpenFile(s.jsonPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			textFile.Close()
			return nil, fmt.Errorf("sink: open json catalog: %w", err)
		}
		s.jsonFile = jsonFile
	}

	if cfg.CSVPath != "" {
		needsHeader := true
		if info, err := os.Stat(cfg.CSVPath); err == nil && info.Size() > 0 {
			needsHeader = false
		}
		csvFile, err := os.OpenFile(cfg.CSVPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			textFile.Close()
			if s.jsonFile != nil {
				s.jsonFile.Close()
			}
			return nil, fmt.Errorf("sink: open csv catalog: %w", err)
		}
		s.csvFile = csvFile
		if needsHeader {
			w := csv.NewWriter(s.csvFile)
			if err := w.Write(csvHeader); err != nil {
				return nil, fmt.Errorf("sink: write csv header: %w", err)
			}
			w.Flush()
			if err := w.Error(); err != nil {
				return nil, fmt.Errorf("sink: write csv header: %w", err)
			}
		}
	}

	return s, nil
}

var csvHeader = []string{"rank", "ip", "version", "online", "max", "motd", "country", "quality_score", "timestamp"}

// bootstrapSeenSet recovers the seen-set from the text catalog on disk,
// per spec.md §6: "readers recover the seen-set by splitting each line on
// '|' and taking the first field."
func (s *Sink) bootstrapSeenSet() error {
	f, err := os.Open(s.textPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sink: bootstrap seen-set: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.SplitN(line, "|", 2)
		if len(fields) == 0 {
			continue
		}
		addr, err := addrgen.ParseAddress(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		s.insertSeen(addr)
	}
	return scanner.Err()
}

// insertSeen records addr in the seen-set with the next insertion order,
// trimming if the threshold is exceeded. Caller must hold s.mu, except
// during bootstrap before any goroutine can observe s.
func (s *Sink) insertSeen(addr addrgen.Address) {
	s.seen[addr.Uint32()] = s.nextOrder
	s.nextOrder++
	if len(s.seen) > seenTrimThreshold {
		s.trimSeenSet(seenTrimKeep)
	}
}

// trimSeenSet keeps only the most-recently-inserted keep entries.
func (s *Sink) trimSeenSet(keep int) {
	entries := make([]seenEntry, 0, len(s.seen))
	for addr, order := range s.seen {
		entries = append(entries, seenEntry{addr: addr, order: order})
	}
	sortEntriesByOrderDesc(entries)
	if len(entries) > keep {
		entries = entries[:keep]
	}
	kept := make(map[uint32]int64, len(entries))
	for _, e := range entries {
		kept[e.addr] = e.order
	}
	s.seen = kept
}

func sortEntriesByOrderDesc(entries []seenEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].order > entries[j-1].order; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Contains reports whether addr is already in the seen-set, satisfying
// addrgen.Membership.
func (s *Sink) Contains(addr addrgen.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[addr.Uint32()]
	return ok
}

// Append writes server to the catalogs unless its address is already in
// the seen-set, in which case it reports a duplicate. Insertion into the
// seen-set happens last, so a failed write never hides an address from a
// future session.
func (s *Sink) Append(server enrich.Server) (duplicate bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[server.Address.Uint32()]; ok {
		return true, nil
	}

	line := formatTextRecord(server)
	if _, err := s.textFile.WriteString(line + "\n"); err != nil {
		return false, fmt.Errorf("sink: append text catalog: %w", err)
	}

	switch s.format {
	case FormatJSONLines:
		if s.jsonFile != nil {
			encoded, err := json.Marshal(server)
			if err != nil {
				return false, fmt.Errorf("sink: marshal server: %w", err)
			}
			if _, err := s.jsonFile.Write(append(encoded, '\n')); err != nil {
				return false, fmt.Errorf("sink: append json catalog: %w", err)
			}
		}
	case FormatMonolithicJSON:
		s.monolithic = append(s.monolithic, server)
		if err := s.rewriteMonolithic(); err != nil {
			return false, err
		}
	}

	if s.csvFile != nil {
		s.csvRank++
		w := csv.NewWriter(s.csvFile)
		if err := w.Write(csvRecord(s.csvRank, server)); err != nil {
			return false, fmt.Errorf("sink: append csv catalog: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return false, fmt.Errorf("sink: append csv catalog: %w", err)
		}
	}

	s.insertSeen(server.Address)
	return false, nil
}

// rewriteMonolithic rewrites the whole JSON catalog file, matching the
// source's behavior under FormatMonolithicJSON.
func (s *Sink) rewriteMonolithic() error {
	if s.jsonPath == "" {
		return nil
	}
	doc := struct {
		Servers     []enrich.Server `json:"servers"`
		LastUpdated time.Time       `json:"lastUpdated"`
	}{
		Servers:     s.monolithic,
		LastUpdated: time.Now(),
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("sink: marshal monolithic catalog: %w", err)
	}
	if err := os.WriteFile(s.jsonPath, encoded, 0644); err != nil {
		return fmt.Errorf("sink: write monolithic catalog: %w", err)
	}
	return nil
}

// formatTextRecord builds the pipe-delimited record of spec.md §6.
func formatTextRecord(s enrich.Server) string {
	motd := s.MOTD
	if len(motd) > 50 {
		motd = motd[:50]
	}
	motd = strings.ReplaceAll(motd, "\n", " ")

	return strings.Join([]string{
		s.Address.String(),
		s.Version,
		fmt.Sprintf("%d/%d", s.PlayersOnline, s.PlayersMax),
		motd,
		s.Country,
		strconv.Itoa(s.QualityScore),
		s.Timestamp.UTC().Format(time.RFC3339),
	}, "|")
}

// ExportCSV writes servers as a standalone CSV file at path, ranked in the
// given order. Used for one-shot exports (e.g. top-N snapshots) distinct
// from the per-record CSV catalog Append maintains when cfg.CSVPath is set.
func (s *Sink) ExportCSV(path string, servers []enrich.Server) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sink: create csv export: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for i, srv := range servers {
		if err := w.Write(csvRecord(i+1, srv)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func csvRecord(rank int, srv enrich.Server) []string {
	return []string{
		strconv.Itoa(rank),
		srv.Address.String(),
		srv.Version,
		strconv.Itoa(srv.PlayersOnline),
		strconv.Itoa(srv.PlayersMax),
		srv.MOTD,
		srv.Country,
		strconv.Itoa(srv.QualityScore),
		srv.Timestamp.UTC().Format(time.RFC3339),
	}
}

// Close flushes and closes the open catalog files.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.textFile != nil {
		if err := s.textFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.jsonFile != nil {
		if err := s.jsonFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.csvFile != nil {
		if err := s.csvFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of entries in the seen-set.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
