// Command mcscan is the scanner's CLI entrypoint: flag parsing, config
// loading, signal handling, and a stdin keystroke control channel. Modeled
// on the teacher's cmd/mcis/main.go (flag.Var repeatable-flag pattern,
// signal.NotifyContext, a runOnce-shaped body), generalized from a
// one-shot search to a long-lived scan session.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zhaiiker/mcscan/internal/config"
	"github.com/zhaiiker/mcscan/internal/logging"
	"github.com/zhaiiker/mcscan/internal/scanner"
	"github.com/zhaiiker/mcscan/internal/statedir"
)

// exit codes per spec.md §6: 0 graceful completion, 1 retryable error, 2
// fatal/environment error detected at startup.
const (
	exitOK        = 0
	exitRetryable = 1
	exitFatal     = 2
)

type repeatStringFlag []string

func (r *repeatStringFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatStringFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath    string
		port          int
		scanMode      string
		ipRanges      repeatStringFlag
		excludeRanges repeatStringFlag
		maxScans      int64
		batchSize     int
		maxConcurrent int
		maxRetries    int
		timeoutMS     int
		outputFile    string
		exportFormats string
		logLevel      string
		enableGeo     bool
		minPlayers    int
		maxPlayers    int
	)

	flag.StringVar(&configPath, "config", "", "Path to config.json (default: <state-dir>/config.json if present, else built-in defaults)")
	flag.IntVar(&port, "port", 0, "TCP port to probe (0 = use config/default)")
	flag.StringVar(&scanMode, "mode", "", "Scan mode: smart-random|random|range|targeted (empty = use config/default)")
	flag.Var(&ipRanges, "range", "CIDR to draw candidates from in range/targeted mode (repeatable)")
	flag.Var(&excludeRanges, "exclude", "CIDR to exclude from all modes (repeatable)")
	flag.Int64Var(&maxScans, "max-scans", 0, "Stop after this many probes (0 = use config/default, negative = infinite)")
	flag.IntVar(&batchSize, "batch-size", 0, "Candidates drawn per dispatch cycle (0 = use config/default)")
	flag.IntVar(&maxConcurrent, "concurrency", 0, "Upper bound on in-flight probes (0 = use config/default)")
	flag.IntVar(&maxRetries, "max-retries", 0, "Attempts before blacklisting an address (0 = use config/default)")
	flag.IntVar(&timeoutMS, "timeout", 0, "Per-probe deadline in ms (0 = use config/default)")
	flag.StringVar(&outputFile, "output", "", "Catalog text file path (empty = use config/default)")
	flag.StringVar(&exportFormats, "formats", "", "Comma-separated subset of txt,json,csv (empty = use config/default)")
	flag.StringVar(&logLevel, "log-level", "", "silent|error|warn|info|debug (empty = use config/default)")
	flag.BoolVar(&enableGeo, "geo", false, "Enable best-effort hostname-based geolocation enrichment")
	flag.IntVar(&minPlayers, "min-players", -1, "Inclusive minimum player-count filter (-1 = use config/default)")
	flag.IntVar(&maxPlayers, "max-players", -1, "Inclusive maximum player-count filter (-1 = use config/default)")
	flag.Parse()

	state, err := statedir.Ensure()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcscan: cannot create state directory:", err)
		return exitFatal
	}

	cfg, err := loadConfig(configPath, state)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcscan: cannot load config:", err)
		return exitFatal
	}
	applyFlagOverrides(&cfg, port, scanMode, []string(ipRanges), []string(excludeRanges),
		maxScans, batchSize, maxConcurrent, maxRetries, timeoutMS, outputFile, exportFormats,
		logLevel, enableGeo, minPlayers, maxPlayers)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "mcscan: invalid configuration:", err)
		return exitFatal
	}

	logging.Configure(cfg.LogLevel)

	s, err := scanner.New(cfg, state)
	if err != nil {
		logging.Errorf("mcscan: failed to construct scanner: %v", err)
		return exitFatal
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopKeystrokes := make(chan struct{})
	go watchControlKeystrokes(s, stopKeystrokes)
	defer close(stopKeystrokes)

	logging.Infof("mcscan: starting scan mode=%s port=%d maxConcurrent=%d", cfg.ScanMode, cfg.Port, cfg.MaxConcurrent)

	if err := s.Run(ctx); err != nil {
		logging.Errorf("mcscan: scan ended with error: %v", err)
		return exitRetryable
	}

	logging.Infof("mcscan: scan complete")
	return exitOK
}

// loadConfig reads configPath if given, otherwise the state directory's
// config.json if one exists, otherwise falls back to built-in defaults.
func loadConfig(configPath string, state statedir.Dir) (config.Config, error) {
	if configPath == "" {
		configPath = state.ConfigPath()
	}
	if _, err := os.Stat(configPath); err != nil {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

// applyFlagOverrides layers any explicitly-set flags over the loaded
// config, matching the teacher's "flags win over file defaults" idiom.
func applyFlagOverrides(cfg *config.Config, port int, scanMode string, ipRanges, excludeRanges []string,
	maxScans int64, batchSize, maxConcurrent, maxRetries, timeoutMS int, outputFile, exportFormats,
	logLevel string, enableGeo bool, minPlayers, maxPlayers int) {

	if port != 0 {
		cfg.Port = port
	}
	if scanMode != "" {
		cfg.ScanMode = scanMode
	}
	if len(ipRanges) > 0 {
		cfg.IPRanges = ipRanges
	}
	if len(excludeRanges) > 0 {
		cfg.ExcludeRanges = excludeRanges
	}
	if maxScans != 0 {
		if maxScans < 0 {
			cfg.MaxScans = nil
		} else {
			cfg.MaxScans = &maxScans
		}
	}
	if batchSize != 0 {
		cfg.BatchSize = batchSize
	}
	if maxConcurrent != 0 {
		cfg.MaxConcurrent = maxConcurrent
	}
	if maxRetries != 0 {
		cfg.MaxRetries = maxRetries
	}
	if timeoutMS != 0 {
		cfg.TimeoutMS = timeoutMS
	}
	if outputFile != "" {
		cfg.OutputFile = outputFile
	}
	if exportFormats != "" {
		cfg.ExportFormats = strings.Split(exportFormats, ",")
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if enableGeo {
		cfg.EnableGeolocation = true
	}
	if minPlayers >= 0 {
		cfg.MinPlayers = minPlayers
	}
	if maxPlayers >= 0 {
		cfg.MaxPlayers = maxPlayers
	}
}

// watchControlKeystrokes implements spec.md §6's control channel: stdin
// keystrokes P/S/R/Q map to pause-toggle/saveProgress/resetStats/stop.
// Ctrl-C is handled separately via signal.NotifyContext, not here.
func watchControlKeystrokes(s *scanner.Scanner, stop chan struct{}) {
	reader := bufio.NewReader(os.Stdin)
	paused := false
	for {
		select {
		case <-stop:
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		switch strings.ToUpper(strings.TrimSpace(line)) {
		case "P":
			if paused {
				s.Control().Resume()
			} else {
				s.Control().Pause()
			}
			paused = !paused
		case "S":
			s.Control().SaveProgress()
		case "R":
			s.Control().ResetStats()
		case "Q":
			s.Control().Stop()
			return
		}
	}
}
