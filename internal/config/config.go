// Package config implements the scanner's config.json schema — decoding,
// defaulting, and validation — per spec.md §6.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds every recognized config.json option.
type Config struct {
	Port          int      `json:"port"`
	TimeoutMS     int      `json:"timeout"`
	MaxRetries    int      `json:"maxRetries"`
	BatchSize     int      `json:"batchSize"`
	MaxConcurrent int      `json:"maxConcurrent"`
	MaxScans      *int64   `json:"maxScans"` // nil = infinite
	ScanMode      string   `json:"scanMode"`
	IPRanges      []string `json:"ipRanges"`
	ExcludeRanges []string `json:"excludeRanges"`
	OutputFile    string   `json:"outputFile"`
	ExportFormats []string `json:"exportFormats"`
	LogLevel      string   `json:"logLevel"`

	VersionFilter []string `json:"versionFilter"`
	MinPlayers    int      `json:"minPlayers"`
	MaxPlayers    int      `json:"maxPlayers"`

	EnableGeolocation bool `json:"enableGeolocation"`
	SaveIntervalMS    int  `json:"saveInterval"`
	StatsIntervalMS   int  `json:"statsInterval"`
	GCIntervalMS      int  `json:"gcInterval"`
}

// DefaultConfig returns a configuration with sensible defaults, matching
// spec.md §6's documented defaults where stated (port 25565; timeout
// 2500ms per §4.2) and otherwise chosen for a reasonably paced
// scan.
func DefaultConfig() Config {
	return Config{
		Port:              25565,
		TimeoutMS:         2500,
		MaxRetries:        2,
		BatchSize:         100,
		MaxConcurrent:     500,
		MaxScans:          nil,
		ScanMode:          "smart-random",
		IPRanges:          nil,
		ExcludeRanges:     nil,
		OutputFile:        "discovered-servers.txt",
		ExportFormats:     []string{"txt"},
		LogLevel:          "info",
		VersionFilter:     nil,
		MinPlayers:        0,
		MaxPlayers:        1 << 30,
		EnableGeolocation: false,
		SaveIntervalMS:    60_000,
		StatsIntervalMS:   1_000,
		GCIntervalMS:      60_000,
	}
}

var validScanModes = map[string]bool{
	"smart-random": true,
	"random":       true,
	"range":        true,
	"targeted":     true,
}

var validLogLevels = map[string]bool{
	"silent": true,
	"error":  true,
	"warn":   true,
	"info":   true,
	"debug":  true,
}

var validExportFormats = map[string]bool{
	"txt": true,
	// "json" is the default JSON-lines catalog (spec.md §9's documented
	// optimization); "json-monolithic" opts into the whole-file-rewrite
	// shape spec.md §6 literally describes.
	"json":            true,
	"json-monolithic": true,
	"csv":             true,
}

// Validate reports whether c is internally consistent.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port must be in [1,65535], got %d", c.Port)
	}
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("config: timeout must be > 0, got %d", c.TimeoutMS)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: maxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batchSize must be > 0, got %d", c.BatchSize)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("config: maxConcurrent must be > 0, got %d", c.MaxConcurrent)
	}
	if c.MaxScans != nil && *c.MaxScans < 0 {
		return fmt.Errorf("config: maxScans must be >= 0 when set, got %d", *c.MaxScans)
	}
	if !validScanModes[c.ScanMode] {
		return fmt.Errorf("config: scanMode %q is not one of smart-random/random/range/targeted", c.ScanMode)
	}
	if (c.ScanMode == "range" || c.ScanMode == "targeted") && len(c.IPRanges) == 0 {
		return fmt.Errorf("config: scanMode %q requires at least one ipRanges entry", c.ScanMode)
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("config: logLevel %q is not one of silent/error/warn/info/debug", c.LogLevel)
	}
	for _, f := range c.ExportFormats {
		if !validExportFormats[f] {
			return fmt.Errorf("config: exportFormats entry %q is not one of txt/json/json-monolithic/csv", f)
		}
	}
	if c.MinPlayers < 0 {
		return fmt.Errorf("config: minPlayers must be >= 0, got %d", c.MinPlayers)
	}
	if c.MaxPlayers < c.MinPlayers {
		return fmt.Errorf("config: maxPlayers (%d) must be >= minPlayers (%d)", c.MaxPlayers, c.MinPlayers)
	}
	return nil
}

// ApplyDefaults fills in zero-valued fields with DefaultConfig's values.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = d.TimeoutMS
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.ScanMode == "" {
		c.ScanMode = d.ScanMode
	}
	if c.OutputFile == "" {
		c.OutputFile = d.OutputFile
	}
	if len(c.ExportFormats) == 0 {
		c.ExportFormats = d.ExportFormats
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.MaxPlayers == 0 {
		c.MaxPlayers = d.MaxPlayers
	}
	if c.SaveIntervalMS == 0 {
		c.SaveIntervalMS = d.SaveIntervalMS
	}
	if c.StatsIntervalMS == 0 {
		c.StatsIntervalMS = d.StatsIntervalMS
	}
	if c.GCIntervalMS == 0 {
		c.GCIntervalMS = d.GCIntervalMS
	}
}

// Load reads and decodes config.json from path, applying defaults and
// validating the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Timeout returns the per-probe deadline as a time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// HasExportFormat reports whether format is among the configured export
// formats.
func (c *Config) HasExportFormat(format string) bool {
	for _, f := range c.ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}
