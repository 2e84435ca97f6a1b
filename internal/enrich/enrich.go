// Package enrich turns a parsed SLP status into the EnrichedServer record
// described in spec.md §3/§4.5: field extraction, MOTD normalization,
// modded-server detection, quality scoring, and a best-effort country hint.
package enrich

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/zhaiiker/mcscan/internal/addrgen"
	"github.com/zhaiiker/mcscan/internal/geoip"
	"github.com/zhaiiker/mcscan/internal/slp"
)

// formatCodePattern matches Minecraft's "§"-prefixed color/format codes.
var formatCodePattern = regexp.MustCompile(`§[0-9a-fk-or]`)

// moddedIndicators are lowercase substrings of a raw status payload that
// suggest a modded or plugin-backed server.
var moddedIndicators = []string{
	"forge", "fabric", "bukkit", "spigot", "paper", "sponge",
	"mod", "plugin", "cauldron", "mohist", "magma",
}

// versionQualityMarkers are version substrings that earn a quality-score
// bonus for being recent.
var versionQualityMarkers = []string{"1.21", "1.20", "1.19", "1.18"}

// Server is the enriched, emit-ready record for one successfully parsed
// probe.
type Server struct {
	Address        addrgen.Address    `json:"ip"`
	Port           uint16             `json:"port"`
	Timestamp      time.Time          `json:"timestamp"`
	ResponseTimeMS int64              `json:"responseTimeMs"`
	Version        string             `json:"version"`
	Protocol       int                `json:"protocol"`
	PlayersOnline  int                `json:"playersOnline"`
	PlayersMax     int                `json:"playersMax"`
	PlayersSample  []slp.PlayerSample `json:"playersSample,omitempty"`
	Description    string             `json:"description"` // raw, unstripped
	MOTD           string             `json:"motd"`        // stripped of format codes, "No description" if empty
	FaviconPresent bool               `json:"faviconPresent"`
	Modded         bool               `json:"modded"`
	Country        string             `json:"country"`
	QualityScore   int                `json:"qualityScore"`
}

// Options configures optional enrichment behavior.
type Options struct {
	// Resolver performs the best-effort hostname→country lookup. If nil,
	// Country is always "Unknown".
	Resolver geoip.Resolver
	// ResolveTimeout bounds the hostname lookup so it cannot delay
	// dispatcher progress beyond its own deadline.
	ResolveTimeout time.Duration
}

// Enrich builds a Server from a parsed status response. It is pure aside
// from the bounded, best-effort hostname resolution: on failure or
// timeout, Country is geoip.Unknown and enrichment proceeds regardless.
func Enrich(ctx context.Context, addr addrgen.Address, port uint16, status slp.RawStatus, responseTimeMS int64, opts Options) Server {
	version := status.Version.Name
	if version == "" {
		version = "Unknown"
	}

	rawDescription := status.Description.Flatten()
	motd := formatCodePattern.ReplaceAllString(rawDescription, "")
	if motd == "" {
		motd = "No description"
	}

	s := Server{
		Address:        addr,
		Port:           port,
		Timestamp:      time.Now(),
		ResponseTimeMS: responseTimeMS,
		Version:        version,
		Protocol:       status.Version.Protocol,
		PlayersOnline:  status.Players.Online,
		PlayersMax:     status.Players.Max,
		PlayersSample:  status.Players.Sample,
		Description:    rawDescription,
		MOTD:           motd,
		FaviconPresent: status.FaviconPresent,
		Modded:         isModded(status.Raw),
		Country:        geoip.Unknown,
	}

	s.QualityScore = qualityScore(s)

	if opts.Resolver != nil {
		s.Country = resolveCountry(ctx, opts.Resolver, addr.String(), opts.ResolveTimeout)
	}

	return s
}

// isModded reports whether the raw JSON payload contains any modded-server
// indicator, case-insensitively.
func isModded(raw []byte) bool {
	lower := strings.ToLower(string(raw))
	for _, indicator := range moddedIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// qualityScore implements the saturating bonus sum of spec.md §3.
func qualityScore(s Server) int {
	score := 0
	if s.PlayersOnline > 0 {
		score += 20
	}
	if s.PlayersOnline > 10 {
		score += 20
	}
	if s.PlayersOnline > 50 {
		score += 20
	}
	if len(s.MOTD) > 10 {
		score += 15
	}
	for _, marker := range versionQualityMarkers {
		if strings.Contains(s.Version, marker) {
			score += 15
			break
		}
	}
	if s.ResponseTimeMS < 100 {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

// resolveCountry bounds the resolver call to opts.ResolveTimeout (default
// 1s) so a slow or hanging PTR lookup never blocks the caller beyond that
// deadline.
func resolveCountry(ctx context.Context, resolver geoip.Resolver, ip string, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = time.Second
	}

	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct{ country string }
	resultCh := make(chan result, 1)
	go func() {
		resultCh <- result{country: resolver.Country(lookupCtx, ip)}
	}()

	select {
	case r := <-resultCh:
		return r.country
	case <-lookupCtx.Done():
		return geoip.Unknown
	}
}
