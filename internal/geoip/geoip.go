// Package geoip provides a country hint for an enriched server from its
// reverse-DNS hostname, per spec.md §3's hostname-substring match table.
package geoip

import (
	"context"
	"net"
	"strings"

	"github.com/zhaiiker/mcscan/internal/cache"
)

// Resolver maps an IP address to a best-effort country name. Country is
// "Unknown" when resolution fails, times out, or no table entry matches.
// A MaxMind-backed implementation (oschwald/maxminddb-golang) can satisfy
// this interface as a drop-in replacement; see DESIGN.md.
type Resolver interface {
	Country(ctx context.Context, ip string) string
}

// Unknown is the country value used whenever no hostname match is found.
const Unknown = "Unknown"

// entry is one row of the hostname-substring match table.
type entry struct {
	substr  string
	country string
}

// table is checked in order; first match wins.
var table = []entry{
	{"us", "United States"},
	{"uk", "United Kingdom"},
	{"de", "Germany"},
	{"fr", "France"},
	{"nl", "Netherlands"},
	{"au", "Australia"},
	{"ca", "Canada"},
	{"jp", "Japan"},
	{"kr", "South Korea"},
	{"br", "Brazil"},
	{"ru", "Russia"},
	{"cn", "China"},
}

// HostnameResolver resolves country by reverse-DNS lookup followed by a
// case-insensitive substring match against table.
type HostnameResolver struct{}

// NewHostnameResolver constructs the default Resolver.
func NewHostnameResolver() HostnameResolver {
	return HostnameResolver{}
}

// Country performs a PTR lookup bounded by ctx's deadline and matches the
// first hostname returned against the substring table. Any failure
// (lookup error, timeout, no match) yields Unknown.
func (HostnameResolver) Country(ctx context.Context, ip string) string {
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return Unknown
	}
	return CountryFromHostname(names[0])
}

// CachingResolver wraps a Resolver with an on-disk lookup cache, so a
// repeat scan of an already-seen address skips the reverse-DNS round trip
// entirely. The wrapped Resolver is consulted, and its result persisted,
// only on a cache miss.
type CachingResolver struct {
	inner Resolver
	store *cache.Cache
}

// NewCachingResolver loads (or creates) the lookup cache at path and
// wraps inner with it. The returned resolver's Save method should be
// called periodically (e.g. from the scanner's maintenance tick) to
// flush new entries to disk.
func NewCachingResolver(inner Resolver, path string) (*CachingResolver, error) {
	store, err := cache.Load(path)
	if err != nil {
		return nil, err
	}
	return &CachingResolver{inner: inner, store: store}, nil
}

// Country returns the cached country for ip if present, otherwise
// resolves via inner and caches the result.
func (r *CachingResolver) Country(ctx context.Context, ip string) string {
	if country, ok := r.store.Get(ip); ok {
		return country
	}
	country := r.inner.Country(ctx, ip)
	r.store.Put(ip, country, 0)
	return country
}

// Save flushes the lookup cache to disk.
func (r *CachingResolver) Save() error {
	return r.store.Save()
}

// CountryFromHostname applies the substring table directly to a hostname,
// with no network I/O; used both by HostnameResolver and directly in
// tests.
func CountryFromHostname(hostname string) string {
	lower := strings.ToLower(hostname)
	for _, e := range table {
		if strings.Contains(lower, e.substr) {
			return e.country
		}
	}
	return Unknown
}
