package geoip

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountryFromHostnameFirstMatchWins(t *testing.T) {
	require.Equal(t, "United States", CountryFromHostname("host.us-east-1.example.com"))
	require.Equal(t, "Germany", CountryFromHostname("srv1.de.hosting.example"))
	require.Equal(t, "Japan", CountryFromHostname("mc.jp.example.net"))
}

func TestCountryFromHostnameCaseInsensitive(t *testing.T) {
	require.Equal(t, "Russia", CountryFromHostname("HOST.RU.EXAMPLE.COM"))
}

func TestCountryFromHostnameNoMatchIsUnknown(t *testing.T) {
	require.Equal(t, Unknown, CountryFromHostname("mystery.example.xx"))
}

// countingResolver counts how many times Country is called, so tests can
// assert the cache actually avoided a repeat lookup.
type countingResolver struct {
	calls   int
	country string
}

func (r *countingResolver) Country(ctx context.Context, ip string) string {
	r.calls++
	return r.country
}

func TestCachingResolverSkipsRepeatLookups(t *testing.T) {
	inner := &countingResolver{country: "Germany"}
	path := filepath.Join(t.TempDir(), "geoip-lookups.json")

	r, err := NewCachingResolver(inner, path)
	require.NoError(t, err)

	ctx := context.Background()
	require.Equal(t, "Germany", r.Country(ctx, "203.0.113.5"))
	require.Equal(t, "Germany", r.Country(ctx, "203.0.113.5"))
	require.Equal(t, 1, inner.calls, "second lookup should have been served from cache")
}

func TestCachingResolverPersistsAcrossInstances(t *testing.T) {
	inner := &countingResolver{country: "Japan"}
	path := filepath.Join(t.TempDir(), "geoip-lookups.json")

	r, err := NewCachingResolver(inner, path)
	require.NoError(t, err)
	require.Equal(t, "Japan", r.Country(context.Background(), "198.51.100.9"))
	require.NoError(t, r.Save())

	r2, err := NewCachingResolver(inner, path)
	require.NoError(t, err)
	require.Equal(t, "Japan", r2.Country(context.Background(), "198.51.100.9"))
	require.Equal(t, 1, inner.calls, "reloaded cache should still have the persisted entry")
}
