package addrgen

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExcludedRangeRejection(t *testing.T) {
	gen := New(Config{
		Mode:          ModeRandom,
		ExcludeRanges: []CIDR{MustParseCIDR("10.0.0.0/8")},
		Rand:          rand.New(rand.NewSource(1)),
	})

	for i := 0; i < 10000; i++ {
		addr, ok := gen.Next()
		require.True(t, ok)
		require.NotEqual(t, byte(10), addr[0])
	}
}

func TestRangeModeDrawsWithinConfiguredCIDRs(t *testing.T) {
	block := MustParseCIDR("203.0.113.0/24")
	gen := New(Config{
		Mode:     ModeRange,
		IPRanges: []CIDR{block},
		Rand:     rand.New(rand.NewSource(2)),
	})

	for i := 0; i < 500; i++ {
		addr, ok := gen.Next()
		require.True(t, ok)
		require.True(t, block.Contains(addr))
	}
}

func TestTargetedModeExhaustionWithEmptyList(t *testing.T) {
	gen := New(Config{Mode: ModeTargeted, Rand: rand.New(rand.NewSource(3))})
	_, ok := gen.Next()
	require.False(t, ok)
}

func TestClusterFallsThroughWhenBaseExcluded(t *testing.T) {
	gen := New(Config{
		Mode:          ModeSmartRandom,
		ExcludeRanges: []CIDR{MustParseCIDR("10.0.0.0/8")},
		Rand:          rand.New(rand.NewSource(4)),
	})
	gen.NoteFound(Address{10, 1, 2, 3})

	for i := 0; i < 1000; i++ {
		addr := gen.cluster()
		require.NotEqual(t, byte(10), addr[0])
	}
}

type fakeSet map[Address]struct{}

func (f fakeSet) Contains(a Address) bool { _, ok := f[a]; return ok }

func TestUniformRandomSkipsSeenAndBlacklisted(t *testing.T) {
	seen := fakeSet{{8, 8, 8, 8}: {}}
	gen := New(Config{
		Mode: ModeRandom,
		Seen: seen,
		Rand: rand.New(rand.NewSource(5)),
	})
	for i := 0; i < 1000; i++ {
		addr, ok := gen.Next()
		require.True(t, ok)
		require.NotEqual(t, Address{8, 8, 8, 8}, addr)
	}
}

func TestCIDRContainsAndMask(t *testing.T) {
	c := MustParseCIDR("192.168.1.0/24")
	require.True(t, c.Contains(Address{192, 168, 1, 42}))
	require.False(t, c.Contains(Address{192, 168, 2, 42}))
	require.Equal(t, Address{192, 168, 1, 0}, c.Mask())
}

func TestAddressUint32RoundTrip(t *testing.T) {
	for _, a := range []Address{{0, 0, 0, 0}, {255, 255, 255, 255}, {203, 0, 113, 17}} {
		require.Equal(t, a, FromUint32(a.Uint32()))
	}
}

func TestSubnet24Key(t *testing.T) {
	a := Address{198, 51, 100, 5}
	b := Address{198, 51, 100, 240}
	c := Address{198, 51, 101, 1}
	require.Equal(t, a.Subnet24(), b.Subnet24())
	require.NotEqual(t, a.Subnet24(), c.Subnet24())
}
