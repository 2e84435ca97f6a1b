package addrgen

import (
	"math/rand"
	"sync"
)

// Mode selects the candidate-generation strategy.
type Mode string

const (
	ModeSmartRandom Mode = "smart-random"
	ModeRandom      Mode = "random"
	ModeRange       Mode = "range"
	ModeTargeted    Mode = "targeted"
)

// maxRejectionAttempts bounds the uniform rejection-sampling loop; after
// this many misses the generator accepts any valid public address.
const maxRejectionAttempts = 32

// Membership is queried by the generator to avoid proposing addresses that
// have already been seen or blacklisted. Implemented by
// internal/sink.Sink and internal/ratelimit.Limiter respectively, kept as
// interfaces here to avoid an import cycle.
type Membership interface {
	Contains(Address) bool
}

// popularRanges piggybacks on a handful of well-known large allocations;
// per spec.md §4.1 these rarely yield Minecraft hosts but cost little to
// try as one of the smart-random sub-strategies.
var popularRanges = []CIDR{
	MustParseCIDR("1.0.0.0/8"),
	MustParseCIDR("8.0.0.0/8"),
	MustParseCIDR("24.0.0.0/8"),
	MustParseCIDR("50.0.0.0/8"),
	MustParseCIDR("66.0.0.0/8"),
	MustParseCIDR("73.0.0.0/8"),
	MustParseCIDR("99.0.0.0/8"),
	MustParseCIDR("104.0.0.0/8"),
	MustParseCIDR("174.0.0.0/8"),
	MustParseCIDR("198.0.0.0/8"),
}

// Config configures a Generator.
type Config struct {
	Mode           Mode
	IPRanges       []CIDR // used by range/targeted modes
	ExcludeRanges  []CIDR
	Seen           Membership
	Blacklist      Membership
	Rand           *rand.Rand // optional; defaults to a process-local source
	PopularRanges  []CIDR     // optional override of the built-in table
}

// Generator produces a lazy, effectively-infinite sequence of candidate
// addresses, per spec.md §4.1.
type Generator struct {
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand

	lastFound     Address
	haveLastFound bool
}

// New creates a Generator. Excluded ranges default to DefaultExcludedRanges
// when cfg.ExcludeRanges is nil.
func New(cfg Config) *Generator {
	if cfg.ExcludeRanges == nil {
		cfg.ExcludeRanges = DefaultExcludedRanges()
	}
	if cfg.PopularRanges == nil {
		cfg.PopularRanges = popularRanges
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Generator{cfg: cfg, rng: rng}
}

// NoteFound records the most recently discovered server's address, used by
// the smart-random cluster sub-strategy.
func (g *Generator) NoteFound(a Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastFound = a
	g.haveLastFound = true
}

// Next returns the next candidate address. ok is false only in targeted
// mode when the configured CIDR list is empty.
func (g *Generator) Next() (addr Address, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.cfg.Mode {
	case ModeRandom:
		return g.uniformRandom(), true
	case ModeRange:
		return g.drawFromRanges(g.cfg.IPRanges), true
	case ModeTargeted:
		return g.nextTargeted()
	default: // ModeSmartRandom and empty/unknown fall back to smart-random
		return g.smartRandom(), true
	}
}

func (g *Generator) smartRandom() Address {
	switch g.rng.Intn(3) {
	case 0:
		return g.uniformRandom()
	case 1:
		return g.cluster()
	default:
		return g.drawFromRanges(g.cfg.PopularRanges)
	}
}

// cluster copies the first three octets of the last-found server and picks
// octet 4 uniformly. Falls through to uniform random if there is no
// last-found server yet, or if the cluster base is itself excluded.
func (g *Generator) cluster() Address {
	if !g.haveLastFound {
		return g.uniformRandom()
	}
	base := g.lastFound
	candidate := Address{base[0], base[1], base[2], byte(g.rng.Intn(256))}
	if !IsPublic(candidate, g.cfg.ExcludeRanges) {
		return g.uniformRandom()
	}
	return candidate
}

// uniformRandom rejection-samples against excluded ranges, the seen-set,
// and the blacklist. After maxRejectionAttempts misses it draws up to
// maxRejectionAttempts more, checking exclusion only, and returns the
// first public one; if that second round also misses, the last draw is
// returned without any check.
func (g *Generator) uniformRandom() Address {
	var candidate Address
	for i := 0; i < maxRejectionAttempts; i++ {
		candidate = g.randomAddress()
		if g.accept(candidate) {
			return candidate
		}
	}
	// Exhausted attempts: find any publicly-routable address, ignoring
	// seen-set/blacklist membership, rather than returning a reserved one.
	for i := 0; i < maxRejectionAttempts; i++ {
		candidate = g.randomAddress()
		if IsPublic(candidate, g.cfg.ExcludeRanges) {
			return candidate
		}
	}
	return candidate
}

func (g *Generator) randomAddress() Address {
	var a Address
	for i := range a {
		a[i] = byte(g.rng.Intn(256))
	}
	return a
}

func (g *Generator) accept(a Address) bool {
	if !IsPublic(a, g.cfg.ExcludeRanges) {
		return false
	}
	if g.cfg.Seen != nil && g.cfg.Seen.Contains(a) {
		return false
	}
	if g.cfg.Blacklist != nil && g.cfg.Blacklist.Contains(a) {
		return false
	}
	return true
}

func (g *Generator) drawFromRanges(ranges []CIDR) Address {
	usable := make([]CIDR, 0, len(ranges))
	for _, c := range ranges {
		if !fullyExcluded(c, g.cfg.ExcludeRanges) {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return g.uniformRandom()
	}
	c := usable[g.rng.Intn(len(usable))]
	return g.randomHostIn(c)
}

func (g *Generator) randomHostIn(c CIDR) Address {
	hostBits := c.HostBits()
	if hostBits == 0 {
		return c.Base
	}
	mask := uint32(1)<<hostBits - 1
	host := uint32(g.rng.Int63()) & mask
	return FromUint32(c.Mask().Uint32() | host)
}

// nextTargeted draws a random host from a randomly chosen entry in the
// operator-supplied CIDR list each call, with replacement, indefinitely.
// It returns ok=false only when the list itself is empty.
func (g *Generator) nextTargeted() (Address, bool) {
	if len(g.cfg.IPRanges) == 0 {
		return Address{}, false
	}
	c := g.cfg.IPRanges[g.rng.Intn(len(g.cfg.IPRanges))]
	return g.randomHostIn(c), true
}

// fullyExcluded reports whether every address in c falls inside some
// excluded range (a coarse, prefix-equality check sufficient for the small
// fixed tables this scanner uses).
func fullyExcluded(c CIDR, excluded []CIDR) bool {
	for _, e := range excluded {
		if e.Prefix <= c.Prefix && e.Contains(c.Base) {
			return true
		}
	}
	return false
}
