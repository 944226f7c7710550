package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	DefaultPrefix = "EV25DEZ"
	DefaultSize   = 100
)

// BadgeID identifies a single badge of an event catalog, ex. "EV25DEZ07".
type BadgeID string

// Set is an unordered, deduplicated collection of badge ids.
type Set map[BadgeID]struct{}

func NewSet(ids ...BadgeID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Add(id BadgeID) {
	s[id] = struct{}{}
}

func (s Set) Has(id BadgeID) bool {
	_, ok := s[id]
	return ok
}

// Union returns a new set holding the members of every given set.
func Union(sets ...Set) Set {
	out := Set{}
	for _, s := range sets {
		for id := range s {
			out[id] = struct{}{}
		}
	}
	return out
}

// Catalog is the ordered list of badges awardable during one event. It is
// built once and never mutated afterwards, so it is safe to share between
// goroutines.
type Catalog struct {
	prefix  string
	ids     []BadgeID
	index   map[BadgeID]int
	pattern *regexp.Regexp
	// widest index that may appear after the prefix, ex. 3 for "EV25DEZ100"
	maxDigits int
}

// New generates a catalog of `size` badges named <prefix><index> where index
// starts at 1 and is zero padded to two digits.
func New(prefix string, size int) (Catalog, error) {
	if prefix == "" {
		return Catalog{}, fmt.Errorf("catalog: empty prefix")
	}
	if size <= 0 {
		return Catalog{}, fmt.Errorf("catalog: size must be positive, got %d", size)
	}

	ids := make([]BadgeID, size)
	index := make(map[BadgeID]int, size)
	for i := 0; i < size; i++ {
		id := BadgeID(fmt.Sprintf("%s%02d", prefix, i+1))
		ids[i] = id
		index[id] = i
	}

	return Catalog{
		prefix:    prefix,
		ids:       ids,
		index:     index,
		pattern:   regexp.MustCompile(regexp.QuoteMeta(prefix) + `\d+`),
		maxDigits: max(2, len(strconv.Itoa(size))),
	}, nil
}

// MustNew is New but it panics on invalid parameters.
func MustNew(prefix string, size int) Catalog {
	c, err := New(prefix, size)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Catalog) Prefix() string {
	return c.prefix
}

func (c Catalog) Len() int {
	return len(c.ids)
}

// IDs returns a copy of the catalog in catalog order.
func (c Catalog) IDs() []BadgeID {
	out := make([]BadgeID, len(c.ids))
	copy(out, c.ids)
	return out
}

func (c Catalog) Index(id BadgeID) (int, bool) {
	i, ok := c.index[id]
	return i, ok
}

func (c Catalog) Contains(id BadgeID) bool {
	_, ok := c.index[id]
	return ok
}

// Pattern matches the prefix followed by any run of digits, callers must still
// pass each match through Match to reject wrong digit counts.
func (c Catalog) Pattern() *regexp.Regexp {
	return c.pattern
}

// Match reports whether token is exactly a badge id shaped like the ones of
// this catalog: the prefix followed by two digits (or, for catalogs of 100 and
// more, up to as many digits as the catalog size). The token does not need to
// be a member of the catalog.
func (c Catalog) Match(token string) (BadgeID, bool) {
	digits, ok := strings.CutPrefix(token, c.prefix)
	if !ok {
		return "", false
	}
	if len(digits) < 2 || len(digits) > c.maxDigits {
		return "", false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return BadgeID(token), true
}
