package recurrence

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/twmb/murmur3"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Result is a memoized Next outcome. OK=false records an exhausted recurrence.
type Result struct {
	At time.Time
	OK bool
}

// Cache memoizes Next results by structural key.
type Cache interface {
	Get(key uint64) (Result, bool)
	Set(key uint64, res Result)
}

const (
	// DefaultCacheTTL bounds how long a memoized result is reused.
	DefaultCacheTTL = 60 * time.Second

	// DefaultCacheSize is the memory bound of FreeCache in bytes.
	DefaultCacheSize = 1 << 20
)

// FreeCache is a size-bounded TTL cache backed by freecache. Entries expire
// after ttl and the oldest entries are evicted when the memory bound is hit.
type FreeCache struct {
	cache      *freecache.Cache
	ttlSeconds int
}

// NewFreeCache creates a cache holding at most sizeBytes of entries.
// freecache enforces a 512KiB minimum.
func NewFreeCache(sizeBytes int, ttl time.Duration) *FreeCache {
	if sizeBytes <= 0 {
		sizeBytes = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &FreeCache{cache: freecache.NewCache(sizeBytes), ttlSeconds: secs}
}

func (f *FreeCache) Get(key uint64) (Result, bool) {
	var k [8]byte
	binary.LittleEndian.PutUint64(k[:], key)
	data, err := f.cache.Get(k[:])
	if err != nil || len(data) != 9 {
		return Result{}, false
	}
	if data[0] == 0 {
		return Result{}, true
	}
	nanos := int64(binary.LittleEndian.Uint64(data[1:]))
	return Result{At: time.Unix(0, nanos).UTC(), OK: true}, true
}

func (f *FreeCache) Set(key uint64, res Result) {
	var k [8]byte
	binary.LittleEndian.PutUint64(k[:], key)
	var v [9]byte
	if res.OK {
		v[0] = 1
		binary.LittleEndian.PutUint64(v[1:], uint64(res.At.UnixNano()))
	}
	_ = f.cache.Set(k[:], v[:], f.ttlSeconds)
}

// EntryCount returns the number of live entries.
func (f *FreeCache) EntryCount() int64 {
	return f.cache.EntryCount()
}

// cacheKey hashes the recurrence definition, the from-instant rounded to the
// minute in the target zone, and the zone itself.
func cacheKey(r domain.Recurrence, from time.Time, tz string, loc *time.Location) uint64 {
	off := append([]int(nil), r.OffDays...)
	sort.Ints(off)

	var b strings.Builder
	b.WriteString(strings.Join(r.SendTimes, ","))
	b.WriteByte('|')
	b.WriteString(r.Timezone)
	b.WriteByte('|')
	for i, d := range off {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(d))
	}
	b.WriteByte('|')
	b.WriteString(r.StartDate)
	b.WriteByte('|')
	b.WriteString(r.EndDate)
	b.WriteByte('|')
	b.WriteString(from.In(loc).Truncate(time.Minute).Format("2006-01-02T15:04"))
	b.WriteByte('|')
	b.WriteString(tz)
	return murmur3.Sum64([]byte(b.String()))
}
