package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Resolver maps tenant zone names to locations. Unknown names resolve to
// the fallback zone instead of failing.
type Resolver struct {
	mu           sync.Mutex
	fallback     *time.Location
	fallbackName string
	cache        map[string]*time.Location
	invalid      map[string]struct{}
}

// NewResolver builds a Resolver whose fallback is defaultZone, or UTC when
// defaultZone itself cannot be loaded.
func NewResolver(defaultZone string) *Resolver {
	r := &Resolver{
		fallback:     time.UTC,
		fallbackName: "UTC",
		cache:        map[string]*time.Location{},
		invalid:      map[string]struct{}{},
	}
	if loc, err := loadZone(defaultZone); err == nil && loc != nil {
		r.fallback = loc
		r.fallbackName = loc.String()
	}
	return r
}

func (r *Resolver) Fallback() *time.Location {
	return r.fallback
}

// Resolve returns the location for name and whether the fallback was used.
func (r *Resolver) Resolve(name string) (*time.Location, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return r.fallback, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if loc, ok := r.cache[name]; ok {
		return loc, false
	}
	if _, ok := r.invalid[name]; ok {
		return r.fallback, true
	}
	loc, err := loadZone(name)
	if err != nil {
		r.invalid[name] = struct{}{}
		return r.fallback, true
	}
	r.cache[name] = loc
	return loc, false
}

// ResolveOrFallback is Resolve without the fallback flag.
func (r *Resolver) ResolveOrFallback(name string) *time.Location {
	loc, _ := r.Resolve(name)
	return loc
}

// loadZone accepts IANA names plus fixed offsets such as "UTC-5",
// "GMT+05:30" or "+0700".
func loadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("empty zone name")
	}
	if offset, ok := parseFixedOffset(name); ok {
		return time.FixedZone(name, offset), nil
	}
	return time.LoadLocation(name)
}

func parseFixedOffset(name string) (int, bool) {
	s := strings.ToUpper(name)
	for _, prefix := range []string{"UTC", "GMT"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	if s == "" || (s[0] != '+' && s[0] != '-') {
		return 0, false
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	s = s[1:]

	var hours, minutes string
	switch {
	case strings.Contains(s, ":"):
		parts := strings.SplitN(s, ":", 2)
		hours, minutes = parts[0], parts[1]
	case len(s) == 4:
		hours, minutes = s[:2], s[2:]
	default:
		hours, minutes = s, "0"
	}
	h, err := strconv.Atoi(hours)
	if err != nil || h < 0 || h > 14 {
		return 0, false
	}
	m, err := strconv.Atoi(minutes)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return sign * (h*3600 + m*60), true
}
