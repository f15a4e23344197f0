package dedupe

import "strings"

// Set remembers composite keys. The first caller to Add a key wins; later
// Adds of the same key report false.
type Set struct {
	items map[string]struct{}
}

// NewSet creates a set sized for the expected number of keys.
func NewSet(capacity int) *Set {
	if capacity < 0 {
		capacity = 0
	}
	return &Set{items: make(map[string]struct{}, capacity)}
}

// Key joins parts with a separator that cannot appear in dates or sanitized keywords.
func Key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// Add records key and reports whether it was new.
func (s *Set) Add(key string) bool {
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = struct{}{}
	return true
}

// Unique returns values with duplicates removed, keeping the first occurrence.
func Unique(values []string) []string {
	set := NewSet(len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if set.Add(v) {
			out = append(out, v)
		}
	}
	return out
}
