package language

import (
	"sort"
	"strings"
)

// Fallback is used when a participant has no usable target preference.
const Fallback = "en"

// Normalize reduces a language tag to its lower-cased primary subtag.
// "pt-BR" becomes "pt", "EN" becomes "en". Empty or whitespace-only
// input normalizes to Fallback.
func Normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Fallback
	}

	tag = strings.ToLower(tag)
	if idx := strings.Index(tag, "-"); idx >= 0 {
		tag = tag[:idx]
	}

	return tag
}

// Set is a set of normalized language codes. The zero value is not usable;
// construct with NewSet.
type Set struct {
	codes map[string]struct{}
}

// NewSet creates a set containing the given tags, normalizing each.
func NewSet(tags ...string) *Set {
	s := &Set{codes: make(map[string]struct{}, len(tags))}
	for _, t := range tags {
		s.Add(t)
	}
	return s
}

// Add normalizes the tag and inserts it.
func (s *Set) Add(tag string) {
	s.codes[Normalize(tag)] = struct{}{}
}

// Contains reports whether the normalized form of tag is in the set.
func (s *Set) Contains(tag string) bool {
	_, ok := s.codes[Normalize(tag)]
	return ok
}

// Len returns the number of codes in the set.
func (s *Set) Len() int {
	return len(s.codes)
}

// Equal reports whether both sets hold exactly the same codes,
// regardless of insertion order.
func (s *Set) Equal(other *Set) bool {
	if other == nil || len(s.codes) != len(other.codes) {
		return false
	}
	for code := range s.codes {
		if _, ok := other.codes[code]; !ok {
			return false
		}
	}
	return true
}

// Codes returns the codes in sorted order.
func (s *Set) Codes() []string {
	out := make([]string, 0, len(s.codes))
	for code := range s.codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// String returns a comma-joined sorted representation, for logging.
func (s *Set) String() string {
	return strings.Join(s.Codes(), ",")
}
