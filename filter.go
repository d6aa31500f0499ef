package harvester

import "strings"

// SkipList is a set of identifiers that must never be fetched.
type SkipList map[string]struct{}

// NewSkipList builds a skip list from identifiers, blank entries are ignored.
func NewSkipList(ids ...string) SkipList {
	s := make(SkipList, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// ParseSkipList reads a comma separated list of identifiers.
func ParseSkipList(s string) SkipList {
	return NewSkipList(strings.Split(s, ",")...)
}

// Contains reports membership.
func (s SkipList) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// RecordFilter decides which identifiers are skipped and which records are
// excluded. Both retrieval methods share it.
type RecordFilter struct {
	skip           SkipList
	excludeDeleted bool
}

func newRecordFilter(skip SkipList, excludeDeleted bool) RecordFilter {
	return RecordFilter{skip: skip, excludeDeleted: excludeDeleted}
}

// ShouldSkip reports whether the identifier is on the skip list.
func (f RecordFilter) ShouldSkip(id string) bool {
	return f.skip.Contains(id)
}

// ShouldExclude reports whether a retrieved header or record is deleted and
// deleted records were asked to be left out.
func (f RecordFilter) ShouldExclude(h Header) bool {
	return f.excludeDeleted && h.Deleted()
}
