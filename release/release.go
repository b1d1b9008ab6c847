// Package release names releases and decides which of them to keep.
package release

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scylladb/go-set/strset"
)

// IDFormat is the time layout of a release ID.
const IDFormat = "20060102150405"

// ID identifies a release by its UTC creation time, to the second. IDs
// sort in creation order.
type ID string

// NewID returns the ID of a release created at t.
func NewID(t time.Time) ID {
	return ID(t.UTC().Format(IDFormat))
}

// ParseID checks that s is a valid release ID.
func ParseID(s string) (ID, error) {
	if _, err := time.Parse(IDFormat, s); err != nil || len(s) != len(IDFormat) {
		return "", fmt.Errorf("invalid release id %q", s)
	}
	return ID(s), nil
}

// Time returns the creation time of the release.
func (id ID) Time() time.Time {
	t, _ := time.Parse(IDFormat, string(id))
	return t
}

// Friendly renders the creation time for display.
func (id ID) Friendly() string {
	return id.Time().Format("Mon, Jan 02, 2006 15:04:05 UTC")
}

func (id ID) String() string {
	return string(id)
}

// Set is an ordered list of releases, oldest first.
type Set []ID

// NewSet builds a Set from directory names, skipping anything that is not
// a release, such as partially extracted releases.
func NewSet(names []string) Set {
	var s Set
	for _, name := range names {
		if id, err := ParseID(name); err == nil {
			s = append(s, id)
		}
	}
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s
}

// Contains reports whether id is in s.
func (s Set) Contains(id ID) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= id })
	return i < len(s) && s[i] == id
}

// PartialName is the entry of the releases directory that release id is
// unpacked into before it is renamed into place.
func PartialName(id ID) string {
	return "." + string(id) + ".partial"
}

// Partials returns the releases among the entries of a releases
// directory that were left half unpacked.
func Partials(names []string) []ID {
	var ids []ID
	for _, name := range names {
		if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".partial") {
			continue
		}
		if id, err := ParseID(strings.TrimSuffix(name[1:], ".partial")); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Before returns the newest release older than id.
func (s Set) Before(id ID) (ID, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= id })
	if i == 0 {
		return "", false
	}
	return s[i-1], true
}

// Prune returns the releases to delete so that only the keep newest
// remain. The release current refers to is never returned, even when it
// falls outside the keep newest. The result is oldest first.
func (s Set) Prune(current ID, keep int) []ID {
	keepSet := strset.New()
	if current != "" {
		keepSet.Add(string(current))
	}
	for i := len(s) - 1; i >= 0 && len(s)-i <= keep; i-- {
		keepSet.Add(string(s[i]))
	}
	var del []ID
	for _, id := range s {
		if !keepSet.Has(string(id)) {
			del = append(del, id)
		}
	}
	return del
}
