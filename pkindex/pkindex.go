// Package pkindex maintains the in-memory mapping from a record's primary
// key to its record number. It exists purely as an acceleration structure:
// the data file on disk remains the single source of truth, and the index
// can always be rebuilt from it by a full scan (see engine.Open).
package pkindex

import "strings"

// Key is an ordered tuple of trimmed primary-key column values. Two Keys
// are equal — and hash the same — iff every trimmed value matches
// position-for-position; an empty trimmed value is a valid, distinct
// component, not a wildcard.
type Key struct {
	values string // pre-joined, so Key is comparable and usable as a map key
}

// String renders the key's joined components for diagnostics and error
// messages; it is not used for comparison.
func (k Key) String() string {
	return strings.ReplaceAll(k.values, sep, "/")
}

const sep = "\x00"

// NewKey builds a Key from column values in schema order. Each value is
// trimmed before joining, matching the trimming datafile.Row.GetString
// already applies on decode.
func NewKey(values []string) Key {
	trimmed := make([]string, len(values))
	for i, v := range values {
		trimmed[i] = strings.TrimSpace(v)
	}
	return Key{values: strings.Join(trimmed, sep)}
}

// Index maps primary keys to record numbers. It is not itself
// synchronized: callers (engine.Engine) hold their own lock around every
// access, since index mutations must stay atomic with the file write they
// accompany.
type Index struct {
	byKey map[Key]int
}

// New returns an empty index.
func New() *Index {
	return &Index{byKey: make(map[Key]int)}
}

// Insert records that key lives at recNo, iff key is not already present.
// It reports whether the insert happened; a false return means key is
// already bound to some other (or the same) record number, and that
// binding is left as it was.
func (idx *Index) Insert(key Key, recNo int) bool {
	if _, exists := idx.byKey[key]; exists {
		return false
	}
	idx.byKey[key] = recNo
	return true
}

// Remove deletes key from the index iff it is present. This is the
// corrected form of the original source's PrimaryKeyIndice.remove, whose
// condition was inverted (it removed only when the key was ABSENT,
// silently leaking every deleted key into the map forever). Remove here
// is a straightforward remove-iff-present.
func (idx *Index) Remove(key Key) {
	delete(idx.byKey, key)
}

// Lookup returns the record number bound to key, if any.
func (idx *Index) Lookup(key Key) (int, bool) {
	recNo, ok := idx.byKey[key]
	return recNo, ok
}

// Len returns the number of keys currently indexed.
func (idx *Index) Len() int {
	return len(idx.byKey)
}

// Clear empties the index in place, e.g. before a full-scan rebuild.
func (idx *Index) Clear() {
	idx.byKey = make(map[Key]int)
}
