// Package path implements the keyspace's depth-tagging scheme: a
// bijective encoding of hierarchical paths that lets a caller scope a
// range query to a chosen set of tree depths using a single backend
// round trip, instead of recursing level by level over the network.
//
// A path such as "/a/b/c" is stored under the tagged key
// "/001:a/002:b/003:c" — every segment is prefixed with its absolute
// depth, zero-padded to three digits. Listing the children of "/a/b"
// only requires one Backend.List call against the tagged prefix
// "/001:a/002:b/"; the result set still contains deeper descendants
// (e.g. "/001:a/002:b/003:c/004:d"), but FilterDepths can tell a depth-d
// descendant from one nested further by counting tagged segments, with
// no further backend calls. A byte-range bound alone cannot make this
// distinction — any key nested under a given depth marker shares that
// marker's byte prefix regardless of how much deeper it goes — so the
// client-side counting pass in FilterDepths is load-bearing, not an
// optimization.
package path

import (
	"fmt"
	"strconv"
	"strings"
)

const separator = ":"

// maxDepth bounds the zero-padded width of the depth marker. A path
// nested deeper than 999 segments is rejected as invalid rather than
// silently truncating the marker width, which would break the
// bijection between tag and untag.
const maxDepth = 999

// Segments splits a clean, slash-separated path into its non-empty
// segments. "/a/b/c" and "a/b/c" both yield ["a", "b", "c"].
func Segments(p string) []string {
	parts := strings.Split(p, "/")
	segs := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// Depth returns the number of segments in p.
func Depth(p string) int {
	return len(Segments(p))
}

// Tag encodes p into its tagged form, prefixing every segment with its
// 1-based absolute depth. The result always starts with "/". A leading
// or trailing slash is accepted; an empty segment between two others
// ("/a//b") is rejected.
func Tag(p string) (string, error) {
	if parts := strings.Split(p, "/"); len(parts) > 2 {
		for _, inner := range parts[1 : len(parts)-1] {
			if inner == "" {
				return "", fmt.Errorf("invalid path %q: empty path segment", p)
			}
		}
	}

	segs := Segments(p)
	if len(segs) > maxDepth {
		return "", fmt.Errorf("path exceeds maximum depth of %d: %s", maxDepth, p)
	}

	var b strings.Builder
	for i, seg := range segs {
		if err := validateSegment(seg); err != nil {
			return "", fmt.Errorf("invalid path %q: %w", p, err)
		}
		b.WriteByte('/')
		fmt.Fprintf(&b, "%03d%s%s", i+1, separator, seg)
	}
	if b.Len() == 0 {
		return "/", nil
	}
	return b.String(), nil
}

// Untag decodes a tagged key back into its plain path form, the
// inverse of Tag. Untag(Tag(p)) == p for every valid p.
func Untag(tagged string) (string, error) {
	segs := Segments(tagged)

	var b strings.Builder
	for i, seg := range segs {
		idx := strings.Index(seg, separator)
		if idx < 0 {
			return "", fmt.Errorf("malformed tagged segment %q: missing depth marker", seg)
		}
		depthStr, name := seg[:idx], seg[idx+1:]
		depth, err := strconv.Atoi(depthStr)
		if err != nil {
			return "", fmt.Errorf("malformed tagged segment %q: %w", seg, err)
		}
		if depth != i+1 {
			return "", fmt.Errorf("malformed tagged segment %q: expected depth %d, got %d", seg, i+1, depth)
		}
		b.WriteByte('/')
		b.WriteString(name)
	}
	if b.Len() == 0 {
		return "/", nil
	}
	return b.String(), nil
}

// TaggedPrefix returns the tagged prefix a single Backend.List call
// should use to retrieve every key at or below p, in one round trip.
func TaggedPrefix(p string) (string, error) {
	tagged, err := Tag(p)
	if err != nil {
		return "", err
	}
	if tagged == "/" {
		return "/", nil
	}
	return tagged + "/", nil
}

// Recurse selects which relative depths below a List query's path a
// result may be returned from. Depths holds offsets past the direct
// child level (0 is the direct child itself, 1 its children, and so
// on); the zero value matches nothing. All, when set, ignores Depths
// and matches every depth below the queried path.
type Recurse struct {
	Depths []int
	All    bool
}

// DirectChildren matches only the immediate children of the queried
// path — recurse=0 in spec terms.
func DirectChildren() Recurse {
	return Recurse{Depths: []int{0}}
}

// MaxDepth matches the direct children of the queried path and every
// descendant down to n levels further — recurse=n in spec terms.
func MaxDepth(n int) Recurse {
	depths := make([]int, n+1)
	for i := range depths {
		depths[i] = i
	}
	return Recurse{Depths: depths}
}

// AtDepths matches exactly the given relative depths, for callers that
// want a non-contiguous set rather than everything up to a maximum.
func AtDepths(depths ...int) Recurse {
	return Recurse{Depths: append([]int(nil), depths...)}
}

// AllDepths matches every descendant of the queried path, at any
// depth.
func AllDepths() Recurse {
	return Recurse{All: true}
}

// includes reports whether relDepth (a depth offset past the direct
// child level, as used by Depths) is selected by r.
func (r Recurse) includes(relDepth int) bool {
	if relDepth < 0 {
		return false
	}
	if r.All {
		return true
	}
	for _, d := range r.Depths {
		if d == relDepth {
			return true
		}
	}
	return false
}

// FilterDepths takes tagged keys returned from a single List call
// against TaggedPrefix(parent) and returns the plain, untagged paths of
// only the descendants of parent whose relative depth recurse selects,
// discarding the rest without any further backend round trips.
func FilterDepths(parent string, taggedKeys []string, recurse Recurse) ([]string, error) {
	parentDepth := Depth(parent)

	matched := make([]string, 0, len(taggedKeys))
	for _, tk := range taggedKeys {
		plain, err := Untag(tk)
		if err != nil {
			return nil, fmt.Errorf("decoding tagged key %q: %w", tk, err)
		}
		if recurse.includes(Depth(plain) - parentDepth - 1) {
			matched = append(matched, plain)
		}
	}
	return matched, nil
}

// InScope reports whether candidate is a descendant of parent at a
// relative depth recurse selects. Unlike FilterDepths, it works
// directly on plain paths, for callers (pkg/txn's staged-write merge)
// that never tagged candidate in the first place.
func InScope(parent, candidate string, recurse Recurse) bool {
	parentSegs := Segments(parent)
	candSegs := Segments(candidate)
	if len(candSegs) <= len(parentSegs) {
		return false
	}
	for i, s := range parentSegs {
		if candSegs[i] != s {
			return false
		}
	}
	return recurse.includes(len(candSegs) - len(parentSegs) - 1)
}

// validateSegment enforces the keyspace's path grammar: a segment may
// only contain letters, digits, underscore and hyphen, and must be
// non-empty. This also guarantees the separator character can never
// appear in user-supplied segment content, which is what keeps Tag
// bijective.
func validateSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("empty path segment")
	}
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return fmt.Errorf("disallowed character %q in segment %q", r, seg)
		}
	}
	return nil
}

// Clean joins segments into a canonical absolute path with a single
// leading slash and no trailing slash (except for the root path "/").
func Clean(segs ...string) string {
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}

// Parent returns the path one level up from p, and ok=false if p is
// already the root.
func Parent(p string) (string, bool) {
	segs := Segments(p)
	if len(segs) == 0 {
		return "", false
	}
	return Clean(segs[:len(segs)-1]...), true
}
