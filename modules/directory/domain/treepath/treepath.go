package treepath

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Path is a materialized tree path: ancestor identifiers root-to-self, joined
// by Separator. Values are ltree-compatible, so the separator and the segment
// charset are fixed. The zero value is the empty path.
type Path struct {
	value string
}

const (
	Separator = "."

	// TombstoneMarker prefixes the last segment of a soft-deleted node's path.
	// The underscore keeps it outside the segment charset, so a marked segment
	// can never collide with a live identifier.
	TombstoneMarker = "deleted_"

	MinSegmentLength = 3
	MaxSegmentLength = 150
)

var (
	ErrInvalidFormat = errors.New("path segment has invalid format")

	segmentRegex    = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// NormalizeSegment trims the input and collapses inner whitespace runs to a
// single hyphen. Normalization does not validate; a hyphenated result still
// fails the charset check.
func NormalizeSegment(raw string) string {
	return whitespaceRegex.ReplaceAllString(strings.TrimSpace(raw), "-")
}

func validateSegment(raw string) (string, error) {
	segment := NormalizeSegment(raw)
	if segment == "" {
		return "", fmt.Errorf("%w: segment is empty", ErrInvalidFormat)
	}
	if len(segment) < MinSegmentLength || len(segment) > MaxSegmentLength {
		return "", fmt.Errorf("%w: segment %q must be between %d and %d characters",
			ErrInvalidFormat, segment, MinSegmentLength, MaxSegmentLength)
	}
	if !segmentRegex.MatchString(segment) {
		return "", fmt.Errorf("%w: segment %q must contain only latin letters and digits",
			ErrInvalidFormat, segment)
	}
	return segment, nil
}

// NewRoot builds a single-segment path for a tree root.
func NewRoot(segment string) (Path, error) {
	s, err := validateSegment(segment)
	if err != nil {
		return Path{}, err
	}
	return Path{value: s}, nil
}

// Child validates the segment and appends it below p.
func (p Path) Child(segment string) (Path, error) {
	s, err := validateSegment(segment)
	if err != nil {
		return Path{}, err
	}
	if p.IsZero() {
		return Path{}, fmt.Errorf("%w: parent path is empty", ErrInvalidFormat)
	}
	return Path{value: p.value + Separator + s}, nil
}

// Parse restores a path read from storage. Stored paths are trusted shape-wise
// (they may carry tombstone markers), only emptiness is rejected.
func Parse(value string) (Path, error) {
	if strings.TrimSpace(value) == "" {
		return Path{}, fmt.Errorf("%w: path is empty", ErrInvalidFormat)
	}
	return Path{value: value}, nil
}

func (p Path) String() string { return p.value }

func (p Path) IsZero() bool { return p.value == "" }

func (p Path) Segments() []string {
	if p.IsZero() {
		return nil
	}
	return strings.Split(p.value, Separator)
}

// Depth is the number of ancestors: segment count minus one.
func (p Path) Depth() int {
	return len(p.Segments()) - 1
}

func (p Path) LastSegment() string {
	segments := p.Segments()
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// Parent returns the path one level up; ok is false for roots.
func (p Path) Parent() (Path, bool) {
	idx := strings.LastIndex(p.value, Separator)
	if idx < 0 {
		return Path{}, false
	}
	return Path{value: p.value[:idx]}, true
}

// Tombstone marks the last segment as deleted. Idempotent: a path whose last
// segment already carries the marker is returned unchanged.
func (p Path) Tombstone() Path {
	if p.IsZero() || p.IsTombstoned() {
		return p
	}
	segments := p.Segments()
	segments[len(segments)-1] = TombstoneMarker + segments[len(segments)-1]
	return Path{value: strings.Join(segments, Separator)}
}

func (p Path) IsTombstoned() bool {
	return strings.HasPrefix(p.LastSegment(), TombstoneMarker)
}

// StripTombstone recovers the pre-deletion path; used by compaction to find
// descendants, whose stored paths still carry the unmarked segment.
func (p Path) StripTombstone() Path {
	if !p.IsTombstoned() {
		return p
	}
	segments := p.Segments()
	segments[len(segments)-1] = strings.TrimPrefix(segments[len(segments)-1], TombstoneMarker)
	return Path{value: strings.Join(segments, Separator)}
}

// IsDescendantOf reports whether p equals ancestor or lies strictly below it.
func (p Path) IsDescendantOf(ancestor Path) bool {
	if p.value == ancestor.value {
		return true
	}
	return strings.HasPrefix(p.value, ancestor.value+Separator)
}

// Rebase replaces the oldAncestor prefix of p with newAncestor, preserving
// every segment below the rebased ancestor unchanged.
func (p Path) Rebase(oldAncestor, newAncestor Path) (Path, error) {
	if !p.IsDescendantOf(oldAncestor) {
		return Path{}, fmt.Errorf("%w: %q is not a descendant of %q", ErrInvalidFormat, p.value, oldAncestor.value)
	}
	if p.value == oldAncestor.value {
		return newAncestor, nil
	}
	suffix := strings.TrimPrefix(p.value, oldAncestor.value+Separator)
	return Path{value: newAncestor.value + Separator + suffix}, nil
}

// WithoutSegment drops the segment at the given index, shifting the remaining
// segments up; used when compaction removes a purged ancestor from descendant
// paths.
func (p Path) WithoutSegment(index int) (Path, error) {
	segments := p.Segments()
	if index < 0 || index >= len(segments) {
		return Path{}, fmt.Errorf("%w: segment index %d out of range for %q", ErrInvalidFormat, index, p.value)
	}
	remaining := make([]string, 0, len(segments)-1)
	remaining = append(remaining, segments[:index]...)
	remaining = append(remaining, segments[index+1:]...)
	if len(remaining) == 0 {
		return Path{}, nil
	}
	return Path{value: strings.Join(remaining, Separator)}, nil
}
