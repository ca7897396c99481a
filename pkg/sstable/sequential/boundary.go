package sequential

import "fmt"

// AccessMode selects how a finished component file will be read back
type AccessMode int

const (
	// AccessModeStandard reads through buffered file I/O; segment boundaries
	// are irrelevant and the builder ignores candidates.
	AccessModeStandard AccessMode = iota
	// AccessModeMmap maps the file in segments; the builder starts a new
	// segment at the first candidate at least the configured size past the
	// previous boundary, so a segment can run past that size by less than the
	// distance between two candidates.
	AccessModeMmap
)

// ParseAccessMode resolves a configuration string to an access mode
func ParseAccessMode(s string) (AccessMode, error) {
	switch s {
	case "standard":
		return AccessModeStandard, nil
	case "mmap":
		return AccessModeMmap, nil
	default:
		return AccessModeStandard, fmt.Errorf("unknown access mode %q", s)
	}
}

// String returns the configuration spelling of the mode
func (m AccessMode) String() string {
	if m == AccessModeMmap {
		return "mmap"
	}
	return "standard"
}

// BoundaryBuilder collects candidate segment boundaries while a component
// file is written. Candidates are record starts, so a segment boundary never
// splits a record. Only positions are recorded; mapping happens when the
// finished file is opened.
type BoundaryBuilder struct {
	mode        AccessMode
	segmentSize int64
	boundaries  []int64
	last        int64
}

// NewBoundaryBuilder creates a builder for the given access mode and maximum
// segment size.
func NewBoundaryBuilder(mode AccessMode, segmentSize int64) *BoundaryBuilder {
	return &BoundaryBuilder{mode: mode, segmentSize: segmentSize}
}

// AddPotentialBoundary offers a safe split position. In mmap mode a boundary
// is kept whenever the current segment has reached the size limit.
func (b *BoundaryBuilder) AddPotentialBoundary(pos int64) {
	if b.mode != AccessModeMmap {
		return
	}
	if pos-b.last >= b.segmentSize {
		b.boundaries = append(b.boundaries, pos)
		b.last = pos
	}
}

// Boundaries returns the recorded segment boundaries
func (b *BoundaryBuilder) Boundaries() []int64 {
	return b.boundaries
}
