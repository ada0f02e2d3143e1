package rangelock

import (
	"fmt"
	"strconv"
	"strings"

	rlerrors "github.com/Victor-Danilov/parallel-computing/v1/errors"
)

// Range is a closed interval of sequence indices [From, To].
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// In reports whether r is well formed for a sequence of length n, that is
// 0 <= From <= To < n.
func (r Range) In(n int) bool {
	return r.From >= 0 && r.From <= r.To && r.To < n
}

// Validate returns a *RangeError matching errors.ErrInvalidRange unless r is
// well formed for a sequence of length n.
func (r Range) Validate(n int) error {
	if r.In(n) {
		return nil
	}
	return &RangeError{Op: "validate", Range: r, Len: n}
}

// Len returns the number of indices covered by r.
func (r Range) Len() int {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// Contains returns true if i lies within r.
func (r Range) Contains(i int) bool {
	return r.From <= i && i <= r.To
}

// Overlaps returns true if r and r2 share at least one index.
func (r Range) Overlaps(r2 Range) bool {
	return r.From <= r2.To && r2.From <= r.To
}

// IsSupersetOf returns true if r2 is contained within r.
func (r Range) IsSupersetOf(r2 Range) bool {
	return r.From <= r2.From && r.To >= r2.To
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// ParseRange parses "from-to" (or a single index "i", meaning [i, i]).
// Only the shape is checked here; bounds are checked by the Manager.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	from, to, found := strings.Cut(s, "-")
	if !found {
		to = from
	}
	f, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q", rlerrors.ErrInvalidRange, s)
	}
	t, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q", rlerrors.ErrInvalidRange, s)
	}
	if f > t {
		return Range{}, fmt.Errorf("%w: %q is inverted", rlerrors.ErrInvalidRange, s)
	}
	return Range{From: f, To: t}, nil
}

// ParseRanges parses a comma separated list of ranges, e.g. "0-1,2-3,4".
func ParseRanges(s string) ([]Range, error) {
	var out []Range
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := ParseRange(part)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// RangeError reports a malformed range passed to a Manager operation.
// It matches errors.ErrInvalidRange with errors.Is.
type RangeError struct {
	Op    string
	Range Range
	Len   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("rangelock: %s %s: %v for length %d", e.Op, e.Range, rlerrors.ErrInvalidRange, e.Len)
}

func (e *RangeError) Unwrap() error { return rlerrors.ErrInvalidRange }
