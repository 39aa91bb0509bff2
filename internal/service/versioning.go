package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// InitialVersionNo is assigned to the first version of a document and
// whenever the previous label cannot be parsed.
const InitialVersionNo = "1.0.0"

// VersionNo is a dotted major.minor.patch label.
type VersionNo struct {
	Major, Minor, Patch int
}

// ParseVersionNo parses a label of exactly three dot-separated non-negative
// decimal integers.
func ParseVersionNo(s string) (VersionNo, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return VersionNo{}, fmt.Errorf("version %q: expected major.minor.patch", s)
	}

	var nums [3]int
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return VersionNo{}, fmt.Errorf("version %q: component %d is not a number", s, i+1)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return VersionNo{}, fmt.Errorf("version %q: %w", s, err)
		}
		nums[i] = n
	}
	return VersionNo{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v VersionNo) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less orders labels numerically component by component.
func (v VersionNo) Less(o VersionNo) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// NextPatch returns the label with the patch component incremented. ok is
// false when the patch component cannot grow any further.
func (v VersionNo) NextPatch() (next VersionNo, ok bool) {
	if v.Patch == math.MaxInt {
		return v, false
	}
	v.Patch++
	return v, true
}

// NextVersionNo derives the label following latest. It reports reset when
// latest was present but malformed, or exhausted, and numbering restarted.
func NextVersionNo(latest string) (next string, reset bool) {
	if latest == "" {
		return InitialVersionNo, false
	}
	v, err := ParseVersionNo(latest)
	if err != nil {
		return InitialVersionNo, true
	}
	next, ok := v.NextPatch()
	if !ok {
		return InitialVersionNo, true
	}
	return next.String(), false
}
