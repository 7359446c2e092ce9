package spec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// developNames sort above every numeric version but are never chosen by
// default selection while a numeric version satisfies the constraints.
var developNames = map[string]bool{
	"develop": true,
	"master":  true,
	"main":    true,
	"head":    true,
}

// Version is a single package version as declared by a package definition.
//
// Numeric versions are ordered with Masterminds/semver; anything the semver
// grammar rejects (four-part versions, branch names) falls back to
// dotted-segment ordering where numeric segments sort above alphabetic ones.
type Version struct {
	raw  string
	sv   *semver.Version
	segs []string
}

// ParseVersion parses a declared version string.
func ParseVersion(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Version{}, fmt.Errorf("empty version")
	}
	for _, r := range raw {
		if !isVersionRune(r) {
			return Version{}, fmt.Errorf("invalid character %q in version %q", r, raw)
		}
	}
	v := Version{raw: raw, segs: splitSegments(raw)}
	if sv, err := semver.NewVersion(raw); err == nil {
		v.sv = sv
	}
	return v, nil
}

// MustParseVersion is like ParseVersion but panics on error.
// Use only in tests or for literals known to be valid.
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func isVersionRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r == '.', r == '-', r == '_':
		return true
	}
	return false
}

func splitSegments(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
}

// String returns the version exactly as declared.
func (v Version) String() string { return v.raw }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.raw == "" }

// IsDevelop reports whether v names a development branch.
func (v Version) IsDevelop() bool { return developNames[strings.ToLower(v.raw)] }

// Equal reports whether a and b are the same declared version.
func (v Version) Equal(o Version) bool { return v.raw == o.raw }

// HasPrefix reports whether p's segments are a leading run of v's segments,
// i.e. whether v belongs to the p series ("1.2.7" is in the "1.2" series).
func (v Version) HasPrefix(p Version) bool {
	if len(p.segs) > len(v.segs) {
		return false
	}
	for i, s := range p.segs {
		if v.segs[i] != s {
			return false
		}
	}
	return true
}

// Compare orders two versions, returning -1, 0 or 1.
// The order is total: semver-equal versions with different spellings
// ("1.2" and "1.2.0") are tie-broken by segments.
func (v Version) Compare(o Version) int {
	vd, od := v.IsDevelop(), o.IsDevelop()
	if vd != od {
		if vd {
			return 1
		}
		return -1
	}
	if v.sv != nil && o.sv != nil {
		if c := v.sv.Compare(o.sv); c != 0 {
			return c
		}
	}
	return compareSegments(v.segs, o.segs)
}

func compareSegments(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		an, aerr := strconv.ParseUint(a[i], 10, 64)
		bn, berr := strconv.ParseUint(b[i], 10, 64)
		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
		case aerr == nil:
			return 1
		case berr == nil:
			return -1
		default:
			if c := strings.Compare(a[i], b[i]); c != 0 {
				return c
			}
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// VersionRange is one member of a VersionConstraint.
//
// Forms:
//
//	1.2      the 1.2 series (Lo == Hi)
//	1.2:1.4  inclusive range; the upper bound admits its own series
//	1.2:     open above
//	:1.4     open below
//	=1.2.9   exact pin
type VersionRange struct {
	Lo    *Version
	Hi    *Version
	Exact bool
}

// Contains reports whether v lies in the range.
func (r VersionRange) Contains(v Version) bool {
	if r.Exact {
		return r.Lo != nil && r.Lo.Equal(v)
	}
	if r.Lo != nil && v.Compare(*r.Lo) < 0 && !v.HasPrefix(*r.Lo) {
		return false
	}
	if r.Hi != nil && v.Compare(*r.Hi) > 0 && !v.HasPrefix(*r.Hi) {
		return false
	}
	return true
}

// String renders the range in constraint syntax.
func (r VersionRange) String() string {
	if r.Exact && r.Lo != nil {
		return "=" + r.Lo.String()
	}
	if r.Lo != nil && r.Hi != nil && r.Lo.Equal(*r.Hi) {
		return r.Lo.String()
	}
	var b strings.Builder
	if r.Lo != nil {
		b.WriteString(r.Lo.String())
	}
	b.WriteByte(':')
	if r.Hi != nil {
		b.WriteString(r.Hi.String())
	}
	return b.String()
}

// VersionConstraint is a union of ranges. The empty constraint admits
// every version.
type VersionConstraint []VersionRange

// ParseVersionConstraint parses "1.2,1.5:1.7,=2.0.1" style constraints.
func ParseVersionConstraint(s string) (VersionConstraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var c VersionConstraint
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty version range in %q", s)
		}
		r, err := parseVersionRange(part)
		if err != nil {
			return nil, err
		}
		c = append(c, r)
	}
	return c, nil
}

// MustParseVersionConstraint is like ParseVersionConstraint but panics on error.
func MustParseVersionConstraint(s string) VersionConstraint {
	c, err := ParseVersionConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

func parseVersionRange(part string) (VersionRange, error) {
	if strings.HasPrefix(part, "=") {
		v, err := ParseVersion(part[1:])
		if err != nil {
			return VersionRange{}, err
		}
		return VersionRange{Lo: &v, Hi: &v, Exact: true}, nil
	}
	lo, hi, isRange := strings.Cut(part, ":")
	if !isRange {
		v, err := ParseVersion(part)
		if err != nil {
			return VersionRange{}, err
		}
		return VersionRange{Lo: &v, Hi: &v}, nil
	}
	if strings.Contains(hi, ":") {
		return VersionRange{}, fmt.Errorf("invalid version range %q", part)
	}
	var r VersionRange
	if lo != "" {
		v, err := ParseVersion(lo)
		if err != nil {
			return VersionRange{}, err
		}
		r.Lo = &v
	}
	if hi != "" {
		v, err := ParseVersion(hi)
		if err != nil {
			return VersionRange{}, err
		}
		r.Hi = &v
	}
	return r, nil
}

// Contains reports whether v satisfies the constraint.
func (c VersionConstraint) Contains(v Version) bool {
	if len(c) == 0 {
		return true
	}
	for _, r := range c {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// IsAny reports whether the constraint admits every version.
func (c VersionConstraint) IsAny() bool {
	for _, r := range c {
		if r.Lo == nil && r.Hi == nil {
			return true
		}
	}
	return len(c) == 0
}

// Pinned returns the exact version when the constraint is a single "=X" pin.
func (c VersionConstraint) Pinned() (Version, bool) {
	if len(c) == 1 && c[0].Exact && c[0].Lo != nil {
		return *c[0].Lo, true
	}
	return Version{}, false
}

// String renders the constraint in spec syntax (without the leading '@').
func (c VersionConstraint) String() string {
	parts := make([]string, len(c))
	for i, r := range c {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// Intersects reports whether some version among candidates satisfies both
// constraints. With no candidates the check degrades to range overlap.
func (c VersionConstraint) Intersects(o VersionConstraint, candidates []Version) bool {
	if len(candidates) > 0 {
		for _, v := range candidates {
			if c.Contains(v) && o.Contains(v) {
				return true
			}
		}
		return false
	}
	if c.IsAny() || o.IsAny() {
		return true
	}
	for _, a := range c {
		for _, b := range o {
			if rangesOverlap(a, b) {
				return true
			}
		}
	}
	return false
}

func rangesOverlap(a, b VersionRange) bool {
	if a.Lo != nil && b.Hi != nil && a.Lo.Compare(*b.Hi) > 0 && !a.Lo.HasPrefix(*b.Hi) {
		return false
	}
	if b.Lo != nil && a.Hi != nil && b.Lo.Compare(*a.Hi) > 0 && !b.Lo.HasPrefix(*a.Hi) {
		return false
	}
	return true
}
