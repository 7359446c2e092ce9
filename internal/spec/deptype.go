package spec

import (
	"fmt"
	"strings"
)

// DepType classifies a dependency edge. Bits combine.
type DepType uint8

const (
	// DepBuild edges are needed only while building the dependent.
	DepBuild DepType = 1 << iota
	// DepLink edges are linked into the dependent.
	DepLink
	// DepRun edges are needed when the dependent runs.
	DepRun
)

const (
	// DepDefault is used when a declaration names no type.
	DepDefault = DepBuild | DepLink
	// DepAll selects every edge.
	DepAll = DepBuild | DepLink | DepRun
)

var depTypeNames = []struct {
	t    DepType
	name string
}{
	{DepBuild, "build"},
	{DepLink, "link"},
	{DepRun, "run"},
}

// ParseDepType parses a comma-separated list such as "build,link" or "all".
// An empty string yields DepDefault.
func ParseDepType(s string) (DepType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DepDefault, nil
	}
	var t DepType
	for _, part := range strings.Split(s, ",") {
		t2, err := parseDepTypeName(strings.TrimSpace(part))
		if err != nil {
			return 0, err
		}
		t |= t2
	}
	return t, nil
}

// DepTypeFromNames builds a DepType from a list of names.
func DepTypeFromNames(names []string) (DepType, error) {
	if len(names) == 0 {
		return DepDefault, nil
	}
	var t DepType
	for _, n := range names {
		t2, err := parseDepTypeName(n)
		if err != nil {
			return 0, err
		}
		t |= t2
	}
	return t, nil
}

func parseDepTypeName(name string) (DepType, error) {
	if name == "all" {
		return DepAll, nil
	}
	for _, d := range depTypeNames {
		if d.name == name {
			return d.t, nil
		}
	}
	return 0, fmt.Errorf("unknown dependency type %q", name)
}

// Has reports whether t shares any bit with o.
func (t DepType) Has(o DepType) bool { return t&o != 0 }

// Names returns the type names in build, link, run order.
func (t DepType) Names() []string {
	names := []string{}
	for _, d := range depTypeNames {
		if t&d.t != 0 {
			names = append(names, d.name)
		}
	}
	return names
}

func (t DepType) String() string { return strings.Join(t.Names(), ",") }
