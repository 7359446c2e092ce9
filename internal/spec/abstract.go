package spec

import (
	"maps"
	"slices"
	"strings"
)

// AbstractSpec is a possibly under-constrained package request.
//
// As authored it is a tree and may name virtual capabilities. A spec with an
// empty Name is anonymous; anonymous specs express when-predicates over a
// package's own attributes ("+binanalysis", "@19.0:").
type AbstractSpec struct {
	Name     string
	Versions VersionConstraint
	Variants map[string]VariantValue
	Compiler *CompilerConstraint
	Arch     string
	// Hash is a dag-hash prefix ("/abc123"); only meaningful for lookups
	// against the installed database.
	Hash string
	Deps []DepEdge
}

// DepEdge is an authored dependency edge. Types == 0 marks a constraint
// written with '^': it applies to the node of that name wherever it appears
// in the DAG instead of adding a direct edge.
type DepEdge struct {
	Spec  *AbstractSpec
	Types DepType
}

// CompilerConstraint restricts the compiler by name and version.
type CompilerConstraint struct {
	Name     string
	Versions VersionConstraint
}

func (c CompilerConstraint) String() string {
	if len(c.Versions) == 0 {
		return c.Name
	}
	return c.Name + "@" + c.Versions.String()
}

// IsAnonymous reports whether the spec has no package name.
func (s *AbstractSpec) IsAnonymous() bool { return s.Name == "" }

// IsEmpty reports whether the spec imposes no constraint at all.
func (s *AbstractSpec) IsEmpty() bool {
	return s == nil || (s.Name == "" && len(s.Versions) == 0 && len(s.Variants) == 0 &&
		s.Compiler == nil && s.Arch == "" && s.Hash == "" && len(s.Deps) == 0)
}

// VariantNames returns the constrained variant names in sorted order.
func (s *AbstractSpec) VariantNames() []string {
	return slices.Sorted(maps.Keys(s.Variants))
}

// Clone returns a deep copy. Callers own the copy.
func (s *AbstractSpec) Clone() *AbstractSpec {
	if s == nil {
		return nil
	}
	c := &AbstractSpec{
		Name:     s.Name,
		Versions: slices.Clone(s.Versions),
		Arch:     s.Arch,
		Hash:     s.Hash,
	}
	if s.Variants != nil {
		c.Variants = maps.Clone(s.Variants)
	}
	if s.Compiler != nil {
		cc := *s.Compiler
		cc.Versions = slices.Clone(cc.Versions)
		c.Compiler = &cc
	}
	for _, d := range s.Deps {
		c.Deps = append(c.Deps, DepEdge{Spec: d.Spec.Clone(), Types: d.Types})
	}
	return c
}

// AddDependency appends a direct edge with the given types.
func (s *AbstractSpec) AddDependency(dep *AbstractSpec, types DepType) {
	s.Deps = append(s.Deps, DepEdge{Spec: dep, Types: types})
}

// String renders the spec in canonical spec syntax: variants sorted by
// name, '^' constraints in authored order. Edge types are not rendered;
// Key includes them.
func (s *AbstractSpec) String() string {
	var b strings.Builder
	s.writeNode(&b)
	s.writeDeps(&b)
	return strings.TrimSpace(b.String())
}

// Key is String with the type flags of every edge, so a '^' constraint
// and a typed edge to the same package never share a key.
func (s *AbstractSpec) Key() string {
	var b strings.Builder
	s.writeKey(&b)
	return strings.TrimSpace(b.String())
}

func (s *AbstractSpec) writeKey(b *strings.Builder) {
	s.writeNode(b)
	for _, d := range s.Deps {
		b.WriteString(" ^")
		if d.Types != 0 {
			b.WriteString("[" + d.Types.String() + "]")
		}
		d.Spec.writeKey(b)
	}
}

func (s *AbstractSpec) writeDeps(b *strings.Builder) {
	for _, d := range s.Deps {
		b.WriteString(" ^")
		d.Spec.writeNode(b)
		d.Spec.writeDeps(b)
	}
}

func (s *AbstractSpec) writeNode(b *strings.Builder) {
	if s.Hash != "" {
		b.WriteString("/" + s.Hash)
	}
	b.WriteString(s.Name)
	if len(s.Versions) > 0 {
		b.WriteString("@" + s.Versions.String())
	}
	var keyvals []string
	for _, name := range s.VariantNames() {
		v := s.Variants[name]
		if _, ok := v.(BoolValue); ok {
			b.WriteString(FormatVariant(name, v))
			continue
		}
		keyvals = append(keyvals, FormatVariant(name, v))
	}
	if s.Compiler != nil {
		b.WriteString("%" + s.Compiler.String())
	}
	for _, kv := range keyvals {
		b.WriteString(" " + kv)
	}
	if s.Arch != "" {
		b.WriteString(" arch=" + s.Arch)
	}
}
