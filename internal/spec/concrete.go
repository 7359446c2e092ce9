package spec

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// CompilerSpec is a concrete compiler binding.
type CompilerSpec struct {
	Name    string
	Version Version
}

func (c CompilerSpec) String() string {
	if c.Version.IsZero() {
		return c.Name
	}
	return c.Name + "@" + c.Version.String()
}

// VariantBinding binds one schema variant to its concrete value.
type VariantBinding struct {
	Name  string
	Value VariantValue
}

// ConcreteEdge points at a shared dependency node. Virtuals lists the
// virtual capabilities this edge satisfies ("mpi" for an edge to mpich).
type ConcreteEdge struct {
	Spec     *ConcreteSpec
	Types    DepType
	Virtuals []string
}

// ConcreteSpec is a fully resolved node of a build DAG.
//
// Build one by filling the exported fields and calling Finalize once every
// dependency is finalized. After Finalize the value is shared between DAGs
// and caches and must not be modified.
type ConcreteSpec struct {
	Name     string
	Version  Version
	Variants []VariantBinding
	Compiler CompilerSpec
	Arch     string
	Deps     []ConcreteEdge

	hash string
}

// Finalize sorts variants and edges and computes the dag hash.
func (s *ConcreteSpec) Finalize() error {
	if s.hash != "" {
		return fmt.Errorf("spec %s already finalized", s.Name)
	}
	slices.SortFunc(s.Variants, func(a, b VariantBinding) int {
		return strings.Compare(a.Name, b.Name)
	})
	for i := range s.Deps {
		d := &s.Deps[i]
		if d.Spec == nil || d.Spec.hash == "" {
			return fmt.Errorf("spec %s: dependency %d is not finalized", s.Name, i)
		}
		if d.Types == 0 {
			return fmt.Errorf("spec %s: dependency %s has no type", s.Name, d.Spec.Name)
		}
		v := slices.Clone(d.Virtuals)
		slices.Sort(v)
		d.Virtuals = slices.Compact(v)
	}
	slices.SortStableFunc(s.Deps, compareEdges)

	data, err := s.MarshalNode()
	if err != nil {
		return fmt.Errorf("finalize %s: %w", s.Name, err)
	}
	s.hash = hashWithDomain(DomainSpec, data)
	return nil
}

func compareEdges(a, b ConcreteEdge) int {
	if c := strings.Compare(a.Spec.Name, b.Spec.Name); c != 0 {
		return c
	}
	if c := strings.Compare(a.Spec.hash, b.Spec.hash); c != 0 {
		return c
	}
	return int(a.Types) - int(b.Types)
}

// DAGHash returns the full content hash, or "" before Finalize.
func (s *ConcreteSpec) DAGHash() string { return s.hash }

// ShortHash returns the first n hex characters of the dag hash.
func (s *ConcreteSpec) ShortHash(n int) string { return ShortHash(s.hash, n) }

// Equal reports dag-hash equality.
func (s *ConcreteSpec) Equal(o *ConcreteSpec) bool {
	return s != nil && o != nil && s.hash != "" && s.hash == o.hash
}

// Variant returns the bound value of a variant.
func (s *ConcreteSpec) Variant(name string) (VariantValue, bool) {
	for _, b := range s.Variants {
		if b.Name == name {
			return b.Value, true
		}
	}
	return nil, false
}

// Dependencies returns the direct dependencies reached through edges
// sharing a bit with types, in edge order.
func (s *ConcreteSpec) Dependencies(types DepType) []*ConcreteSpec {
	var out []*ConcreteSpec
	seen := map[string]bool{}
	for _, d := range s.Deps {
		if !d.Types.Has(types) || seen[d.Spec.hash] {
			continue
		}
		seen[d.Spec.hash] = true
		out = append(out, d.Spec)
	}
	return out
}

// Closure returns every node reachable from s through edges sharing a bit
// with types, each once, in depth-first preorder. s itself is excluded.
func (s *ConcreteSpec) Closure(types DepType) []*ConcreteSpec {
	var out []*ConcreteSpec
	seen := map[string]bool{s.hash: true}
	var walk func(n *ConcreteSpec)
	walk = func(n *ConcreteSpec) {
		for _, d := range n.Deps {
			if !d.Types.Has(types) || seen[d.Spec.hash] {
				continue
			}
			seen[d.Spec.hash] = true
			out = append(out, d.Spec)
			walk(d.Spec)
		}
	}
	walk(s)
	return out
}

// TopoOrder returns every node of the DAG with dependencies strictly before
// dependents. Ties follow edge order, so the result is deterministic; s is
// always last.
func (s *ConcreteSpec) TopoOrder() []*ConcreteSpec {
	var out []*ConcreteSpec
	done := map[string]bool{}
	var visit func(n *ConcreteSpec)
	visit = func(n *ConcreteSpec) {
		if done[n.hash] {
			return
		}
		done[n.hash] = true
		for _, d := range n.Deps {
			visit(d.Spec)
		}
		out = append(out, n)
	}
	visit(s)
	return out
}

// Lookup finds the node named name in the DAG rooted at s.
func (s *ConcreteSpec) Lookup(name string) *ConcreteSpec {
	if s.Name == name {
		return s
	}
	for _, n := range s.Closure(DepAll) {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Satisfies reports whether the DAG rooted at s meets every constraint of
// q. A '^' constraint in q is met by any node of the closure; a virtual
// name is met by a node reached through an edge providing that virtual.
func (s *ConcreteSpec) Satisfies(q *AbstractSpec) bool {
	if q == nil {
		return true
	}
	if q.Name != "" && q.Name != s.Name {
		return false
	}
	if !s.satisfiesAttrs(q) {
		return false
	}
	for _, d := range q.Deps {
		if !s.hasDependencySatisfying(d.Spec) {
			return false
		}
	}
	return true
}

func (s *ConcreteSpec) satisfiesAttrs(q *AbstractSpec) bool {
	if q.Hash != "" && !strings.HasPrefix(s.hash, q.Hash) {
		return false
	}
	if !q.Versions.Contains(s.Version) {
		return false
	}
	for name, want := range q.Variants {
		got, ok := s.Variant(name)
		if !ok || !ValueSatisfies(got, want) {
			return false
		}
	}
	if q.Compiler != nil {
		if q.Compiler.Name != s.Compiler.Name {
			return false
		}
		if len(q.Compiler.Versions) > 0 && !q.Compiler.Versions.Contains(s.Compiler.Version) {
			return false
		}
	}
	if q.Arch != "" && q.Arch != s.Arch {
		return false
	}
	return true
}

func (s *ConcreteSpec) hasDependencySatisfying(q *AbstractSpec) bool {
	seen := map[string]bool{}
	var walk func(n *ConcreteSpec) bool
	walk = func(n *ConcreteSpec) bool {
		for _, d := range n.Deps {
			if seen[d.Spec.hash] {
				continue
			}
			seen[d.Spec.hash] = true
			if edgeSatisfies(d, q) || walk(d.Spec) {
				return true
			}
		}
		return false
	}
	return walk(s)
}

func edgeSatisfies(d ConcreteEdge, q *AbstractSpec) bool {
	if q.Name == "" || q.Name == d.Spec.Name {
		return d.Spec.Satisfies(q)
	}
	if !slices.Contains(d.Virtuals, q.Name) {
		return false
	}
	// A virtual constraint carries no attributes of the provider package
	// except a hash, and virtual version ranges are checked at concretization.
	anon := q.Clone()
	anon.Name = ""
	anon.Versions = nil
	anon.Variants = nil
	return d.Spec.Satisfies(anon)
}

// NodeString renders this node alone in spec syntax.
func (s *ConcreteSpec) NodeString() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteString("@" + s.Version.String())
	var keyvals []string
	for _, v := range s.Variants {
		if _, ok := v.Value.(BoolValue); ok {
			b.WriteString(FormatVariant(v.Name, v.Value))
			continue
		}
		keyvals = append(keyvals, FormatVariant(v.Name, v.Value))
	}
	if s.Compiler.Name != "" {
		b.WriteString("%" + s.Compiler.String())
	}
	for _, kv := range keyvals {
		b.WriteString(" " + kv)
	}
	if s.Arch != "" {
		b.WriteString(" arch=" + s.Arch)
	}
	return b.String()
}

// String renders the whole DAG: the root followed by one '^' clause per
// dependency in closure order.
func (s *ConcreteSpec) String() string {
	parts := []string{s.NodeString()}
	for _, n := range s.Closure(DepAll) {
		parts = append(parts, "^"+n.NodeString())
	}
	return strings.Join(parts, " ")
}

// MarshalNode returns the canonical JSON record of this node. Dependencies
// appear by name, type, virtuals and hash only, so the record of a node
// together with its dependencies' records describes the whole DAG. The
// dag hash is the domain-separated SHA-256 of exactly these bytes.
func (s *ConcreteSpec) MarshalNode() ([]byte, error) {
	variants := make([]any, 0, len(s.Variants))
	for _, v := range s.Variants {
		if v.Value == nil {
			return nil, fmt.Errorf("variant %q has no value", v.Name)
		}
		variants = append(variants, map[string]any{
			"name":  v.Name,
			"kind":  v.Value.Kind().String(),
			"value": variantJSONValue(v.Value),
		})
	}
	deps := make([]any, 0, len(s.Deps))
	for _, d := range s.Deps {
		virtuals := d.Virtuals
		if virtuals == nil {
			virtuals = []string{}
		}
		deps = append(deps, map[string]any{
			"name":     d.Spec.Name,
			"hash":     d.Spec.hash,
			"types":    d.Types.Names(),
			"virtuals": virtuals,
		})
	}
	return MarshalCanonical(map[string]any{
		"name":    s.Name,
		"version": s.Version.String(),
		"compiler": map[string]any{
			"name":    s.Compiler.Name,
			"version": s.Compiler.Version.String(),
		},
		"arch":     s.Arch,
		"variants": variants,
		"deps":     deps,
	})
}

func variantJSONValue(v VariantValue) any {
	switch x := v.(type) {
	case BoolValue:
		return bool(x)
	case SetValue:
		return []string(x)
	default:
		return x.String()
	}
}

type nodeJSON struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Compiler struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"compiler"`
	Arch     string        `json:"arch"`
	Variants []variantJSON `json:"variants"`
	Deps     []depJSON     `json:"deps"`
}

type variantJSON struct {
	Name  string          `json:"name"`
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

type depJSON struct {
	Name     string   `json:"name"`
	Hash     string   `json:"hash"`
	Types    []string `json:"types"`
	Virtuals []string `json:"virtuals"`
}

// UnmarshalNode rebuilds a finalized node from its MarshalNode record.
// resolve maps each dependency hash to its already-rebuilt node.
func UnmarshalNode(data []byte, resolve func(hash string) (*ConcreteSpec, error)) (*ConcreteSpec, error) {
	var rec nodeJSON
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	version, err := ParseVersion(rec.Version)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", rec.Name, err)
	}
	s := &ConcreteSpec{Name: rec.Name, Version: version, Arch: rec.Arch}
	s.Compiler.Name = rec.Compiler.Name
	if rec.Compiler.Version != "" {
		cv, err := ParseVersion(rec.Compiler.Version)
		if err != nil {
			return nil, fmt.Errorf("node %s: compiler: %w", rec.Name, err)
		}
		s.Compiler.Version = cv
	}
	for _, v := range rec.Variants {
		val, err := decodeVariantValue(v)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", rec.Name, err)
		}
		s.Variants = append(s.Variants, VariantBinding{Name: v.Name, Value: val})
	}
	for _, d := range rec.Deps {
		dep, err := resolve(d.Hash)
		if err != nil {
			return nil, fmt.Errorf("node %s: dependency %s: %w", rec.Name, d.Name, err)
		}
		types, err := DepTypeFromNames(d.Types)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", rec.Name, err)
		}
		s.Deps = append(s.Deps, ConcreteEdge{Spec: dep, Types: types, Virtuals: d.Virtuals})
	}
	if err := s.Finalize(); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeVariantValue(v variantJSON) (VariantValue, error) {
	kind, err := ParseVariantKind(v.Kind)
	if err != nil {
		return nil, fmt.Errorf("variant %q: %w", v.Name, err)
	}
	switch kind {
	case KindBool:
		var b bool
		if err := json.Unmarshal(v.Value, &b); err != nil {
			return nil, fmt.Errorf("variant %q: %w", v.Name, err)
		}
		return BoolValue(b), nil
	case KindMulti:
		var vals []string
		if err := json.Unmarshal(v.Value, &vals); err != nil {
			return nil, fmt.Errorf("variant %q: %w", v.Name, err)
		}
		return NewSetValue(vals...), nil
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return nil, fmt.Errorf("variant %q: %w", v.Name, err)
	}
	if kind == KindSingle {
		return EnumValue(s), nil
	}
	return StringValue(s), nil
}
