package concretize

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/smelt/internal/repo"
	"github.com/roach88/smelt/internal/spec"
)

// binding is a node's resolved attributes, tentative until the pass that
// produced it converges.
type binding struct {
	version  spec.Version
	variants map[string]spec.VariantValue
	compiler spec.CompilerSpec
	arch     string
}

func (b *binding) equal(o *binding) bool {
	if b == nil || o == nil {
		return b == o
	}
	if !b.version.Equal(o.version) || b.compiler.String() != o.compiler.String() || b.arch != o.arch {
		return false
	}
	if len(b.variants) != len(o.variants) {
		return false
	}
	for name, v := range b.variants {
		if !spec.EqualValues(v, o.variants[name]) {
			return false
		}
	}
	return true
}

// satisfies evaluates a when-predicate against the binding. A nil
// predicate always holds.
func (b *binding) satisfies(when *spec.AbstractSpec) bool {
	if when == nil {
		return true
	}
	if !when.Versions.Contains(b.version) {
		return false
	}
	for name, want := range when.Variants {
		got, ok := b.variants[name]
		if !ok || !spec.ValueSatisfies(got, want) {
			return false
		}
	}
	if when.Compiler != nil {
		if when.Compiler.Name != b.compiler.Name || !when.Compiler.Versions.Contains(b.compiler.Version) {
			return false
		}
	}
	return when.Arch == "" || when.Arch == b.arch
}

func (b *binding) variantBindings() []spec.VariantBinding {
	out := make([]spec.VariantBinding, 0, len(b.variants))
	for _, name := range slices.Sorted(maps.Keys(b.variants)) {
		out = append(out, spec.VariantBinding{Name: name, Value: b.variants[name]})
	}
	return out
}

// inherited is what a node receives from a parent. from names that
// parent and is empty for the root.
type inherited struct {
	compiler spec.CompilerSpec
	arch     string
	from     string
}

// bind resolves one package from every constraint imposed on it.
func (c *Concretizer) bind(p *repo.Package, cons []*spec.AbstractSpec, inh inherited) (*binding, error) {
	b := &binding{}
	var err error
	if b.version, err = c.bindVersion(p, cons); err != nil {
		return nil, err
	}
	if b.variants, err = bindVariants(p, cons); err != nil {
		return nil, err
	}
	if b.compiler, err = c.bindCompiler(p.Name, cons, inh.compiler); err != nil {
		return nil, err
	}
	if b.arch, err = bindArch(p.Name, cons, inh.arch); err != nil {
		return nil, err
	}
	return b, nil
}

// bindVersion prefers a pin (from configuration or an "=X" constraint) and
// otherwise takes the highest declared version inside every range.
// Development versions are only taken when a range explicitly admits them
// and no numeric version does.
func (c *Concretizer) bindVersion(p *repo.Package, cons []*spec.AbstractSpec) (spec.Version, error) {
	inAll := func(v spec.Version) bool {
		for _, con := range cons {
			if !con.Versions.Contains(v) {
				return false
			}
		}
		return true
	}

	var pins []spec.Version
	if v, ok := c.pins[p.Name]; ok {
		pins = append(pins, v)
	}
	for _, con := range cons {
		if v, ok := con.Versions.Pinned(); ok {
			pins = append(pins, v)
		}
	}
	if len(pins) > 0 {
		v := pins[0]
		for _, o := range pins[1:] {
			if !o.Equal(v) {
				return spec.Version{}, unsatisfiable(p.Name, "conflicting pinned versions %s and %s", v, o)
			}
		}
		if !inAll(v) {
			return spec.Version{}, unsatisfiable(p.Name, "pinned version %s is outside %s", v, describeVersions(cons))
		}
		return v, nil
	}

	candidates := p.VersionList()
	slices.SortStableFunc(candidates, func(a, b spec.Version) int { return b.Compare(a) })
	explicit := false
	for _, con := range cons {
		if len(con.Versions) > 0 {
			explicit = true
		}
	}
	for _, v := range candidates {
		if !v.IsDevelop() && inAll(v) {
			return v, nil
		}
	}
	if explicit {
		for _, v := range candidates {
			if v.IsDevelop() && inAll(v) {
				return v, nil
			}
		}
	}
	return spec.Version{}, unsatisfiable(p.Name, "no declared version satisfies %s", describeVersions(cons))
}

func describeVersions(cons []*spec.AbstractSpec) string {
	var parts []string
	for _, con := range cons {
		if len(con.Versions) > 0 {
			parts = append(parts, "@"+con.Versions.String())
		}
	}
	if len(parts) == 0 {
		return "any version"
	}
	slices.Sort(parts)
	return strings.Join(slices.Compact(parts), " and ")
}

// bindVariants merges every variant requirement and fills the rest of the
// schema with defaults.
func bindVariants(p *repo.Package, cons []*spec.AbstractSpec) (map[string]spec.VariantValue, error) {
	out := make(map[string]spec.VariantValue, len(p.Variants))
	for _, con := range cons {
		for _, name := range con.VariantNames() {
			def, ok := p.Variant(name)
			if !ok {
				return nil, invalidVariant(p.Name, fmt.Errorf("package has no variant %q", name))
			}
			val, err := def.Coerce(con.Variants[name])
			if err != nil {
				return nil, invalidVariant(p.Name, err)
			}
			if cur, ok := out[name]; ok {
				merged, ok := def.Merge(cur, val)
				if !ok {
					return nil, unsatisfiable(p.Name, "conflicting values for variant %s: %s and %s",
						name, spec.FormatVariant(name, cur), spec.FormatVariant(name, val))
				}
				val = merged
			}
			out[name] = val
		}
	}
	for _, def := range p.Variants {
		if _, ok := out[def.Name]; !ok {
			out[def.Name] = def.Default
		}
	}
	return out, nil
}

// bindCompiler keeps the inherited compiler when it meets every explicit
// compiler constraint, and otherwise picks the highest available compiler
// that does.
func (c *Concretizer) bindCompiler(pkg string, cons []*spec.AbstractSpec, inh spec.CompilerSpec) (spec.CompilerSpec, error) {
	var explicit []*spec.CompilerConstraint
	for _, con := range cons {
		if con.Compiler != nil {
			explicit = append(explicit, con.Compiler)
		}
	}
	if len(explicit) == 0 {
		return inh, nil
	}
	meets := func(cs spec.CompilerSpec) bool {
		for _, cc := range explicit {
			if cc.Name != cs.Name || !cc.Versions.Contains(cs.Version) {
				return false
			}
		}
		return true
	}
	if inh.Name != "" && meets(inh) {
		return inh, nil
	}
	var best *spec.CompilerSpec
	for i := range c.compilers {
		cs := c.compilers[i]
		if meets(cs) && (best == nil || cs.Version.Compare(best.Version) > 0) {
			best = &cs
		}
	}
	if best == nil {
		var want []string
		for _, cc := range explicit {
			want = append(want, "%"+cc.String())
		}
		slices.Sort(want)
		return spec.CompilerSpec{}, unsatisfiable(pkg, "no available compiler satisfies %s",
			strings.Join(slices.Compact(want), " and "))
	}
	return *best, nil
}

func bindArch(pkg string, cons []*spec.AbstractSpec, inh string) (string, error) {
	arch := ""
	for _, con := range cons {
		if con.Arch == "" {
			continue
		}
		if arch != "" && arch != con.Arch {
			return "", unsatisfiable(pkg, "conflicting architectures %s and %s", arch, con.Arch)
		}
		arch = con.Arch
	}
	if arch == "" {
		return inh, nil
	}
	return arch, nil
}
