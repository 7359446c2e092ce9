package repo

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/smelt/internal/spec"
)

// DefaultPhases is used when a package declares no phases.
var DefaultPhases = []string{"install"}

// DeclaredVersion is one available version with its integrity digest.
type DeclaredVersion struct {
	Version spec.Version
	Digest  string
}

// Dependency is a declared dependency edge. When, if set, is an anonymous
// spec over the declaring package's own version and variants.
type Dependency struct {
	Spec  *spec.AbstractSpec
	Types spec.DepType
	When  *spec.AbstractSpec
}

// Provide declares a virtual capability, e.g. mpi@:3, gated by When.
type Provide struct {
	Virtual *spec.AbstractSpec
	When    *spec.AbstractSpec
}

// Package is one read-only package definition.
type Package struct {
	Name          string
	Description   string
	Versions      []DeclaredVersion
	Variants      []spec.VariantDef
	Dependencies  []Dependency
	Provides      []Provide
	Phases        []string
	PhaseCommands map[string][]string

	// Source is the path of the source archive with {name} and {version}
	// placeholders. Empty means the package builds without a stage.
	Source string
}

// Variant returns the schema entry for name.
func (p *Package) Variant(name string) (spec.VariantDef, bool) {
	for _, v := range p.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return spec.VariantDef{}, false
}

// VersionList returns the declared versions in declaration order.
func (p *Package) VersionList() []spec.Version {
	out := make([]spec.Version, len(p.Versions))
	for i, v := range p.Versions {
		out[i] = v.Version
	}
	return out
}

// Digest returns the integrity digest declared for v.
func (p *Package) Digest(v spec.Version) (string, bool) {
	for _, dv := range p.Versions {
		if dv.Version.Equal(v) {
			return dv.Digest, true
		}
	}
	return "", false
}

// SourceArchive returns the source archive path for version v, or "" when
// the package declares no source.
func (p *Package) SourceArchive(v spec.Version) string {
	if p.Source == "" {
		return ""
	}
	return strings.NewReplacer("{name}", p.Name, "{version}", v.String()).Replace(p.Source)
}

// PhaseList returns the declared phases, or DefaultPhases.
func (p *Package) PhaseList() []string {
	if len(p.Phases) == 0 {
		return DefaultPhases
	}
	return p.Phases
}

// Validate checks internal consistency of the definition.
func (p *Package) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("package has no name")
	}
	if len(p.Versions) == 0 {
		return fmt.Errorf("package %s: no versions declared", p.Name)
	}
	seen := map[string]bool{}
	for _, v := range p.Versions {
		if seen[v.Version.String()] {
			return fmt.Errorf("package %s: version %s declared twice", p.Name, v.Version)
		}
		seen[v.Version.String()] = true
	}
	seen = map[string]bool{}
	for _, def := range p.Variants {
		if seen[def.Name] {
			return fmt.Errorf("package %s: variant %s declared twice", p.Name, def.Name)
		}
		seen[def.Name] = true
		if def.Default == nil {
			return fmt.Errorf("package %s: variant %s has no default", p.Name, def.Name)
		}
		if _, err := def.Coerce(def.Default); err != nil {
			return fmt.Errorf("package %s: default: %w", p.Name, err)
		}
	}
	for _, d := range p.Dependencies {
		if d.Spec == nil || d.Spec.Name == "" {
			return fmt.Errorf("package %s: dependency without a name", p.Name)
		}
		if d.Spec.Name == p.Name {
			return fmt.Errorf("package %s: depends on itself", p.Name)
		}
		if len(d.Spec.Deps) > 0 {
			return fmt.Errorf("package %s: dependency %s may not carry '^' constraints", p.Name, d.Spec.Name)
		}
		if d.When != nil && !d.When.IsAnonymous() && d.When.Name != p.Name {
			return fmt.Errorf("package %s: when-predicate %q names another package", p.Name, d.When)
		}
	}
	for _, pr := range p.Provides {
		if pr.Virtual == nil || pr.Virtual.Name == "" {
			return fmt.Errorf("package %s: provides without a name", p.Name)
		}
	}
	for phase := range p.PhaseCommands {
		if !slices.Contains(p.PhaseList(), phase) {
			return fmt.Errorf("package %s: commands for undeclared phase %s", p.Name, phase)
		}
	}
	return nil
}

// ProvidedVirtuals returns the distinct virtual names p can provide.
func (p *Package) ProvidedVirtuals() []string {
	var out []string
	for _, pr := range p.Provides {
		if !slices.Contains(out, pr.Virtual.Name) {
			out = append(out, pr.Virtual.Name)
		}
	}
	return out
}
