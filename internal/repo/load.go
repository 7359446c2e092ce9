package repo

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/smelt/internal/spec"
)

// LoadError reports a problem in a package repository, with the CUE source
// position when one is known.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// Load reads every repository directory and builds one Index. When two
// repositories define the same package, the earlier directory wins.
func Load(logger *slog.Logger, dirs ...string) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var all []*Package
	defined := map[string]string{}
	for _, dir := range dirs {
		pkgs, err := LoadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, p := range pkgs {
			if first, dup := defined[p.Name]; dup {
				logger.Debug("package shadowed by earlier repository",
					"package", p.Name, "repo", dir, "winner", first)
				continue
			}
			defined[p.Name] = dir
			all = append(all, p)
		}
		logger.Debug("loaded repository", "repo", dir, "packages", len(pkgs))
	}
	return NewIndex(all...)
}

// LoadDir loads the CUE package in dir and compiles its "packages" struct.
func LoadDir(dir string) ([]*Package, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Field: "repo", Message: fmt.Sprintf("repository not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Field: "repo", Message: fmt.Sprintf("accessing repository: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Field: "repo", Message: fmt.Sprintf("not a directory: %s", dir)}
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, &LoadError{Field: "repo", Message: fmt.Sprintf("scanning repository: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Field: "repo", Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Field: "repo", Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Field: "repo", Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	pkgs, err := compilePackages(value)
	if err != nil {
		return nil, err
	}
	// Relative source paths name files inside the repository.
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &LoadError{Field: "repo", Message: fmt.Sprintf("resolving repository: %v", err)}
	}
	for _, p := range pkgs {
		if p.Source != "" && !filepath.IsAbs(p.Source) {
			p.Source = filepath.Join(abs, p.Source)
		}
	}
	return pkgs, nil
}

// ParseSource compiles a single CUE document. The filename is used for
// error positions only.
func ParseSource(filename string, src []byte) ([]*Package, error) {
	value := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compilePackages(value)
}

func compilePackages(root cue.Value) ([]*Package, error) {
	pkgsVal := root.LookupPath(cue.ParsePath("packages"))
	if !pkgsVal.Exists() {
		return nil, &LoadError{Field: "packages", Message: "no packages struct found", Pos: root.Pos()}
	}
	iter, err := pkgsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var pkgs []*Package
	for iter.Next() {
		p, err := CompilePackage(label(iter), iter.Value())
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}

// CompilePackage turns one CUE package definition into a Package:
//
//	packages: rose: {
//		versions: [{version: "0.9.10", digest: "sha256:..."}]
//		variants: binanalysis: {default: false}
//		dependencies: [{spec: "boost@1.50:", when: "+binanalysis", type: ["build"]}]
//		provides: [{spec: "mpi@:3", when: "@3:"}]
//		phases: ["autoreconf", "configure", "build", "install"]
//		commands: configure: ["./configure --prefix={prefix}"]
//		source: "mirror/rose-{version}.tar.gz"
//	}
func CompilePackage(name string, v cue.Value) (*Package, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	p := &Package{Name: name}
	field := func(f string) string { return "packages." + name + "." + f }

	if d, ok, err := optionalString(v, "description"); err != nil {
		return nil, err
	} else if ok {
		p.Description = d
	}

	versionsVal := v.LookupPath(cue.ParsePath("versions"))
	if !versionsVal.Exists() {
		return nil, &LoadError{Field: field("versions"), Message: "versions are required", Pos: v.Pos()}
	}
	vi, err := versionsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for vi.Next() {
		dv, err := compileVersion(vi.Value())
		if err != nil {
			return nil, wrapField(err, field("versions"))
		}
		p.Versions = append(p.Versions, dv)
	}

	if vv := v.LookupPath(cue.ParsePath("variants")); vv.Exists() {
		it, err := vv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for it.Next() {
			def, err := compileVariant(label(it), it.Value())
			if err != nil {
				return nil, wrapField(err, field("variants."+label(it)))
			}
			p.Variants = append(p.Variants, def)
		}
	}

	if dv := v.LookupPath(cue.ParsePath("dependencies")); dv.Exists() {
		it, err := dv.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for it.Next() {
			dep, err := compileDependency(it.Value())
			if err != nil {
				return nil, wrapField(err, field("dependencies"))
			}
			p.Dependencies = append(p.Dependencies, dep)
		}
	}

	if pv := v.LookupPath(cue.ParsePath("provides")); pv.Exists() {
		it, err := pv.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for it.Next() {
			pr, err := compileProvide(it.Value())
			if err != nil {
				return nil, wrapField(err, field("provides"))
			}
			p.Provides = append(p.Provides, pr)
		}
	}

	if ph := v.LookupPath(cue.ParsePath("phases")); ph.Exists() {
		p.Phases, err = stringList(ph)
		if err != nil {
			return nil, wrapField(err, field("phases"))
		}
	}

	if src, ok, err := optionalString(v, "source"); err != nil {
		return nil, err
	} else if ok {
		p.Source = src
	}

	if cv := v.LookupPath(cue.ParsePath("commands")); cv.Exists() {
		it, err := cv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		p.PhaseCommands = map[string][]string{}
		for it.Next() {
			cmds, err := stringList(it.Value())
			if err != nil {
				return nil, wrapField(err, field("commands."+label(it)))
			}
			p.PhaseCommands[label(it)] = cmds
		}
	}

	if err := p.Validate(); err != nil {
		return nil, &LoadError{Field: "packages." + name, Message: err.Error(), Pos: v.Pos()}
	}
	return p, nil
}

func compileVersion(v cue.Value) (DeclaredVersion, error) {
	raw, err := requiredString(v, "version")
	if err != nil {
		return DeclaredVersion{}, err
	}
	ver, err := spec.ParseVersion(raw)
	if err != nil {
		return DeclaredVersion{}, &LoadError{Field: "version", Message: err.Error(), Pos: v.Pos()}
	}
	digest, _, err := optionalString(v, "digest")
	if err != nil {
		return DeclaredVersion{}, err
	}
	return DeclaredVersion{Version: ver, Digest: digest}, nil
}

// compileVariant infers the kind from the default when "kind" is absent:
// bool defaults are KindBool, lists KindMulti, strings KindSingle when
// "values" is given and KindString otherwise.
func compileVariant(name string, v cue.Value) (spec.VariantDef, error) {
	def := spec.VariantDef{Name: name}
	var err error
	if desc, ok, err := optionalString(v, "description"); err != nil {
		return def, err
	} else if ok {
		def.Description = desc
	}
	if vals := v.LookupPath(cue.ParsePath("values")); vals.Exists() {
		if def.Allowed, err = stringList(vals); err != nil {
			return def, err
		}
	}

	dv := v.LookupPath(cue.ParsePath("default"))
	if !dv.Exists() {
		return def, &LoadError{Field: "default", Message: "variant default is required", Pos: v.Pos()}
	}

	kindName, hasKind, err := optionalString(v, "kind")
	if err != nil {
		return def, err
	}
	if hasKind {
		if def.Kind, err = spec.ParseVariantKind(kindName); err != nil {
			return def, &LoadError{Field: "kind", Message: err.Error(), Pos: v.Pos()}
		}
	}

	switch dv.Kind() {
	case cue.BoolKind:
		b, err := dv.Bool()
		if err != nil {
			return def, formatCUEError(err)
		}
		def.Default = spec.BoolValue(b)
		if !hasKind {
			def.Kind = spec.KindBool
		}
	case cue.ListKind:
		items, err := stringList(dv)
		if err != nil {
			return def, err
		}
		def.Default = spec.NewSetValue(items...)
		if !hasKind {
			def.Kind = spec.KindMulti
		}
	case cue.StringKind:
		s, err := dv.String()
		if err != nil {
			return def, formatCUEError(err)
		}
		def.Default = spec.EnumValue(s)
		if !hasKind {
			def.Kind = spec.KindString
			if len(def.Allowed) > 0 {
				def.Kind = spec.KindSingle
			}
		}
	default:
		return def, &LoadError{Field: "default", Message: fmt.Sprintf("unsupported default of kind %s", dv.Kind()), Pos: dv.Pos()}
	}

	coerced, err := def.Coerce(def.Default)
	if err != nil {
		return def, &LoadError{Field: "default", Message: err.Error(), Pos: dv.Pos()}
	}
	def.Default = coerced
	return def, nil
}

func compileDependency(v cue.Value) (Dependency, error) {
	var dep Dependency
	s, err := requiredSpec(v, "spec")
	if err != nil {
		return dep, err
	}
	dep.Spec = s
	if dep.When, err = optionalSpec(v, "when"); err != nil {
		return dep, err
	}
	dep.Types = spec.DepDefault
	if tv := v.LookupPath(cue.ParsePath("type")); tv.Exists() {
		names, err := stringList(tv)
		if err != nil {
			return dep, err
		}
		if dep.Types, err = spec.DepTypeFromNames(names); err != nil {
			return dep, &LoadError{Field: "type", Message: err.Error(), Pos: tv.Pos()}
		}
	}
	return dep, nil
}

func compileProvide(v cue.Value) (Provide, error) {
	var pr Provide
	s, err := requiredSpec(v, "spec")
	if err != nil {
		return pr, err
	}
	pr.Virtual = s
	pr.When, err = optionalSpec(v, "when")
	return pr, err
}

func requiredString(v cue.Value, path string) (string, error) {
	s, ok, err := optionalString(v, path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &LoadError{Field: path, Message: path + " is required", Pos: v.Pos()}
	}
	return s, nil
}

func optionalString(v cue.Value, path string) (string, bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", false, nil
	}
	s, err := f.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

func requiredSpec(v cue.Value, path string) (*spec.AbstractSpec, error) {
	s, err := optionalSpec(v, path)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &LoadError{Field: path, Message: path + " is required", Pos: v.Pos()}
	}
	return s, nil
}

func optionalSpec(v cue.Value, path string) (*spec.AbstractSpec, error) {
	raw, ok, err := optionalString(v, path)
	if err != nil || !ok {
		return nil, err
	}
	s, err := spec.Parse(raw)
	if err != nil {
		return nil, &LoadError{Field: path, Message: err.Error(), Pos: v.LookupPath(cue.ParsePath(path)).Pos()}
	}
	return s, nil
}

// stringList accepts a single string or a list of strings.
func stringList(v cue.Value) ([]string, error) {
	if s, err := v.String(); err == nil {
		return []string{s}, nil
	}
	it, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for it.Next() {
		s, err := it.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func wrapField(err error, field string) error {
	var le *LoadError
	if errors.As(err, &le) && !strings.HasPrefix(le.Field, "packages.") {
		return &LoadError{Field: field + "." + le.Field, Message: le.Message, Pos: le.Pos}
	}
	return err
}

// label returns the unquoted field name, so "multi-provider-mpi" loses its quotes.
func label(it *cue.Iterator) string { return it.Selector().Unquoted() }
