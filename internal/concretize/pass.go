package concretize

import (
	"slices"
	"strings"

	"github.com/roach88/smelt/internal/repo"
	"github.com/roach88/smelt/internal/spec"
)

// state is what one pass hands to the next.
type state struct {
	bindings    map[string]*binding
	virtualCons map[string][]*spec.AbstractSpec
}

type node struct {
	name  string
	pkg   *repo.Package
	cons  []*spec.AbstractSpec
	inh   inherited
	edges []edge
	used  *binding
	final *binding
}

type edge struct {
	child    string
	types    spec.DepType
	virtuals []string
}

func (n *node) addEdge(child string, types spec.DepType, virtuals []string) {
	for i := range n.edges {
		e := &n.edges[i]
		if e.child != child {
			continue
		}
		e.types |= types
		for _, v := range virtuals {
			if !slices.Contains(e.virtuals, v) {
				e.virtuals = append(e.virtuals, v)
			}
		}
		return
	}
	n.edges = append(n.edges, edge{child: child, types: types, virtuals: virtuals})
}

// choice records the provider picked for a virtual and the constraint
// set it was picked under.
type choice struct {
	provider string
	allowed  spec.VersionConstraint
	key      string
}

// pass is one expansion from the root.
type pass struct {
	c    *Concretizer
	prev *state

	nodes map[string]*node
	order []string
	queue []string
	root  string

	// requested holds the request's '^' constraints on packages;
	// requestedOrder keeps their authored order.
	requested      map[string][]*spec.AbstractSpec
	requestedOrder []string

	virtualCons map[string][]*spec.AbstractSpec
	choices     map[string]*choice
}

func stripDeps(s *spec.AbstractSpec) *spec.AbstractSpec {
	c := s.Clone()
	c.Deps = nil
	return c
}

func (c *Concretizer) runPass(req *spec.AbstractSpec, prev *state) (*pass, error) {
	p := &pass{
		c:           c,
		prev:        prev,
		nodes:       map[string]*node{},
		requested:   map[string][]*spec.AbstractSpec{},
		virtualCons: map[string][]*spec.AbstractSpec{},
		choices:     map[string]*choice{},
	}

	for _, d := range req.Deps {
		if d.Types != 0 {
			continue
		}
		name := d.Spec.Name
		if name == "" {
			return nil, unsatisfiable(req.Name, "constraint ^%s names no package", d.Spec)
		}
		if !c.index.Exists(name) {
			return nil, unsatisfiable(name, "unknown package")
		}
		con := stripDeps(d.Spec)
		if c.index.IsVirtual(name) {
			p.virtualCons[name] = append(p.virtualCons[name], con)
			continue
		}
		if _, seen := p.requested[name]; !seen {
			p.requestedOrder = append(p.requestedOrder, name)
		}
		p.requested[name] = append(p.requested[name], con)
	}

	inh := inherited{compiler: c.defaultCompiler, arch: c.defaultArch}
	rootCon := stripDeps(req)
	switch {
	case c.index.IsVirtual(req.Name):
		p.virtualCons[req.Name] = append(p.virtualCons[req.Name], rootCon)
		ch, err := p.choose(req.Name)
		if err != nil {
			return nil, err
		}
		p.root = ch.provider
		root := p.ensure(ch.provider, inh)
		root.cons = append(root.cons, &spec.AbstractSpec{Name: ch.provider, Versions: ch.allowed})
		if fwd := forwarded(rootCon, ch.provider); fwd != nil {
			root.cons = append(root.cons, fwd)
		}
	default:
		if _, ok := c.index.Get(req.Name); !ok {
			return nil, unsatisfiable(req.Name, "unknown package")
		}
		p.root = req.Name
		root := p.ensure(req.Name, inh)
		root.cons = append(root.cons, rootCon)
	}

	for len(p.queue) > 0 {
		name := p.queue[0]
		p.queue = p.queue[1:]
		if err := p.expand(p.nodes[name], req); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ensure returns the node for name, creating and enqueueing it on first
// sight. Of all parents that reach a node, the one with the lowest name
// decides what it inherits, whatever order the walk visits them in.
func (p *pass) ensure(name string, inh inherited) *node {
	if n, ok := p.nodes[name]; ok {
		if n.inh.from != "" && inh.from < n.inh.from {
			n.inh = inh
		}
		return n
	}
	pkg, _ := p.c.index.Get(name)
	n := &node{name: name, pkg: pkg, inh: inh}
	n.cons = append(n.cons, p.requested[name]...)
	p.nodes[name] = n
	p.order = append(p.order, name)
	p.queue = append(p.queue, name)
	return n
}

// expand binds n tentatively and adds the dependency edges whose
// when-predicates hold under that binding. The previous pass's binding is
// used when there is one, so every pass sees a consistent picture.
func (p *pass) expand(n *node, req *spec.AbstractSpec) error {
	b := p.prev.bindings[n.name]
	if b == nil {
		var err error
		if b, err = p.c.bind(n.pkg, n.cons, n.inh); err != nil {
			return err
		}
	}
	n.used = b

	for _, d := range n.pkg.Dependencies {
		if !b.satisfies(d.When) {
			continue
		}
		if err := p.addDependency(n, d.Spec, d.Types); err != nil {
			return err
		}
	}
	if n.name == p.root {
		for _, d := range req.Deps {
			if d.Types == 0 {
				continue
			}
			if err := p.addDependency(n, d.Spec, d.Types); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *pass) addDependency(parent *node, dep *spec.AbstractSpec, types spec.DepType) error {
	name := dep.Name
	if !p.c.index.Exists(name) {
		return unsatisfiable(parent.name, "depends on unknown package %q", name)
	}
	con := stripDeps(dep)
	inh := inherited{compiler: parent.used.compiler, arch: parent.used.arch, from: parent.name}

	if !p.c.index.IsVirtual(name) {
		child := p.ensure(name, inh)
		child.cons = append(child.cons, con)
		parent.addEdge(name, types, nil)
		return nil
	}

	p.virtualCons[name] = append(p.virtualCons[name], con)
	ch, err := p.choose(name)
	if err != nil {
		return err
	}
	child := p.ensure(ch.provider, inh)
	child.cons = append(child.cons, &spec.AbstractSpec{Name: ch.provider, Versions: ch.allowed})
	if fwd := forwarded(con, ch.provider); fwd != nil {
		child.cons = append(child.cons, fwd)
	}
	parent.addEdge(ch.provider, types, []string{name})
	return nil
}

// forwarded carries the compiler and architecture of a virtual constraint
// over to the chosen provider. Versions and variants of a virtual describe
// the interface, not the provider package.
func forwarded(con *spec.AbstractSpec, provider string) *spec.AbstractSpec {
	if con.Compiler == nil && con.Arch == "" {
		return nil
	}
	return &spec.AbstractSpec{Name: provider, Compiler: con.Compiler, Arch: con.Arch}
}

// choose picks the provider for a virtual: the provider already chosen in
// this DAG, else a provider the request names explicitly, else the first
// provider in index order that is compatible with every constraint seen
// on the virtual.
func (p *pass) choose(virtual string) (*choice, error) {
	if ch, ok := p.choices[virtual]; ok {
		return ch, nil
	}
	cons := mergeCons(p.prev.virtualCons[virtual], p.virtualCons[virtual])

	var candidates []string
	for _, name := range p.requestedOrder {
		pkg, _ := p.c.index.Get(name)
		if slices.Contains(pkg.ProvidedVirtuals(), virtual) {
			candidates = append(candidates, name)
		}
	}
	explicit := len(candidates) > 0
	if !explicit {
		candidates = p.c.providers.ProviderNames(virtual)
	}

	for _, prov := range candidates {
		allowed := p.c.providerVersions(prov, virtual, cons, p.requested[prov])
		if len(allowed) > 0 {
			ch := &choice{provider: prov, allowed: allowed, key: consKey(cons)}
			p.choices[virtual] = ch
			return ch, nil
		}
	}

	want := describeVirtual(virtual, cons)
	switch {
	case len(candidates) == 0:
		return nil, noProvider(virtual, "no package provides %s", want)
	case explicit:
		return nil, noProvider(virtual, "requested provider %s cannot provide %s",
			strings.Join(candidates, ", "), want)
	}
	return nil, noProvider(virtual, "none of %s can provide %s", strings.Join(candidates, ", "), want)
}

// providerVersions returns, as a union of exact pins, the versions of prov
// that provide a version of virtual compatible with every constraint.
func (c *Concretizer) providerVersions(prov, virtual string, vcons, pcons []*spec.AbstractSpec) spec.VersionConstraint {
	pkg, _ := c.index.Get(prov)
	versions := pkg.VersionList()
	if pin, ok := c.pins[prov]; ok {
		versions = []spec.Version{pin}
	}
	entries := c.providers.Providers(virtual)

	var allowed spec.VersionConstraint
	for _, v := range versions {
		ok := true
		for _, con := range pcons {
			if !con.Versions.Contains(v) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		probe := probeBinding(pkg, v, pcons)
		for _, e := range entries {
			if e.Package != prov || !probe.satisfies(e.When) || !intersectsAll(e.Provides.Versions, vcons) {
				continue
			}
			allowed = append(allowed, spec.VersionRange{Lo: &v, Hi: &v, Exact: true})
			break
		}
	}
	return allowed
}

// probeBinding approximates a provider's binding at version v for
// evaluating provides when-predicates: requested variants where valid,
// defaults elsewhere.
func probeBinding(pkg *repo.Package, v spec.Version, cons []*spec.AbstractSpec) *binding {
	b := &binding{version: v, variants: map[string]spec.VariantValue{}}
	for _, def := range pkg.Variants {
		b.variants[def.Name] = def.Default
	}
	for _, con := range cons {
		for name, val := range con.Variants {
			def, ok := pkg.Variant(name)
			if !ok {
				continue
			}
			if coerced, err := def.Coerce(val); err == nil {
				b.variants[name] = coerced
			}
		}
	}
	return b
}

func intersectsAll(provided spec.VersionConstraint, cons []*spec.AbstractSpec) bool {
	for _, con := range cons {
		if !provided.Intersects(con.Versions, nil) {
			return false
		}
	}
	return true
}

func mergeCons(a, b []*spec.AbstractSpec) []*spec.AbstractSpec {
	out := slices.Clone(a)
	seen := map[string]bool{}
	for _, s := range a {
		seen[s.String()] = true
	}
	for _, s := range b {
		if !seen[s.String()] {
			seen[s.String()] = true
			out = append(out, s)
		}
	}
	return out
}

// consKey identifies a constraint set independent of order and duplicates.
func consKey(cons []*spec.AbstractSpec) string {
	keys := make([]string, len(cons))
	for i, s := range cons {
		keys[i] = s.String()
	}
	slices.Sort(keys)
	return strings.Join(slices.Compact(keys), " ")
}

func describeVirtual(virtual string, cons []*spec.AbstractSpec) string {
	var ranges []string
	for _, con := range cons {
		if len(con.Versions) > 0 {
			ranges = append(ranges, "@"+con.Versions.String())
		}
	}
	slices.Sort(ranges)
	ranges = slices.Compact(ranges)
	if len(ranges) == 0 {
		return virtual
	}
	return virtual + strings.Join(ranges, "")
}

// finish binds every node from its complete constraint set and reports
// whether the pass used exactly these bindings and provider choices.
func (p *pass) finish() (*state, bool, error) {
	next := &state{bindings: map[string]*binding{}, virtualCons: p.virtualCons}
	converged := true
	for _, name := range p.order {
		n := p.nodes[name]
		b, err := p.c.bind(n.pkg, n.cons, n.inh)
		if err != nil {
			return nil, false, err
		}
		n.final = b
		next.bindings[name] = b
		if !b.equal(n.used) {
			converged = false
		}
	}
	for virtual, ch := range p.choices {
		if ch.key != consKey(p.virtualCons[virtual]) {
			converged = false
		}
	}
	return next, converged, nil
}

// checkRequested fails when a '^' constraint names something the DAG
// never reaches.
func (p *pass) checkRequested(req *spec.AbstractSpec) error {
	for _, name := range p.requestedOrder {
		if _, ok := p.nodes[name]; !ok {
			return unsatisfiable(req.Name, "%s does not depend on %s", req.Name, name)
		}
	}
	for virtual := range p.virtualCons {
		if _, ok := p.choices[virtual]; !ok {
			return unsatisfiable(req.Name, "%s does not depend on %s", req.Name, virtual)
		}
	}
	return nil
}

// build finalizes nodes bottom-up and interns them by hash.
func (p *pass) build() (*spec.ConcreteSpec, error) {
	built := map[string]*spec.ConcreteSpec{}
	var visit func(name string) (*spec.ConcreteSpec, error)
	visit = func(name string) (*spec.ConcreteSpec, error) {
		if s, ok := built[name]; ok {
			return s, nil
		}
		n := p.nodes[name]
		s := &spec.ConcreteSpec{
			Name:     n.name,
			Version:  n.final.version,
			Variants: n.final.variantBindings(),
			Compiler: n.final.compiler,
			Arch:     n.final.arch,
		}
		for _, e := range n.edges {
			child, err := visit(e.child)
			if err != nil {
				return nil, err
			}
			s.Deps = append(s.Deps, spec.ConcreteEdge{Spec: child, Types: e.types, Virtuals: e.virtuals})
		}
		if err := s.Finalize(); err != nil {
			return nil, err
		}
		s = p.c.interner.Intern(s)
		built[name] = s
		return s, nil
	}
	return visit(p.root)
}
