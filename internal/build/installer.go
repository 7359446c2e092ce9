package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/smelt/internal/repo"
	"github.com/roach88/smelt/internal/spec"
	"github.com/roach88/smelt/internal/stage"
	"github.com/roach88/smelt/internal/store"
)

// FetchPhase is the name under which source staging is timed and reported.
const FetchPhase = "fetch"

// Event is one node state transition.
type Event struct {
	RunID string
	Spec  *spec.ConcreteSpec
	State NodeState
	Err   error
}

// Observer receives state transitions. Calls are serialized.
type Observer func(Event)

// NodeReport is the final state of one node.
type NodeReport struct {
	Spec   *spec.ConcreteSpec
	State  NodeState
	Prefix string
	Err    error
}

// Report describes one install run. Nodes are in topological order, root
// last.
type Report struct {
	RunID string
	Root  *spec.ConcreteSpec
	Nodes []NodeReport
}

// Lookup returns the report for the node named name.
func (r *Report) Lookup(name string) (NodeReport, bool) {
	for _, n := range r.Nodes {
		if n.Spec.Name == name {
			return n, true
		}
	}
	return NodeReport{}, false
}

// Count returns how many nodes ended in state.
func (r *Report) Count(state NodeState) int {
	c := 0
	for _, n := range r.Nodes {
		if n.State == state {
			c++
		}
	}
	return c
}

// Failed returns the failed nodes in topological order.
func (r *Report) Failed() []NodeReport {
	var out []NodeReport
	for _, n := range r.Nodes {
		if n.State == StateFailed {
			out = append(out, n)
		}
	}
	return out
}

// Installer drives concrete DAGs to the installed state.
type Installer struct {
	index    *repo.Index
	db       *store.Store
	executor PhaseExecutor
	layout   Layout

	locks        *LockTable
	jobs         int
	lockTimeout  time.Duration
	phaseTimeout time.Duration

	stager    *stage.Stager
	keepStage bool

	metrics  *Metrics
	observer Observer
	obsMu    sync.Mutex
	runIDs   RunIDGenerator
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithJobs bounds how many nodes build at once.
func WithJobs(n int) Option {
	return func(in *Installer) { in.jobs = n }
}

// WithLockTimeout bounds the wait for a node's lock. Zero waits forever.
func WithLockTimeout(d time.Duration) Option {
	return func(in *Installer) { in.lockTimeout = d }
}

// WithPhaseTimeout bounds each phase. Zero means no bound.
func WithPhaseTimeout(d time.Duration) Option {
	return func(in *Installer) { in.phaseTimeout = d }
}

// WithLockTable shares a lock table with other installers.
func WithLockTable(t *LockTable) Option {
	return func(in *Installer) { in.locks = t }
}

// WithStager unpacks each package's declared source archive before its
// phases run. Without a stager phases run in the install prefix.
func WithStager(s *stage.Stager) Option {
	return func(in *Installer) { in.stager = s }
}

// WithKeepStage keeps stage directories after successful installs.
// Stages of failed nodes are always kept.
func WithKeepStage(keep bool) Option {
	return func(in *Installer) { in.keepStage = keep }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(in *Installer) { in.metrics = m }
}

// WithObserver registers a state transition callback.
func WithObserver(o Observer) Option {
	return func(in *Installer) { in.observer = o }
}

// WithRunIDGenerator overrides the UUIDv7 run IDs.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(in *Installer) { in.runIDs = g }
}

// WithClock sets the source of install timestamps.
func WithClock(now func() time.Time) Option {
	return func(in *Installer) { in.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Installer) { in.logger = l }
}

// NewInstaller creates an Installer that records installs in db and runs
// phases with exec under layout.
func NewInstaller(index *repo.Index, db *store.Store, exec PhaseExecutor, layout Layout, opts ...Option) *Installer {
	in := &Installer{
		index:    index,
		db:       db,
		executor: exec,
		layout:   layout,
		jobs:     runtime.GOMAXPROCS(0),
		runIDs:   UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.locks == nil {
		in.locks = NewLockTable()
	}
	if in.jobs < 1 {
		in.jobs = 1
	}
	return in
}

type outcome struct {
	i      int
	state  NodeState
	prefix string
	err    error
}

// Install installs every missing node of root's DAG.
//
// Nodes already in the database are skipped. A failed node fails every
// dependent without attempting it, while independent branches keep
// building. Nodes installed before a failure stay installed. When ctx ends
// no new node is started and unstarted nodes end Cancelled.
//
// The returned error is nil when the root ends installed or skipped, the
// root's error when it failed, and ctx's error when it was cancelled. The
// report is always returned for a finalized root.
func (in *Installer) Install(ctx context.Context, root *spec.ConcreteSpec) (*Report, error) {
	if root == nil || root.DAGHash() == "" {
		return nil, errors.New("install: spec is not concrete")
	}
	runID := in.runIDs.Generate()
	logger := in.logger.With("run_id", runID)
	in.metrics.observeRun()

	order := root.TopoOrder()
	rep := &Report{RunID: runID, Root: root, Nodes: make([]NodeReport, len(order))}
	index := make(map[string]int, len(order))
	for i, n := range order {
		rep.Nodes[i] = NodeReport{Spec: n, State: StatePending, Prefix: in.layout.Prefix(n)}
		index[n.DAGHash()] = i
	}
	waiting := make([]int, len(order))
	dependents := make([][]int, len(order))
	for i, n := range order {
		for _, d := range n.Dependencies(spec.DepAll) {
			j := index[d.DAGHash()]
			waiting[i]++
			dependents[j] = append(dependents[j], i)
		}
	}
	var ready []int
	for i := range order {
		if waiting[i] == 0 {
			ready = append(ready, i)
		}
	}
	logger.Info("install started", "package", root.Name, "hash", root.ShortHash(7), "nodes", len(order))

	results := make(chan outcome, len(order))
	var g errgroup.Group
	g.SetLimit(in.jobs)
	inflight, remaining := 0, len(order)
	stopped := false

	for remaining > 0 {
		if ctx.Err() != nil {
			stopped = true
		}
		for !stopped && len(ready) > 0 {
			i := ready[0]
			ready = ready[1:]
			n := order[i]
			req := nodeRequest{
				spec:        n,
				prefix:      rep.Nodes[i].Prefix,
				depPrefixes: depPrefixes(n, rep, index),
				explicit:    n == root,
			}
			inflight++
			g.Go(func() error {
				state, prefix, err := in.installNode(ctx, logger, runID, req)
				results <- outcome{i: i, state: state, prefix: prefix, err: err}
				return nil
			})
		}
		if inflight == 0 {
			break
		}

		var r outcome
		if stopped {
			r = <-results
		} else {
			select {
			case r = <-results:
			case <-ctx.Done():
				stopped = true
				continue
			}
		}
		inflight--
		remaining--
		if r.prefix != "" {
			rep.Nodes[r.i].Prefix = r.prefix
		}
		in.settle(runID, rep, r.i, r.state, r.err)

		if r.state.Satisfied() {
			for _, j := range dependents[r.i] {
				waiting[j]--
				if waiting[j] == 0 && rep.Nodes[j].State == StatePending {
					ready = append(ready, j)
				}
			}
			continue
		}
		remaining -= in.propagate(runID, rep, dependents, r.i)
	}
	_ = g.Wait()

	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	for i := range rep.Nodes {
		if rep.Nodes[i].State == StatePending {
			in.settle(runID, rep, i, StateCancelled, cause)
		}
	}

	last := rep.Nodes[len(rep.Nodes)-1]
	logger.Info("install finished", "package", root.Name, "hash", root.ShortHash(7),
		"state", last.State.String(),
		"installed", rep.Count(StateInstalled),
		"skipped", rep.Count(StateSkipped),
		"failed", rep.Count(StateFailed),
		"cancelled", rep.Count(StateCancelled))
	switch last.State {
	case StateInstalled, StateSkipped:
		return rep, nil
	case StateCancelled:
		return rep, cause
	}
	return rep, last.Err
}

// propagate ends every pending dependent of node i in the state implied by
// i's outcome and returns how many nodes it ended.
func (in *Installer) propagate(runID string, rep *Report, dependents [][]int, i int) int {
	src := rep.Nodes[i]
	var (
		state = src.State
		cause = src.Err
		name  = src.Spec.Name
	)
	var df *DependencyFailedError
	if errors.As(cause, &df) {
		cause, name = df.Err, df.Dependency
	}
	ended := 0
	queue := append([]int(nil), dependents[i]...)
	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]
		if rep.Nodes[j].State != StatePending {
			continue
		}
		n := rep.Nodes[j].Spec
		err := cause
		if state == StateFailed {
			err = &DependencyFailedError{Package: n.Name, Hash: n.DAGHash(), Dependency: name, Err: cause}
		}
		in.settle(runID, rep, j, state, err)
		ended++
		queue = append(queue, dependents[j]...)
	}
	return ended
}

// settle records a terminal state reached by node i.
func (in *Installer) settle(runID string, rep *Report, i int, state NodeState, err error) {
	rep.Nodes[i].State = state
	rep.Nodes[i].Err = err
	in.metrics.observeNode(state)
	in.notify(Event{RunID: runID, Spec: rep.Nodes[i].Spec, State: state, Err: err})
}

func (in *Installer) notify(ev Event) {
	if in.observer == nil {
		return
	}
	in.obsMu.Lock()
	defer in.obsMu.Unlock()
	in.observer(ev)
}

// depPrefixes maps every dependency in n's closure to its prefix. Every
// one of them has already been installed or skipped.
func depPrefixes(n *spec.ConcreteSpec, rep *Report, index map[string]int) map[string]string {
	out := map[string]string{}
	for _, d := range n.Closure(spec.DepAll) {
		out[d.Name] = rep.Nodes[index[d.DAGHash()]].Prefix
	}
	return out
}

type nodeRequest struct {
	spec        *spec.ConcreteSpec
	prefix      string
	stageDir    string
	depPrefixes map[string]string
	explicit    bool
}

// installNode runs one node from Pending to a terminal state. The returned
// prefix is set when the node was installed elsewhere before this run.
func (in *Installer) installNode(ctx context.Context, logger *slog.Logger, runID string, req nodeRequest) (NodeState, string, error) {
	n := req.spec
	hash := n.DAGHash()
	logger = logger.With("package", n.Name, "hash", n.ShortHash(7))
	if err := ctx.Err(); err != nil {
		return StateCancelled, "", err
	}

	release, err := in.locks.Acquire(ctx, hash, in.lockTimeout)
	if errors.Is(err, errLockTimeout) {
		logger.Warn("lock timeout", "timeout", in.lockTimeout)
		return StateFailed, "", &LockTimeoutError{Package: n.Name, Hash: hash, Timeout: in.lockTimeout}
	}
	if err != nil {
		return StateCancelled, "", err
	}
	defer release()
	in.notify(Event{RunID: runID, Spec: n, State: StateLocked})

	rec, err := in.db.LookupByHash(ctx, hash)
	if err == nil {
		logger.Debug("already installed", "prefix", rec.Prefix)
		return StateSkipped, rec.Prefix, nil
	}
	if !store.IsNotFound(err) {
		if ctx.Err() != nil {
			return StateCancelled, "", ctx.Err()
		}
		return StateFailed, "", fmt.Errorf("install %s: %w", n.Name, err)
	}

	pkg, ok := in.index.Get(n.Name)
	if !ok {
		return StateFailed, "", fmt.Errorf("install %s: package not in index", n.Name)
	}
	in.notify(Event{RunID: runID, Spec: n, State: StateBuilding})
	if err := os.MkdirAll(req.prefix, 0o755); err != nil {
		return StateFailed, "", fmt.Errorf("install %s: %w", n.Name, err)
	}

	phases := pkg.PhaseList()
	if archive := pkg.SourceArchive(n.Version); archive != "" && in.stager != nil {
		req.stageDir = in.stager.Dir(n)
		if err := in.fetch(ctx, logger, pkg, archive, req); err != nil {
			in.discard(logger, req.prefix)
			if ctx.Err() != nil {
				return StateCancelled, "", ctx.Err()
			}
			return StateFailed, "", err
		}
		if !slices.Contains(phases, FetchPhase) {
			phases = append([]string{FetchPhase}, phases...)
		}
	}
	for _, phase := range phases {
		if phase == FetchPhase && req.stageDir != "" && len(pkg.PhaseCommands[phase]) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			in.discard(logger, req.prefix)
			return StateCancelled, "", err
		}
		if err := in.runPhase(ctx, logger, pkg, phase, req); err != nil {
			in.discard(logger, req.prefix)
			if ctx.Err() != nil {
				return StateCancelled, "", ctx.Err()
			}
			return StateFailed, "", err
		}
	}

	// A finished build is recorded even if ctx ended meanwhile.
	_, err = in.db.Insert(context.WithoutCancel(ctx), store.Record{
		Spec:        n,
		Prefix:      req.prefix,
		Phases:      phases,
		Explicit:    req.explicit,
		InstalledAt: in.now(),
	})
	if err != nil {
		return StateFailed, "", fmt.Errorf("install %s: %w", n.Name, err)
	}
	if req.stageDir != "" && !in.keepStage {
		in.stager.Clean(req.stageDir)
	}
	logger.Info("installed", "prefix", req.prefix)
	return StateInstalled, "", nil
}

// fetch verifies and unpacks the node's source archive into its stage.
func (in *Installer) fetch(ctx context.Context, logger *slog.Logger, pkg *repo.Package, archive string, req nodeRequest) error {
	digest, _ := pkg.Digest(req.spec.Version)
	logger.Debug("phase started", "phase", FetchPhase, "archive", archive)
	start := time.Now()
	err := in.stager.Stage(ctx, archive, digest, req.stageDir)
	in.metrics.observePhase(FetchPhase, time.Since(start))
	if err != nil {
		logger.Error("phase failed", "phase", FetchPhase, "error", err)
		return &BuildPhaseError{
			Package: req.spec.Name,
			Hash:    req.spec.DAGHash(),
			Phase:   FetchPhase,
			Err:     err,
		}
	}
	return nil
}

func (in *Installer) runPhase(ctx context.Context, logger *slog.Logger, pkg *repo.Package, phase string, req nodeRequest) error {
	pctx := ctx
	if in.phaseTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, in.phaseTimeout)
		defer cancel()
	}
	logger.Debug("phase started", "phase", phase)
	start := time.Now()
	res, err := in.executor.Execute(pctx, PhaseRequest{
		Spec:        req.spec,
		Phase:       phase,
		Prefix:      req.prefix,
		StageDir:    req.stageDir,
		DepPrefixes: req.depPrefixes,
		Commands:    pkg.PhaseCommands[phase],
	})
	in.metrics.observePhase(phase, time.Since(start))
	if err != nil {
		logger.Error("phase failed", "phase", phase, "error", err)
		return &BuildPhaseError{
			Package: req.spec.Name,
			Hash:    req.spec.DAGHash(),
			Phase:   phase,
			Output:  res.Output,
			Err:     err,
		}
	}
	return nil
}

// discard removes a partially built prefix.
func (in *Installer) discard(logger *slog.Logger, prefix string) {
	if err := os.RemoveAll(prefix); err != nil {
		logger.Warn("remove partial prefix", "prefix", prefix, "error", err)
	}
}
