package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/smelt/internal/build"
	"github.com/roach88/smelt/internal/spec"
	"github.com/roach88/smelt/internal/stage"
)

// InstallOptions holds flags for the install command.
type InstallOptions struct {
	*RootOptions
	Jobs            int
	LockTimeout     time.Duration
	PhaseTimeout    time.Duration
	MetricsTextfile string
	NoProgress      bool
	KeepStage       bool
	NoChecksum      bool

	// Executor allows overriding phase execution (for testing).
	// If nil, defaults to build.ShellExecutor.
	Executor build.PhaseExecutor

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to build.UUIDv7Generator.
	RunIDs build.RunIDGenerator
}

// InstallNode is one node of an install run in JSON output.
type InstallNode struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Hash    string `json:"hash"`
	State   string `json:"state"`
	Prefix  string `json:"prefix,omitempty"`
	Error   string `json:"error,omitempty"`
}

// InstallResult is the JSON output of the install command.
type InstallResult struct {
	Root  string        `json:"root"`
	Hash  string        `json:"hash"`
	Nodes []InstallNode `json:"nodes"`
}

// NewInstallCommand creates the install command.
func NewInstallCommand(rootOpts *RootOptions) *cobra.Command {
	return newInstallCommand(&InstallOptions{RootOptions: rootOpts})
}

func newInstallCommand(opts *InstallOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <spec>...",
		Short: "Concretize a spec and build every missing node",
		Long: `Concretize a spec and install its DAG.

Nodes already in the installed database are skipped. Missing nodes are
built in dependency order, up to --jobs at once. A package that declares a
source archive has it checked against its version's digest and unpacked
into a stage directory first; its phases run there. A failed node fails its
dependents without building them; independent branches keep going and
whatever was installed stays installed. Ctrl-C stops starting new work.

Example:
  smelt install mpileaks
  smelt install --jobs 8 --phase-timeout 30m mpileaks ^zmpi`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(opts, specArg(args), cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 0, "nodes to build in parallel (default from config)")
	cmd.Flags().DurationVar(&opts.LockTimeout, "lock-timeout", 0, "wait at most this long for a node's install lock (default from config)")
	cmd.Flags().DurationVar(&opts.PhaseTimeout, "phase-timeout", 0, "bound each build phase (default from config)")
	cmd.Flags().StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "write build metrics to this file in node exporter textfile format")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "do not draw a progress bar")
	cmd.Flags().BoolVar(&opts.KeepStage, "keep-stage", false, "keep unpacked sources after successful builds")
	cmd.Flags().BoolVar(&opts.NoChecksum, "no-checksum", false, "stage source archives whose version declares no digest")

	return cmd
}

func runInstall(opts *InstallOptions, query string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	q, err := spec.Parse(query)
	if err != nil {
		return fail(formatter, "invalid spec", err)
	}
	sess, err := openSession(opts.RootOptions, true)
	if err != nil {
		return fail(formatter, "failed to open session", err)
	}
	defer sess.Close()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			sess.logger.Info("received signal, cancelling install", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	root, err := sess.concretizer.Concretize(ctx, q)
	if err != nil {
		return fail(formatter, "concretization failed", err)
	}

	var barOut io.Writer
	if !opts.NoProgress && !formatter.JSON() && isTerminal(formatter.GetErrWriter()) {
		barOut = formatter.GetErrWriter()
	}
	bar := newProgress(barOut, len(root.TopoOrder()))

	reg := prometheus.NewRegistry()
	stager := &stage.Stager{Root: sess.cfg.StageRoot, AllowUnverified: opts.NoChecksum, Logger: sess.logger}
	installer := build.NewInstaller(sess.index, sess.db, opts.executor(), build.Layout{Root: sess.cfg.InstallRoot},
		append(opts.installerOptions(sess.cfg.Jobs, sess.cfg.LockTimeout, sess.cfg.PhaseTimeout, sess.logger),
			build.WithStager(stager),
			build.WithKeepStage(opts.KeepStage || sess.cfg.KeepStage),
			build.WithMetrics(build.NewMetrics(reg)),
			build.WithObserver(bar.Observe))...)

	report, installErr := installer.Install(ctx, root)
	bar.Finish()

	if opts.MetricsTextfile != "" {
		if err := build.WriteMetrics(opts.MetricsTextfile, reg); err != nil {
			sess.logger.Error("failed to write metrics", "path", opts.MetricsTextfile, "error", err)
		}
	}
	if report == nil {
		return fail(formatter, "install failed", installErr)
	}

	if formatter.JSON() {
		res := installResult(report)
		if installErr != nil {
			code, exit, _ := classify(installErr)
			_ = formatter.Error(code, installErr.Error(), res)
			exitErr := WrapExitError(exit, "install failed", installErr)
			exitErr.reported = true
			return exitErr
		}
		return formatter.SuccessWithRun(report.RunID, res)
	}

	writeInstallReport(formatter.Writer, report, formatter.Verbose)
	if installErr != nil {
		return fail(formatter, "install failed", installErr)
	}
	return nil
}

func (o *InstallOptions) executor() build.PhaseExecutor {
	if o.Executor != nil {
		return o.Executor
	}
	return build.ShellExecutor{}
}

// installerOptions merges flags over config values.
func (o *InstallOptions) installerOptions(jobs int, lockTimeout, phaseTimeout time.Duration, logger *slog.Logger) []build.Option {
	if o.Jobs > 0 {
		jobs = o.Jobs
	}
	if o.LockTimeout > 0 {
		lockTimeout = o.LockTimeout
	}
	if o.PhaseTimeout > 0 {
		phaseTimeout = o.PhaseTimeout
	}
	out := []build.Option{
		build.WithJobs(jobs),
		build.WithLockTimeout(lockTimeout),
		build.WithPhaseTimeout(phaseTimeout),
		build.WithLogger(logger),
	}
	if o.RunIDs != nil {
		out = append(out, build.WithRunIDGenerator(o.RunIDs))
	}
	return out
}

func installResult(r *build.Report) InstallResult {
	res := InstallResult{Root: r.Root.Name, Hash: r.Root.DAGHash()}
	for _, n := range r.Nodes {
		node := InstallNode{
			Name:    n.Spec.Name,
			Version: n.Spec.Version.String(),
			Hash:    n.Spec.DAGHash(),
			State:   n.State.String(),
		}
		if n.State.Satisfied() {
			node.Prefix = n.Prefix
		}
		if n.Err != nil {
			node.Error = n.Err.Error()
		}
		res.Nodes = append(res.Nodes, node)
	}
	return res
}

// writeInstallReport prints one line per node in build order, then the
// captured output of failed phases when verbose.
func writeInstallReport(w io.Writer, r *build.Report, verbose bool) {
	for _, n := range r.Nodes {
		state := fmt.Sprintf("%-9s", n.State.String())
		switch n.State {
		case build.StateInstalled:
			state = styleOK.Sprint(state)
		case build.StateSkipped, build.StateCancelled:
			state = styleWarn.Sprint(state)
		case build.StateFailed:
			state = styleError.Sprint(state)
		}
		fmt.Fprintf(w, "%s %s %s%s\n", state,
			styleHash.Sprint(n.Spec.ShortHash(7)),
			styleName.Sprint(n.Spec.Name),
			styleVersion.Sprint("@"+n.Spec.Version.String()))
	}
	for _, n := range r.Failed() {
		// Dependents wrap the same error; print it for the failed node only.
		be, ok := n.Err.(*build.BuildPhaseError)
		if !ok || !verbose || len(be.Output) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n==> %s: phase %s output:\n%s", n.Spec.Name, be.Phase, be.Output)
	}
}
