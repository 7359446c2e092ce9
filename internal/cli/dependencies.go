package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/smelt/internal/deps"
	"github.com/roach88/smelt/internal/spec"
)

// DependenciesOptions holds flags for the dependencies and dependents
// commands.
type DependenciesOptions struct {
	*RootOptions
	Transitive bool
	Installed  bool
	Possible   bool
	DepTypes   string
}

func (o *DependenciesOptions) query() (deps.Options, error) {
	q := deps.Options{Transitive: o.Transitive, Installed: o.Installed, Possible: o.Possible}
	if o.Installed && o.Possible {
		return q, &setupError{code: ErrCodeInvalidArgs, err: fmt.Errorf("--installed and --possible are mutually exclusive")}
	}
	if o.DepTypes != "" {
		t, err := spec.ParseDepType(o.DepTypes)
		if err != nil {
			return q, &setupError{code: ErrCodeInvalidArgs, err: err}
		}
		q.Types = t
	}
	return q, nil
}

// NewDependenciesCommand creates the dependencies command.
func NewDependenciesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DependenciesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dependencies <spec>...",
		Short: "List the dependencies of a spec",
		Long: `List the dependencies of a spec.

By default the spec is concretized and the names of its direct
dependencies are printed, one per line. With --installed the spec is looked
up in the installed database instead and each dependency is printed as
"hash name@version". With --possible every package that any configuration
of the spec could depend on is listed.

Example:
  smelt dependencies mpileaks
  smelt dependencies --transitive --deptype link mpileaks
  smelt dependencies --installed callpath^mpich`,
		Aliases:       []string{"deps"},
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDependencies(opts, specArg(args), cmd, false)
		},
	}

	addDependencyFlags(cmd, opts)
	cmd.Flags().BoolVarP(&opts.Installed, "installed", "i", false, "query the installed database; print hashes")
	cmd.Flags().BoolVar(&opts.Possible, "possible", false, "list every possible dependency, expanding virtuals to all providers")

	return cmd
}

// NewDependentsCommand creates the dependents command.
func NewDependentsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DependenciesOptions{RootOptions: rootOpts, Installed: true}

	cmd := &cobra.Command{
		Use:   "dependents <spec>...",
		Short: "List installed specs that depend on an installed spec",
		Long: `List installed specs that depend on the one installed spec matching
the query, directly or with --transitive through any chain of dependencies.

Example:
  smelt dependents libelf
  smelt dependents --transitive /3f2a9c1`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDependencies(opts, specArg(args), cmd, true)
		},
	}

	addDependencyFlags(cmd, opts)

	return cmd
}

func addDependencyFlags(cmd *cobra.Command, opts *DependenciesOptions) {
	cmd.Flags().BoolVarP(&opts.Transitive, "transitive", "t", false, "follow edges any number of hops")
	cmd.Flags().StringVar(&opts.DepTypes, "deptype", "", "comma-separated edge types to follow: build,link,run or all (default all)")
}

func runDependencies(opts *DependenciesOptions, query string, cmd *cobra.Command, dependents bool) error {
	formatter := opts.formatter(cmd)

	q, err := opts.query()
	if err != nil {
		return fail(formatter, "invalid flags", err)
	}
	if _, err := spec.Parse(query); err != nil {
		return fail(formatter, "invalid spec", err)
	}
	sess, err := openSession(opts.RootOptions, q.Installed)
	if err != nil {
		return fail(formatter, "failed to open session", err)
	}
	defer sess.Close()

	svc := sess.depsService()
	var res *deps.Result
	if dependents {
		res, err = svc.Dependents(cmd.Context(), query, q)
	} else {
		res, err = svc.Dependencies(cmd.Context(), query, q)
	}
	if err != nil {
		return fail(formatter, "dependency query failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(res)
	}
	writeDependencies(formatter.Writer, res)
	return nil
}

// writeDependencies prints names one per line, or "hash7 name@version"
// rows for installed results.
func writeDependencies(w io.Writer, res *deps.Result) {
	for _, d := range res.Dependencies {
		if !res.Installed {
			fmt.Fprintln(w, d.Name)
			continue
		}
		fmt.Fprintf(w, "%s %s%s\n",
			styleHash.Sprint(spec.ShortHash(d.Hash, 7)),
			styleName.Sprint(d.Name),
			styleVersion.Sprint("@"+d.Version))
	}
}
