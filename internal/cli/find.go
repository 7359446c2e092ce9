package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/smelt/internal/spec"
	"github.com/roach88/smelt/internal/store"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Explicit bool
	Paths    bool
}

// InstalledSpec is one installed record in JSON output.
type InstalledSpec struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Hash        string    `json:"hash"`
	Compiler    string    `json:"compiler"`
	Arch        string    `json:"arch"`
	Prefix      string    `json:"prefix"`
	Explicit    bool      `json:"explicit"`
	Phases      []string  `json:"phases"`
	InstalledAt time.Time `json:"installed_at"`
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find [spec]...",
		Short: "List installed specs",
		Long: `List installed specs in install order, optionally only those matching
a query such as "libelf", "callpath^mpich" or "/3f2a9c1".

Example:
  smelt find
  smelt find --paths mpileaks`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, specArg(args), cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Explicit, "explicit", "x", false, "only specs installed as an install root")
	cmd.Flags().BoolVarP(&opts.Paths, "paths", "p", false, "show install prefixes")

	return cmd
}

func runFind(opts *FindOptions, query string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	q := &spec.AbstractSpec{}
	if query != "" {
		var err error
		if q, err = spec.Parse(query); err != nil {
			return fail(formatter, "invalid spec", err)
		}
	}
	sess, err := openSession(opts.RootOptions, true)
	if err != nil {
		return fail(formatter, "failed to open session", err)
	}
	defer sess.Close()

	records, err := sess.db.Query(cmd.Context(), q)
	if err != nil {
		return fail(formatter, "query failed", err)
	}
	var out []*store.Record
	for _, r := range records {
		if !opts.Explicit || r.Explicit {
			out = append(out, r)
		}
	}

	if formatter.JSON() {
		res := make([]InstalledSpec, 0, len(out))
		for _, r := range out {
			res = append(res, InstalledSpec{
				Name:        r.Spec.Name,
				Version:     r.Spec.Version.String(),
				Hash:        r.Hash(),
				Compiler:    r.Spec.Compiler.String(),
				Arch:        r.Spec.Arch,
				Prefix:      r.Prefix,
				Explicit:    r.Explicit,
				Phases:      r.Phases,
				InstalledAt: r.InstalledAt,
			})
		}
		return formatter.Success(res)
	}
	writeRecords(formatter.Writer, out, opts.Paths)
	if len(out) == 0 {
		fmt.Fprintln(formatter.GetErrWriter(), "==> No installed specs match")
	}
	return nil
}

func writeRecords(w io.Writer, records []*store.Record, paths bool) {
	for _, r := range records {
		line := fmt.Sprintf("%s %s%s%%%s",
			styleHash.Sprint(r.Spec.ShortHash(7)),
			styleName.Sprint(r.Spec.Name),
			styleVersion.Sprint("@"+r.Spec.Version.String()),
			r.Spec.Compiler.String())
		if paths {
			line += "  " + r.Prefix
		}
		fmt.Fprintln(w, line)
	}
}
