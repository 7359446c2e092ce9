package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ProviderInfo is one provider entry in JSON output.
type ProviderInfo struct {
	Package  string `json:"package"`
	Provides string `json:"provides"`
	When     string `json:"when,omitempty"`
}

// NewProvidersCommand creates the providers command.
func NewProvidersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers [virtual]...",
		Short: "List providers of virtual packages",
		Long: `List the packages that can provide each virtual, in the order the
concretizer tries them. Without arguments every virtual is listed.

Example:
  smelt providers mpi`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProviders(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runProviders(opts *RootOptions, virtuals []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	sess, err := openSession(opts, false)
	if err != nil {
		return fail(formatter, "failed to load repositories", err)
	}
	defer sess.Close()

	if len(virtuals) == 0 {
		virtuals = sess.index.Virtuals()
	}
	for _, v := range virtuals {
		if !sess.index.IsVirtual(v) {
			err := &setupError{code: ErrCodeInvalidArgs, err: fmt.Errorf("%s is not a virtual package", v)}
			return fail(formatter, "invalid arguments", err)
		}
	}

	if formatter.JSON() {
		res := map[string][]ProviderInfo{}
		for _, v := range virtuals {
			infos := []ProviderInfo{}
			for _, e := range sess.providers.Providers(v) {
				info := ProviderInfo{Package: e.Package, Provides: e.Provides.String()}
				if e.When != nil {
					info.When = e.When.String()
				}
				infos = append(infos, info)
			}
			res[v] = infos
		}
		return formatter.Success(res)
	}

	for i, v := range virtuals {
		if i > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		fmt.Fprintf(formatter.Writer, "%s:\n", styleName.Sprint(v))
		for _, name := range sess.providers.ProviderNames(v) {
			fmt.Fprintf(formatter.Writer, "    %s\n", name)
		}
	}
	return nil
}
