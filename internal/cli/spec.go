package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/smelt/internal/spec"
)

// SpecNode is one node of a concretized DAG in JSON output.
type SpecNode struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Hash         string            `json:"hash"`
	Compiler     string            `json:"compiler"`
	Arch         string            `json:"arch"`
	Variants     map[string]string `json:"variants,omitempty"`
	Dependencies []SpecEdge        `json:"dependencies,omitempty"`
}

// SpecEdge is one dependency edge in JSON output.
type SpecEdge struct {
	Name     string   `json:"name"`
	Hash     string   `json:"hash"`
	Types    []string `json:"types"`
	Virtuals []string `json:"virtuals,omitempty"`
}

// SpecResult is the JSON output of the spec command. Nodes are in
// topological order, root last.
type SpecResult struct {
	Spec  string     `json:"spec"`
	Hash  string     `json:"hash"`
	Nodes []SpecNode `json:"nodes"`
}

// NewSpecCommand creates the spec command.
func NewSpecCommand(rootOpts *RootOptions) *cobra.Command {
	var hashes bool

	cmd := &cobra.Command{
		Use:   "spec <spec>...",
		Short: "Concretize a spec and show the resulting DAG",
		Long: `Concretize a spec against the configured repositories and print the
fully resolved DAG as a tree. Each node appears once, under the first
dependent that reaches it.

Example:
  smelt spec mpileaks
  smelt spec --hashes mpileaks ^zmpi`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpec(rootOpts, specArg(args), hashes, cmd)
		},
	}

	cmd.Flags().BoolVarP(&hashes, "hashes", "l", false, "prefix each node with its short dag hash")

	return cmd
}

func runSpec(opts *RootOptions, query string, hashes bool, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	q, err := spec.Parse(query)
	if err != nil {
		return fail(formatter, "invalid spec", err)
	}
	sess, err := openSession(opts, false)
	if err != nil {
		return fail(formatter, "failed to load repositories", err)
	}
	defer sess.Close()

	root, err := sess.concretizer.Concretize(cmd.Context(), q)
	if err != nil {
		return fail(formatter, "concretization failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(specResult(root))
	}
	writeTree(formatter.Writer, root, hashes)
	return nil
}

func specResult(root *spec.ConcreteSpec) SpecResult {
	res := SpecResult{Spec: root.String(), Hash: root.DAGHash()}
	for _, n := range root.TopoOrder() {
		node := SpecNode{
			Name:     n.Name,
			Version:  n.Version.String(),
			Hash:     n.DAGHash(),
			Compiler: n.Compiler.String(),
			Arch:     n.Arch,
		}
		if len(n.Variants) > 0 {
			node.Variants = make(map[string]string, len(n.Variants))
			for _, v := range n.Variants {
				node.Variants[v.Name] = v.Value.String()
			}
		}
		for _, d := range n.Deps {
			node.Dependencies = append(node.Dependencies, SpecEdge{
				Name:     d.Spec.Name,
				Hash:     d.Spec.DAGHash(),
				Types:    d.Types.Names(),
				Virtuals: d.Virtuals,
			})
		}
		res.Nodes = append(res.Nodes, node)
	}
	return res
}

// writeTree prints root and its dependencies depth first, four spaces per
// level, each node once.
func writeTree(w io.Writer, root *spec.ConcreteSpec, hashes bool) {
	seen := map[string]bool{}
	var walk func(n *spec.ConcreteSpec, depth int)
	walk = func(n *spec.ConcreteSpec, depth int) {
		if seen[n.DAGHash()] {
			return
		}
		seen[n.DAGHash()] = true
		var line strings.Builder
		if hashes {
			line.WriteString(styleHash.Sprint(n.ShortHash(7)) + "  ")
		}
		line.WriteString(strings.Repeat("    ", depth))
		if depth > 0 {
			line.WriteString("^")
		}
		line.WriteString(renderNode(n))
		fmt.Fprintln(w, line.String())
		for _, d := range n.Deps {
			walk(d.Spec, depth+1)
		}
	}
	walk(root, 0)
}

// renderNode is NodeString with the name and version highlighted.
func renderNode(n *spec.ConcreteSpec) string {
	head := n.Name + "@" + n.Version.String()
	rest := strings.TrimPrefix(n.NodeString(), head)
	return styleName.Sprint(n.Name) + styleVersion.Sprint("@"+n.Version.String()) + rest
}

// specArg joins positional arguments so "mpileaks ^zmpi" may be passed
// quoted or as separate words.
func specArg(args []string) string {
	return strings.Join(args, " ")
}
