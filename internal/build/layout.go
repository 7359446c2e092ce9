package build

import (
	"path/filepath"
	"strings"

	"github.com/roach88/smelt/internal/spec"
)

// Layout maps concrete specs to install prefixes under Root:
//
//	<root>/<arch>/<compiler>-<version>/<name>-<version>-<hash7>
type Layout struct {
	Root string
}

// Prefix returns the install prefix for s.
func (l Layout) Prefix(s *spec.ConcreteSpec) string {
	arch := s.Arch
	if arch == "" {
		arch = "any"
	}
	compiler := strings.ReplaceAll(s.Compiler.String(), "@", "-")
	if compiler == "" {
		compiler = "none"
	}
	return filepath.Join(l.Root, arch, compiler,
		s.Name+"-"+s.Version.String()+"-"+s.ShortHash(7))
}
