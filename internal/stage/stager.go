package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/smelt/internal/spec"
)

// Stager verifies source archives and unpacks them into per-node stage
// directories under Root.
type Stager struct {
	Root string

	// AllowUnverified stages archives whose version declares no digest.
	// Otherwise a missing digest is an error.
	AllowUnverified bool

	Logger *slog.Logger
}

func (s *Stager) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Dir returns the stage directory for n.
func (s *Stager) Dir(n *spec.ConcreteSpec) string {
	return filepath.Join(s.Root, n.Name+"-"+n.Version.String()+"-"+n.ShortHash(7))
}

// Stage checks archive against digest and extracts it into dir, replacing
// whatever a previous attempt left there.
func (s *Stager) Stage(ctx context.Context, archive, digest, dir string) error {
	if digest == "" {
		if !s.AllowUnverified {
			return fmt.Errorf("stage %s: no digest declared", filepath.Base(archive))
		}
		s.logger().Warn("staging unverified archive", "archive", archive)
	} else {
		want, err := ParseDigest(digest)
		if err != nil {
			return fmt.Errorf("stage %s: %w", filepath.Base(archive), err)
		}
		if err := Verify(archive, want); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("stage %s: %w", filepath.Base(archive), err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stage %s: %w", filepath.Base(archive), err)
	}
	if err := Extract(ctx, archive, dir); err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("stage %s: %w", filepath.Base(archive), err)
	}
	s.logger().Debug("staged", "archive", archive, "dir", dir)
	return nil
}

// Clean removes a stage directory.
func (s *Stager) Clean(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		s.logger().Warn("remove stage", "dir", dir, "error", err)
	}
}
