// Package build installs concrete DAGs.
//
// An Installer walks a DAG in topological order and drives each missing
// node through its package's phases on a bounded worker pool. Every node is
// guarded by a per-hash lock so two concurrent installs never build the
// same spec twice, and the installed database is consulted under that lock
// so already-installed nodes are skipped.
//
// Node lifecycle:
//
//	Pending -> Locked -> SkippedAlreadyInstalled
//	                  -> Building -> Installed | Failed
//	Pending -> Failed     (a dependency failed)
//	Pending -> Cancelled  (the context ended before the node started)
//
// Phase execution is delegated to a PhaseExecutor so tests never run
// external tools.
package build
