// Package stage prepares package sources for a build: it checks a source
// archive against the digest its version declares (sha256 or blake3) and
// unpacks it (tar, tar.gz, tar.xz, tar.zst or zip) into a stage directory
// that the build phases run in.
package stage
