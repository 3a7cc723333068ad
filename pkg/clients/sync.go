package clients

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Syncer mirror-copies a directory: after Mirror returns, dest's contents
// exactly match src, including deletion of extraneous dest entries.
type Syncer interface {
	Mirror(ctx context.Context, src, dest string) error
}

// RsyncSyncer shells out to rsync. rsync is a verified prerequisite, so
// production wiring uses this implementation.
type RsyncSyncer struct {
	Runner Runner
}

// NewRsyncSyncer returns a Syncer backed by the system rsync.
func NewRsyncSyncer(runner Runner) *RsyncSyncer {
	return &RsyncSyncer{Runner: runner}
}

// Mirror runs `rsync -a --delete src/ dest/`.
func (s *RsyncSyncer) Mirror(ctx context.Context, src, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("rsync mirror: %w", err)
	}
	out, _, err := s.Runner.Run(ctx, "rsync", "-a", "--delete",
		ensureTrailingSlash(src), ensureTrailingSlash(dest))
	if err != nil {
		return fmt.Errorf("rsync %s -> %s: %w: %s", src, dest, err, firstLine(out))
	}
	return nil
}

func ensureTrailingSlash(path string) string {
	if strings.HasSuffix(path, string(os.PathSeparator)) {
		return path
	}
	return path + string(os.PathSeparator)
}

// FSSyncer mirrors directories with plain filesystem calls. Tests use it
// to verify mirror semantics without rsync on the host.
type FSSyncer struct{}

// Mirror copies src into dest and deletes dest entries absent from src.
func (FSSyncer) Mirror(ctx context.Context, src, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	seen := map[string]bool{}
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		seen[rel] = true
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
	if err != nil {
		return fmt.Errorf("mirror %s -> %s: %w", src, dest, err)
	}

	// Second pass: drop anything no longer present at the source.
	var extraneous []string
	err = filepath.WalkDir(dest, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dest, path)
		if err != nil {
			return err
		}
		if rel == "." || seen[rel] {
			return nil
		}
		extraneous = append(extraneous, path)
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror %s -> %s: %w", src, dest, err)
	}
	for _, path := range extraneous {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("mirror %s -> %s: %w", src, dest, err)
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
