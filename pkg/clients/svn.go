package clients

import (
	"context"
	"fmt"
)

// Exporter exports a remote version-control path into a local directory.
type Exporter interface {
	// Export writes the tree at remote into dest, overwriting dest.
	Export(ctx context.Context, remote, dest string) error

	// Probe reports whether the remote path exists without exporting it.
	Probe(ctx context.Context, remote string) error
}

// SVNExporter shells out to the svn client.
type SVNExporter struct {
	Runner Runner
}

// NewSVNExporter returns an Exporter backed by the system svn client.
func NewSVNExporter(runner Runner) *SVNExporter {
	return &SVNExporter{Runner: runner}
}

// Export runs `svn export --quiet --force remote dest`.
func (e *SVNExporter) Export(ctx context.Context, remote, dest string) error {
	out, _, err := e.Runner.Run(ctx, "svn", "export", "--quiet", "--force", remote, dest)
	if err != nil {
		return fmt.Errorf("svn export %s: %w: %s", remote, err, firstLine(out))
	}
	return nil
}

// Probe runs `svn info` against the remote path.
func (e *SVNExporter) Probe(ctx context.Context, remote string) error {
	out, _, err := e.Runner.Run(ctx, "svn", "info", remote)
	if err != nil {
		return fmt.Errorf("svn info %s: %w: %s", remote, err, firstLine(out))
	}
	return nil
}

func firstLine(out string) string {
	for i := 0; i < len(out); i++ {
		if out[i] == '\n' {
			return out[:i]
		}
	}
	return out
}
