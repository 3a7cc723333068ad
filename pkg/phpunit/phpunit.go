// Package phpunit installs the test-runner binary: it resolves the phar
// download URL for a runner major, fetches it, and moves it onto a
// well-known binary path. This download is non-optional for the workflow.
package phpunit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wptestenv/wptestenv/pkg/fetch"
	"github.com/wptestenv/wptestenv/pkg/log"
)

// DefaultBinPath is the fixed location the runner is installed to.
const DefaultBinPath = "/usr/local/bin/phpunit"

// pharURLTemplate addresses the runner's versioned phar archive server.
const pharURLTemplate = "https://phar.phpunit.de/phpunit-%d.phar"

// PharURL returns the download URL for a runner major version.
func PharURL(major int) string {
	return fmt.Sprintf(pharURLTemplate, major)
}

// Installer downloads the runner phar and installs it executable.
type Installer struct {
	Fetcher fetch.Fetcher
	BinPath string

	// StagingDir receives the phar before it moves to BinPath.
	StagingDir string
}

// NewInstaller returns an Installer targeting the default binary path.
func NewInstaller(fetcher fetch.Fetcher, stagingDir string) *Installer {
	return &Installer{
		Fetcher:    fetcher,
		BinPath:    DefaultBinPath,
		StagingDir: stagingDir,
	}
}

// Install fetches the phar for the given major, marks it executable, and
// relocates it to the binary path, overwriting any prior file there.
func (i *Installer) Install(ctx context.Context, major int) error {
	url := PharURL(major)
	staged := filepath.Join(i.StagingDir, "phpunit.phar")

	log.Info("installing test runner", "major", major, "url", url)
	if err := i.Fetcher.Download(ctx, url, staged); err != nil {
		return err
	}
	if _, err := os.Stat(staged); err != nil {
		return fmt.Errorf("download %s: archive missing after fetch: %w", url, err)
	}

	if err := os.Chmod(staged, 0o755); err != nil {
		return fmt.Errorf("install runner: %w", err)
	}
	if err := moveFile(staged, i.BinPath); err != nil {
		return fmt.Errorf("install runner to %s: %w", i.BinPath, err)
	}
	return nil
}

// moveFile renames when possible and falls back to copy-and-delete for
// cross-device moves (staging lives on the tmp filesystem).
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

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
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
