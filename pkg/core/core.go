// Package core fetches the framework source tree for the resolved archive
// channel and mirrors it into the core directory. The three channels are
// mutually exclusive: a live trunk export, the nightly archive bundle, or
// a tagged release archive.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wptestenv/wptestenv/pkg/clients"
	"github.com/wptestenv/wptestenv/pkg/fetch"
	"github.com/wptestenv/wptestenv/pkg/log"
	"github.com/wptestenv/wptestenv/pkg/resolver"
)

const (
	// TrunkURL is the live development source tree.
	TrunkURL = "https://core.svn.wordpress.org/trunk/"
	// NightlyURL is the nightly archive bundle.
	NightlyURL = "https://wordpress.org/nightly-builds/wordpress-latest.zip"
	// releaseURLTemplate addresses tagged release archives.
	releaseURLTemplate = "https://wordpress.org/wordpress-%s.tar.gz"
)

// ReleaseURL returns the tagged release archive URL for a version.
func ReleaseURL(version string) string {
	return fmt.Sprintf(releaseURLTemplate, version)
}

// Service installs the framework tree for a channel.
type Service struct {
	Fetcher  fetch.Fetcher
	Exporter clients.Exporter
	Syncer   clients.Syncer

	// StagingDir receives the fetched tree before the mirror into the
	// core directory; cleanup removes it after every run.
	StagingDir string

	// URL overrides for tests; empty means production endpoints.
	TrunkURL   string
	NightlyURL string
	ReleaseURL func(version string) string
}

// NewService wires a Service against the production endpoints.
func NewService(fetcher fetch.Fetcher, exporter clients.Exporter, syncer clients.Syncer, stagingDir string) *Service {
	return &Service{
		Fetcher:    fetcher,
		Exporter:   exporter,
		Syncer:     syncer,
		StagingDir: stagingDir,
	}
}

// Install fetches the channel's source tree into staging and mirrors it
// into coreDir, deleting anything no longer present at the source.
func (s *Service) Install(ctx context.Context, channel resolver.Channel, coreDir string) error {
	log.Info("installing framework", "channel", channel.String(), "dir", coreDir)

	staged, err := s.stage(ctx, channel)
	if err != nil {
		return err
	}
	if err := s.Syncer.Mirror(ctx, staged, coreDir); err != nil {
		return fmt.Errorf("install framework: %w", err)
	}
	return nil
}

// stage materializes the channel's tree under StagingDir and returns the
// directory holding the source root.
func (s *Service) stage(ctx context.Context, channel resolver.Channel) (string, error) {
	treeDir := filepath.Join(s.StagingDir, "tree")
	if err := os.MkdirAll(treeDir, 0o755); err != nil {
		return "", fmt.Errorf("stage framework: %w", err)
	}

	switch channel.Kind {
	case resolver.KindTrunk:
		if err := s.Exporter.Export(ctx, s.trunkURL(), treeDir); err != nil {
			return "", fmt.Errorf("install framework: %w", err)
		}
		return treeDir, nil

	case resolver.KindNightly:
		archive := filepath.Join(s.StagingDir, "nightly.zip")
		if err := s.Fetcher.Download(ctx, s.nightlyURL(), archive); err != nil {
			return "", fmt.Errorf("install framework: %w", err)
		}
		if err := fetch.Unzip(archive, treeDir); err != nil {
			return "", fmt.Errorf("install framework: %w", err)
		}
		// The nightly bundle wraps the source in an inner folder.
		return filepath.Join(treeDir, "wordpress"), nil

	default:
		archive := filepath.Join(s.StagingDir, "release.tar.gz")
		if err := s.Fetcher.Download(ctx, s.releaseURL(channel.Version), archive); err != nil {
			return "", fmt.Errorf("install framework: %w", err)
		}
		if err := fetch.UntarGz(archive, treeDir, 1); err != nil {
			return "", fmt.Errorf("install framework: %w", err)
		}
		return treeDir, nil
	}
}

func (s *Service) trunkURL() string {
	if s.TrunkURL != "" {
		return s.TrunkURL
	}
	return TrunkURL
}

func (s *Service) nightlyURL() string {
	if s.NightlyURL != "" {
		return s.NightlyURL
	}
	return NightlyURL
}

func (s *Service) releaseURL(version string) string {
	if s.ReleaseURL != nil {
		return s.ReleaseURL(version)
	}
	return ReleaseURL(version)
}
