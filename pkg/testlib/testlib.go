// Package testlib fetches the test-support library: the includes folder,
// the fixture data folder, and the sample configuration template, exported
// from the framework's development repository for the resolved channel.
// A failed non-trunk export falls back to the trunk channel once.
package testlib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wptestenv/wptestenv/pkg/clients"
	"github.com/wptestenv/wptestenv/pkg/log"
	"github.com/wptestenv/wptestenv/pkg/resolver"
)

// DevelopURL is the version-control export endpoint for the development
// repository.
const DevelopURL = "https://develop.svn.wordpress.org"

// SampleConfigName is the configuration template shipped with the library.
const SampleConfigName = "wp-tests-config-sample.php"

// ErrInstall is the fatal error after the trunk fallback is exhausted.
var ErrInstall = errors.New("could not install test suite")

// errChannelUnavailable marks a single channel's export as failed; the
// caller decides whether a fallback remains.
var errChannelUnavailable = errors.New("test suite channel unavailable")

// exports lists the three sub-paths fetched from the channel base, with
// their local names inside the staging directory.
var exports = []struct {
	remote string
	local  string
}{
	{remote: "tests/phpunit/includes/", local: "includes"},
	{remote: "tests/phpunit/data/", local: "data"},
	{remote: "wp-tests-config-sample.php", local: SampleConfigName},
}

// Service installs the test-support library.
type Service struct {
	Exporter clients.Exporter
	Syncer   clients.Syncer

	// StagingDir receives the exports before the mirror into the tests
	// directory.
	StagingDir string

	// BaseURL overrides the export endpoint in tests.
	BaseURL string
}

// NewService wires a Service against the production export endpoint.
func NewService(exporter clients.Exporter, syncer clients.Syncer, stagingDir string) *Service {
	return &Service{Exporter: exporter, Syncer: syncer, StagingDir: stagingDir}
}

// Install exports the library for the channel into staging, falling back
// to trunk once for non-trunk channels, then mirrors staging into
// testsDir. Exhausting the fallback is the fatal ErrInstall.
func (s *Service) Install(ctx context.Context, channel resolver.Channel, testsDir string) error {
	log.Info("installing test suite", "channel", channel.String(), "dir", testsDir)

	err := s.export(ctx, channel)
	if errors.Is(err, errChannelUnavailable) && channel.Kind != resolver.KindTrunk {
		log.Warn("test suite channel unavailable, falling back to trunk", "channel", channel.String())
		err = s.export(ctx, resolver.Channel{Kind: resolver.KindTrunk})
	}
	if err != nil {
		if errors.Is(err, errChannelUnavailable) {
			return fmt.Errorf("%w: %v", ErrInstall, err)
		}
		return err
	}

	if err := s.Syncer.Mirror(ctx, s.StagingDir, testsDir); err != nil {
		return fmt.Errorf("install test suite: %w", err)
	}
	return nil
}

// export fetches the three library paths for one channel and verifies all
// of them exist locally afterwards. Staging is purged first so a trunk
// fallback never mirrors leftovers of a half-succeeded prior attempt.
func (s *Service) export(ctx context.Context, channel resolver.Channel) error {
	base := s.channelBase(channel)

	if err := s.Exporter.Probe(ctx, base); err != nil {
		log.Warn("test suite probe failed", "url", base, "error", err)
		return fmt.Errorf("%w: probe %s failed", errChannelUnavailable, base)
	}

	if err := os.RemoveAll(s.StagingDir); err != nil {
		return fmt.Errorf("stage test suite: %w", err)
	}
	if err := os.MkdirAll(s.StagingDir, 0o755); err != nil {
		return fmt.Errorf("stage test suite: %w", err)
	}

	for _, e := range exports {
		dest := filepath.Join(s.StagingDir, e.local)
		if err := s.Exporter.Export(ctx, base+e.remote, dest); err != nil {
			log.Warn("test suite export failed", "url", base+e.remote, "error", err)
			return fmt.Errorf("%w: export %s failed", errChannelUnavailable, base+e.remote)
		}
	}

	for _, e := range exports {
		if _, err := os.Stat(filepath.Join(s.StagingDir, e.local)); err != nil {
			return fmt.Errorf("%w: %s missing after export", errChannelUnavailable, e.local)
		}
	}
	return nil
}

// channelBase maps a channel onto its export base URL, with a trailing
// slash.
func (s *Service) channelBase(channel resolver.Channel) string {
	root := s.BaseURL
	if root == "" {
		root = DevelopURL
	}
	if channel.Kind == resolver.KindTrunk || channel.Kind == resolver.KindNightly {
		return root + "/trunk/"
	}
	return fmt.Sprintf("%s/tags/%s/", root, channel.Version)
}
