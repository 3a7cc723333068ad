// Package resolver turns the user's symbolic version requests into
// concrete versions and archive channels: the test-runner major from the
// host's PHP version, the framework version from the remote
// version-metadata endpoint, and the test-library channel from the
// documented mapping table.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wptestenv/wptestenv/pkg/clients"
	"github.com/wptestenv/wptestenv/pkg/log"
)

// VersionCheckURL is the framework's version-metadata endpoint.
const VersionCheckURL = "https://api.wordpress.org/core/version-check/1.7/"

// newestRunnerMajor is the newest PHPUnit major the compatibility table
// knows about; unrecognized and newer PHP versions map here.
const newestRunnerMajor = 7

// ErrNoLatest reports that the latest framework version could not be
// determined from the metadata endpoint.
var ErrNoLatest = errors.New("could not determine latest version")

// runnerCompat maps a PHP version band (the first three characters of the
// version string) to a compatible PHPUnit major.
var runnerCompat = map[string]int{
	"5.6": 5,
	"7.0": 6,
}

// RunnerMajorFor selects the PHPUnit major for a PHP version string. The
// result is deterministic: unknown bands get the newest known major.
func RunnerMajorFor(phpVersion string) int {
	band := phpVersion
	if len(band) > 3 {
		band = band[:3]
	}
	if major, ok := runnerCompat[band]; ok {
		return major
	}
	return newestRunnerMajor
}

// DetectPHPVersion asks the host's php binary for its version.
func DetectPHPVersion(ctx context.Context, runner clients.Runner) (string, error) {
	out, _, err := runner.Run(ctx, "php", "-r", "echo PHP_VERSION;")
	if err != nil {
		return "", fmt.Errorf("detect php version: %w", err)
	}
	version := strings.TrimSpace(out)
	if version == "" {
		return "", fmt.Errorf("detect php version: empty output")
	}
	return version, nil
}

// ChannelKind is the closed set of archive channels.
type ChannelKind int

const (
	// KindTrunk is the rolling development channel.
	KindTrunk ChannelKind = iota
	// KindNightly is the nightly archive bundle (framework only).
	KindNightly
	// KindTagged is a tagged release for a concrete version.
	KindTagged
)

// Channel selects how a source tree is obtained.
type Channel struct {
	Kind    ChannelKind
	Version string // set only for KindTagged
}

// String renders the channel for logs.
func (c Channel) String() string {
	switch c.Kind {
	case KindTrunk:
		return "trunk"
	case KindNightly:
		return "nightly"
	default:
		return "tag " + c.Version
	}
}

// FrameworkChannel maps a resolved framework version string onto its
// archive channel.
func FrameworkChannel(version string) Channel {
	switch version {
	case "trunk":
		return Channel{Kind: KindTrunk}
	case "nightly":
		return Channel{Kind: KindNightly}
	default:
		return Channel{Kind: KindTagged, Version: version}
	}
}

// TestLibChannel maps the requested test-library version onto its archive
// channel. Unset defaults to the resolved framework version; trunk and
// nightly both use the trunk channel; latest uses the tagged release
// matching the framework.
func TestLibChannel(requested, frameworkVersion string) Channel {
	if requested == "" {
		requested = frameworkVersion
	}
	switch requested {
	case "trunk", "nightly":
		return Channel{Kind: KindTrunk}
	case "latest":
		return Channel{Kind: KindTagged, Version: frameworkVersion}
	default:
		return Channel{Kind: KindTagged, Version: requested}
	}
}

// versionCheckResponse is the subset of the metadata endpoint's response
// the resolver reads.
type versionCheckResponse struct {
	Offers []struct {
		Version string `json:"version"`
	} `json:"offers"`
}

// Remote resolves symbolic framework versions against the metadata
// endpoint.
type Remote struct {
	Client   *http.Client
	Endpoint string
}

// NewRemote returns a Remote against the production endpoint.
func NewRemote() *Remote {
	return &Remote{
		Client:   &http.Client{Timeout: 30 * time.Second},
		Endpoint: VersionCheckURL,
	}
}

// LatestFramework queries the version-metadata endpoint and returns the
// first offered version. Every failure maps onto ErrNoLatest.
func (r *Remote) LatestFramework(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoLatest, err)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoLatest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d from %s", ErrNoLatest, resp.StatusCode, r.Endpoint)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoLatest, err)
	}

	var payload versionCheckResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoLatest, err)
	}
	if len(payload.Offers) == 0 || payload.Offers[0].Version == "" {
		return "", ErrNoLatest
	}

	version := payload.Offers[0].Version
	log.Debug("resolved latest framework version", "version", version)
	return version, nil
}
