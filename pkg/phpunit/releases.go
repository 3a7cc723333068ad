package phpunit

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

const (
	runnerOwner = "sebastianbergmann"
	runnerRepo  = "phpunit"
)

// ReleaseClient resolves a floating "latest" runner version from the
// GitHub releases API.
type ReleaseClient struct {
	client *github.Client
}

// NewReleaseClient builds a client, authenticating with GITHUB_TOKEN when
// present to avoid the anonymous rate limit.
func NewReleaseClient(ctx context.Context) *ReleaseClient {
	var httpClient *http.Client
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		))
	}
	return &ReleaseClient{client: github.NewClient(httpClient)}
}

// NewReleaseClientWithBase points the client at an alternate API base,
// used by tests.
func NewReleaseClientWithBase(httpClient *http.Client, baseURL string) (*ReleaseClient, error) {
	client, err := github.NewClient(httpClient).WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, err
	}
	return &ReleaseClient{client: client}, nil
}

// LatestMajor returns the major version of the newest runner release.
func (c *ReleaseClient) LatestMajor(ctx context.Context) (int, error) {
	release, _, err := c.client.Repositories.GetLatestRelease(ctx, runnerOwner, runnerRepo)
	if err != nil {
		return 0, fmt.Errorf("resolve latest runner release: %w", err)
	}
	return majorFromTag(release.GetTagName())
}

func majorFromTag(tag string) (int, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "v")
	head, _, _ := strings.Cut(tag, ".")
	major, err := strconv.Atoi(head)
	if err != nil || major <= 0 {
		return 0, fmt.Errorf("unexpected runner release tag %q", tag)
	}
	return major, nil
}
