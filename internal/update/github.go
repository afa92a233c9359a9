package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	defaultAPIBaseURL = "https://api.github.com"

	fullPackageSuffix = "-full.nupkg"
)

var (
	// ErrReleaseNotFound is returned when the repository has no releases.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrMissingAssets is returned when a newer release lacks the RELEASES
	// manifest or the full package.
	ErrMissingAssets = errors.New("required assets (RELEASES, *-full.nupkg) not found in release")
)

// GitHubRelease represents a GitHub release response.
type GitHubRelease struct {
	TagName    string        `json:"tag_name"`
	Name       string        `json:"name"`
	HTMLURL    string        `json:"html_url"`
	Prerelease bool          `json:"prerelease"`
	Assets     []GitHubAsset `json:"assets"`
}

// GitHubAsset represents a downloadable file attached to a release.
type GitHubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// GitHubClient handles communication with the GitHub Releases API.
type GitHubClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	repo       string
	baseURL    string
	token      string
}

// ClientOption configures a GitHubClient.
type ClientOption func(*GitHubClient)

// WithHTTPClient sets the HTTP client used for API and asset requests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(g *GitHubClient) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithBaseURL overrides the API base URL, primarily for test servers.
func WithBaseURL(base string) ClientOption {
	return func(g *GitHubClient) {
		g.baseURL = strings.TrimRight(base, "/")
	}
}

// WithToken sets a token for authenticated requests (higher rate limit).
func WithToken(token string) ClientOption {
	return func(g *GitHubClient) {
		g.token = token
	}
}

// NewGitHubClient creates a client for repo ("owner/name").
func NewGitHubClient(repo string, logger *zap.Logger, opts ...ClientOption) *GitHubClient {
	c := &GitHubClient{
		logger:     logger,
		httpClient: &http.Client{Timeout: apiTimeout},
		repo:       strings.Trim(repo, "/"),
		baseURL:    defaultAPIBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetLatestRelease fetches the release GitHub marks as latest. When that
// lookup returns 404 it falls back to the first entry of the release list.
func (c *GitHubClient) GetLatestRelease(ctx context.Context) (*GitHubRelease, error) {
	var release GitHubRelease
	err := c.getJSON(ctx, fmt.Sprintf("%s/repos/%s/releases/latest", c.baseURL, c.repo), &release)
	if errors.Is(err, ErrReleaseNotFound) {
		c.logger.Debug("Latest release endpoint returned 404, trying releases list", zap.String("repo", c.repo))
		return c.getFirstRelease(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &release, nil
}

func (c *GitHubClient) getFirstRelease(ctx context.Context) (*GitHubRelease, error) {
	var releases []GitHubRelease
	if err := c.getJSON(ctx, fmt.Sprintf("%s/repos/%s/releases", c.baseURL, c.repo), &releases); err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, fmt.Errorf("no releases found for %s: %w", c.repo, ErrReleaseNotFound)
	}
	// GitHub lists releases newest first.
	return &releases[0], nil
}

// FetchAsset downloads a small text asset such as RELEASES.
func (c *GitHubClient) FetchAsset(ctx context.Context, asset GitHubAsset) (string, error) {
	return fetchText(ctx, c.httpClient, asset.BrowserDownloadURL, "")
}

func (c *GitHubClient) getJSON(ctx context.Context, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Failed to query GitHub API", zap.String("url", url), zap.Error(err))
		return fmt.Errorf("failed to query %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", url, ErrReleaseNotFound)
	case resp.StatusCode != http.StatusOK:
		c.logger.Debug("GitHub API returned non-200 status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("url", url))
		return fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode release data: %w", err)
	}
	return nil
}

// ReleaseChecker checks the latest GitHub release of a repository.
type ReleaseChecker struct {
	client  *GitHubClient
	tempDir string
	compare Comparator
	logger  *zap.Logger
}

// Check implements Checker.
func (c *ReleaseChecker) Check(ctx context.Context, localVersion string) VersionCheckResult {
	ctx, span := tracer.Start(ctx, "update.check.release")
	defer span.End()
	span.SetAttributes(attribute.String("update.repo", c.client.repo))

	result, err := c.check(ctx, localVersion)
	if err != nil {
		c.logger.Debug("Release check failed", zap.String("repo", c.client.repo), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return failedCheck(err)
	}
	span.SetAttributes(
		attribute.String("update.remote_version", result.RemoteVersion),
		attribute.Bool("update.is_newer", result.IsNewer))
	return result
}

func (c *ReleaseChecker) check(ctx context.Context, localVersion string) (VersionCheckResult, error) {
	release, err := c.client.GetLatestRelease(ctx)
	if err != nil {
		return VersionCheckResult{}, err
	}
	if release.TagName == "" {
		return VersionCheckResult{}, errors.New("invalid GitHub release data: missing tag_name")
	}

	remote := strings.TrimPrefix(release.TagName, "v")
	newer, err := c.compare.IsNewer(localVersion, remote)
	if err != nil {
		return VersionCheckResult{}, err
	}
	if !newer {
		c.logger.Debug("Running latest version", zap.String("version", localVersion))
		return VersionCheckResult{OK: true, RemoteVersion: remote}, nil
	}

	manifestAsset, pkgAsset, err := findUpdateAssets(release.Assets)
	if err != nil {
		return VersionCheckResult{}, err
	}

	text, err := c.client.FetchAsset(ctx, manifestAsset)
	if err != nil {
		return VersionCheckResult{}, err
	}
	entry, err := ParseManifest(text)
	if err != nil {
		return VersionCheckResult{}, err
	}
	if err := writeManifest(c.tempDir, text); err != nil {
		return VersionCheckResult{}, err
	}

	c.logger.Info("Update available",
		zap.String("current", localVersion),
		zap.String("latest", remote),
		zap.String("url", release.HTMLURL))

	return VersionCheckResult{
		OK:              true,
		IsNewer:         true,
		RemoteVersion:   remote,
		PackageChecksum: entry.Checksum,
		PackageFileName: pkgAsset.Name,
		PackageSize:     entry.Size,
		PackageURL:      pkgAsset.BrowserDownloadURL,
	}, nil
}

// findUpdateAssets requires exactly one RELEASES asset and exactly one full package.
func findUpdateAssets(assets []GitHubAsset) (manifest, pkg GitHubAsset, err error) {
	var manifests, packages []GitHubAsset
	for _, a := range assets {
		switch {
		case a.Name == ManifestFileName:
			manifests = append(manifests, a)
		case strings.HasSuffix(a.Name, fullPackageSuffix):
			packages = append(packages, a)
		}
	}
	if len(manifests) != 1 || len(packages) != 1 {
		return GitHubAsset{}, GitHubAsset{}, fmt.Errorf("%w (found %d RELEASES, %d full packages)",
			ErrMissingAssets, len(manifests), len(packages))
	}
	return manifests[0], packages[0], nil
}
