package update

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	// apiTimeout bounds manifest and release API requests. Package downloads
	// are not bounded.
	apiTimeout = 30 * time.Second

	// maxManifestBytes caps RELEASES and release API responses.
	maxManifestBytes = 10 << 20

	userAgent = "hostbridge-updater"
)

var tracer = otel.Tracer("github.com/raumlabs/hostbridge/internal/update")

// Checker runs one version check against a remote source.
// Implementations never return errors: failures are reported as OK=false.
type Checker interface {
	Check(ctx context.Context, localVersion string) VersionCheckResult
}

// CheckerConfig carries what both strategies need.
type CheckerConfig struct {
	// URL is the manifest base URL (http) or "owner/repo" (git).
	URL        string
	TempDir    string
	HTTPClient *http.Client
	Comparator Comparator
	// Token is sent as a bearer token to the release API when set.
	Token string
	// APIBaseURL overrides https://api.github.com.
	APIBaseURL string
}

// NewChecker selects the strategy for source.
func NewChecker(source Source, cfg CheckerConfig, logger *zap.Logger) (Checker, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: apiTimeout}
	}
	if cfg.Comparator == nil {
		cfg.Comparator = DigitComparator
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch source {
	case SourceHTTP, "":
		return &ManifestChecker{
			baseURL:    normalizeBaseURL(cfg.URL),
			tempDir:    cfg.TempDir,
			httpClient: cfg.HTTPClient,
			compare:    cfg.Comparator,
			logger:     logger,
		}, nil
	case SourceGit:
		opts := []ClientOption{WithHTTPClient(cfg.HTTPClient), WithToken(cfg.Token)}
		if cfg.APIBaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.APIBaseURL))
		}
		return &ReleaseChecker{
			client:  NewGitHubClient(cfg.URL, logger, opts...),
			tempDir: cfg.TempDir,
			compare: cfg.Comparator,
			logger:  logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown update source %q", source)
	}
}

// ManifestChecker polls <baseURL>RELEASES.
type ManifestChecker struct {
	baseURL    string
	tempDir    string
	httpClient *http.Client
	compare    Comparator
	logger     *zap.Logger
}

// Check implements Checker.
func (c *ManifestChecker) Check(ctx context.Context, localVersion string) VersionCheckResult {
	ctx, span := tracer.Start(ctx, "update.check.manifest")
	defer span.End()
	span.SetAttributes(attribute.String("update.base_url", c.baseURL))

	result, err := c.check(ctx, localVersion)
	if err != nil {
		c.logger.Debug("Manifest check failed", zap.String("url", c.baseURL), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return failedCheck(err)
	}
	span.SetAttributes(
		attribute.String("update.remote_version", result.RemoteVersion),
		attribute.Bool("update.is_newer", result.IsNewer))
	return result
}

func (c *ManifestChecker) check(ctx context.Context, localVersion string) (VersionCheckResult, error) {
	text, err := fetchText(ctx, c.httpClient, c.baseURL+ManifestFileName, "")
	if err != nil {
		return VersionCheckResult{}, err
	}

	entry, err := ParseManifest(text)
	if err != nil {
		return VersionCheckResult{}, err
	}
	remote, err := entry.Version()
	if err != nil {
		return VersionCheckResult{}, err
	}

	newer, err := c.compare.IsNewer(localVersion, remote)
	if err != nil {
		return VersionCheckResult{}, err
	}

	result := VersionCheckResult{
		OK:              true,
		IsNewer:         newer,
		RemoteVersion:   remote,
		PackageChecksum: entry.Checksum,
		PackageFileName: entry.FileName,
		PackageSize:     entry.Size,
		PackageURL:      c.baseURL + entry.FileName,
	}

	if newer {
		if err := writeManifest(c.tempDir, text); err != nil {
			return VersionCheckResult{}, err
		}
		c.logger.Info("Update available",
			zap.String("current", localVersion),
			zap.String("latest", remote),
			zap.String("package", entry.FileName))
	} else {
		c.logger.Debug("Running latest version", zap.String("version", localVersion))
	}
	return result, nil
}

// fetchText GETs url and returns the body as text. Non-200 responses are errors.
func fetchText(ctx context.Context, client *http.Client, url, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	return string(body), nil
}

func normalizeBaseURL(u string) string {
	u = strings.TrimSpace(u)
	if u != "" && !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}
