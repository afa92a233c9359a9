package update

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DefaultSampleWindow is the rate sampling window of Downloader.
const DefaultSampleWindow = 500 * time.Millisecond

// DownloadResult is the outcome of Download. Message holds the destination
// path on success, and the status code or error text on failure.
type DownloadResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ProgressFunc receives download progress. It runs on the downloading
// goroutine and must not block.
type ProgressFunc func(DownloadProgress)

// Downloader streams packages to disk.
type Downloader struct {
	httpClient *http.Client
	logger     *zap.Logger
	window     time.Duration
	now        func() time.Time
}

// NewDownloader creates a downloader. A nil client uses a client without an
// overall timeout, since packages can be large.
func NewDownloader(client *http.Client, logger *zap.Logger) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		httpClient: client,
		logger:     logger,
		window:     DefaultSampleWindow,
		now:        time.Now,
	}
}

// Download fetches url into dest through a temporary file in dest's directory.
// Failures are reported in the result, never returned as errors.
func (d *Downloader) Download(ctx context.Context, url, dest string, onProgress ProgressFunc) DownloadResult {
	ctx, span := tracer.Start(ctx, "update.download")
	defer span.End()
	span.SetAttributes(attribute.String("update.package_url", url))

	res := d.download(ctx, url, dest, onProgress)
	if !res.OK {
		span.SetStatus(codes.Error, res.Message)
	}
	return res
}

func (d *Downloader) download(ctx context.Context, url, dest string, onProgress ProgressFunc) DownloadResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DownloadResult{Message: err.Error()}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Warn("Package request failed", zap.String("url", url), zap.Error(err))
		return DownloadResult{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.logger.Warn("Package download returned non-200 status",
			zap.String("url", url),
			zap.Int("status_code", resp.StatusCode))
		return DownloadResult{Message: strconv.Itoa(resp.StatusCode)}
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return DownloadResult{Message: fmt.Sprintf("failed to create %s: %v", dir, err)}
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return DownloadResult{Message: fmt.Sprintf("failed to create temp file: %v", err)}
	}
	tmpPath := tmp.Name()

	pw := &progressWriter{
		w:          tmp,
		total:      resp.ContentLength,
		window:     d.window,
		now:        d.now,
		lastSample: d.now(),
		onProgress: onProgress,
	}

	_, copyErr := io.Copy(pw, resp.Body)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		d.logger.Warn("Package download failed", zap.String("url", url), zap.Error(copyErr))
		return DownloadResult{Message: copyErr.Error()}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return DownloadResult{Message: fmt.Sprintf("failed to move package into place: %v", err)}
	}

	d.logger.Info("Package downloaded",
		zap.String("path", dest),
		zap.Int64("bytes", pw.bytes))
	return DownloadResult{OK: true, Message: dest}
}

// progressWriter passes writes through and reports counters after each one.
type progressWriter struct {
	w          io.Writer
	total      int64
	bytes      int64
	window     time.Duration
	now        func() time.Time
	lastSample time.Time
	lastBytes  int64
	rate       float64
	onProgress ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.bytes += int64(n)

	if now := p.now(); now.Sub(p.lastSample) > p.window {
		p.rate = float64(p.bytes-p.lastBytes) / p.window.Seconds()
		p.lastSample = now
		p.lastBytes = p.bytes
	}

	if p.onProgress != nil && n > 0 {
		p.onProgress(DownloadProgress{
			BytesReceived: p.bytes,
			TotalBytes:    p.total,
			BitsPerSecond: p.rate,
		})
	}
	return n, err
}
