// Package collector fetches each competitor's monitored pages and extracts a
// structured metrics snapshot.
package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/weomedia/compwatch/internal/monitor"
	"github.com/weomedia/compwatch/internal/snapshot"
)

// Config controls retry, throttling and screenshot behavior.
type Config struct {
	RequestDelay time.Duration
	MaxRetries   int
	PageTimeout  time.Duration
	BlobPrefix   string
}

// Result is one competitor's collection outcome.
type Result struct {
	Snapshot monitor.MetricsSnapshot
	Pages    []PageOutcome
	// Unchanged is true when every fetched page hashed identically to the
	// previous run, letting the detector skip the field-level diff.
	Unchanged bool
}

// PageOutcome pairs a fetch with the hash it is diffed against.
type PageOutcome struct {
	Page     monitor.PageFetchResult
	PrevHash string
}

// Collector drives per-competitor page fetching, extraction and persistence.
type Collector struct {
	fetcher   monitor.Fetcher
	shotter   monitor.Screenshotter
	blobs     monitor.BlobStore
	snapshots *snapshot.Store
	hasher    monitor.Hasher
	clock     monitor.Clock
	retry     *monitor.RetryPolicy
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Collector. shotter and blobs may be nil to disable
// screenshot capture.
func New(
	fetcher monitor.Fetcher,
	shotter monitor.Screenshotter,
	blobs monitor.BlobStore,
	snapshots *snapshot.Store,
	hasher monitor.Hasher,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "screenshots"
	}
	return &Collector{
		fetcher:   fetcher,
		shotter:   shotter,
		blobs:     blobs,
		snapshots: snapshots,
		hasher:    hasher,
		clock:     clock,
		// MaxRetries counts retries after the initial attempt; the policy
		// counts total attempts.
		retry:  monitor.NewRetryPolicy(cfg.MaxRetries+1, 0, 0),
		cfg:    cfg,
		logger: logger.Named("collector"),
	}
}

// Collect fetches every monitored page for the profile and extracts a
// snapshot. Any page that exhausts its retries makes the whole competitor
// unreachable for this cycle: extracting from a partial page set would
// commit a degraded snapshot whose missing fields later diff as spurious
// changes, so the prior snapshot is kept instead. Unparseable content
// yields a malformed CollectError. The raw page fetch results (and any
// screenshots) are persisted before returning.
func (c *Collector) Collect(ctx context.Context, profile monitor.CompetitorProfile) (Result, error) {
	var (
		outcomes  []PageOutcome
		bodies    []fetchedPage
		unchanged = true
	)

	for i, url := range profile.Pages {
		if i > 0 {
			if err := c.throttle(ctx); err != nil {
				return Result{}, monitor.NewUnreachable(profile.ID, err)
			}
		}

		resp, err := c.fetchWithRetry(ctx, url)
		if err != nil {
			c.logger.Warn("page fetch failed",
				zap.String("competitor", profile.ID),
				zap.String("url", url),
				zap.Error(err),
			)
			return Result{}, monitor.NewUnreachable(profile.ID, err)
		}

		hash, err := c.hasher.Hash(resp.Body)
		if err != nil {
			return Result{}, fmt.Errorf("hash body: %w", err)
		}

		prev, err := c.snapshots.LastPageFetch(ctx, profile.ID, url)
		if err != nil {
			return Result{}, err
		}
		prevHash := ""
		if prev != nil {
			prevHash = prev.ContentHash
		}
		if prevHash != hash {
			unchanged = false
		}

		page := monitor.PageFetchResult{
			URL:         resp.URL,
			FetchedAt:   c.clock.Now(),
			StatusCode:  resp.StatusCode,
			ContentHash: hash,
			DurationMs:  resp.Duration.Milliseconds(),
			Body:        resp.Body,
		}
		page.ScreenshotURI = c.captureScreenshot(ctx, profile, url)

		if err := c.snapshots.RecordPageFetch(ctx, profile.ID, page); err != nil {
			return Result{}, err
		}

		outcomes = append(outcomes, PageOutcome{Page: page, PrevHash: prevHash})
		bodies = append(bodies, fetchedPage{url: url, body: resp.Body})
	}

	if len(outcomes) == 0 {
		return Result{}, monitor.NewUnreachable(profile.ID, fmt.Errorf("no pages configured"))
	}

	snap, err := Extract(profile, c.clock.Now(), bodies)
	if err != nil {
		return Result{}, monitor.NewMalformed(profile.ID, err)
	}

	return Result{Snapshot: snap, Pages: outcomes, Unchanged: unchanged}, nil
}

func (c *Collector) fetchWithRetry(ctx context.Context, url string) (monitor.FetchResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, c.pageTimeout())
		resp, err := c.fetcher.Fetch(fetchCtx, url)
		cancel()

		if err == nil && !monitor.TransientStatus(resp.StatusCode) {
			return resp, nil
		}
		if err == nil {
			err = fmt.Errorf("server status %d", resp.StatusCode)
		}
		lastErr = err

		if !c.retry.ShouldRetry(err, attempt+1) || ctx.Err() != nil {
			return monitor.FetchResponse{}, lastErr
		}
		select {
		case <-ctx.Done():
			return monitor.FetchResponse{}, ctx.Err()
		case <-time.After(c.retry.Backoff(attempt)):
		}
	}
}

// captureScreenshot is best effort: a capture failure never fails the
// collection.
func (c *Collector) captureScreenshot(ctx context.Context, profile monitor.CompetitorProfile, url string) string {
	if c.shotter == nil || c.blobs == nil {
		return ""
	}
	shot, err := c.shotter.Capture(ctx, url)
	if err != nil {
		c.logger.Warn("screenshot capture failed",
			zap.String("competitor", profile.ID),
			zap.String("url", url),
			zap.Error(err),
		)
		return ""
	}
	now := c.clock.Now()
	filename := fmt.Sprintf("%s-%s.png", profile.ID, now.Format("20060102T150405"))
	path := fmt.Sprintf("%s/%s/%s", c.cfg.BlobPrefix, profile.ID, filename)
	uri, err := c.blobs.PutObject(ctx, path, "image/png", shot)
	if err != nil {
		c.logger.Warn("screenshot store failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	ref := monitor.ScreenshotRef{
		Filename:   filename,
		Competitor: profile.Name,
		Page:       url,
		Timestamp:  now,
		URI:        uri,
	}
	if err := c.snapshots.RecordScreenshot(ctx, ref); err != nil {
		c.logger.Warn("screenshot index failed", zap.Error(err))
	}
	return uri
}

func (c *Collector) throttle(ctx context.Context) error {
	if c.cfg.RequestDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.RequestDelay):
		return nil
	}
}

func (c *Collector) pageTimeout() time.Duration {
	if c.cfg.PageTimeout > 0 {
		return c.cfg.PageTimeout
	}
	return 30 * time.Second
}
