// Package scheduler runs the periodic scan pipelines on cron cadences.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weomedia/compwatch/internal/collector"
	"github.com/weomedia/compwatch/internal/detector"
	"github.com/weomedia/compwatch/internal/matrix"
	"github.com/weomedia/compwatch/internal/metrics"
	"github.com/weomedia/compwatch/internal/monitor"
	"github.com/weomedia/compwatch/internal/snapshot"
)

// Collector fetches and extracts one competitor's metrics.
type Collector interface {
	Collect(ctx context.Context, profile monitor.CompetitorProfile) (collector.Result, error)
}

// Tracker checks keyword rankings and reports page-1 crossings.
type Tracker interface {
	CheckRankings(
		ctx context.Context,
		keywords []string,
		competitors []monitor.CompetitorProfile,
	) ([]monitor.RankingRecord, []monitor.ChangeEvent, error)
}

// Dispatcher evaluates change events against alert policy.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []monitor.ChangeEvent) ([]monitor.Alert, error)
}

// Config controls pipeline fan-out and retention.
type Config struct {
	Competitors       []monitor.CompetitorProfile
	Keywords          []string
	Concurrency       int
	CompetitorTimeout time.Duration
	CycleBudget       time.Duration
	Retention         snapshot.Retention
	ReportPrefix      string
	ReportRecipients  []string
}

// Engine executes the four scan pipelines. Each Run method is safe to call
// from a cron goroutine; a partial failure in one competitor or keyword
// never aborts the rest of the cycle.
type Engine struct {
	snapshots  *snapshot.Store
	collector  Collector
	detector   *detector.Detector
	tracker    Tracker
	dispatcher Dispatcher
	probe      monitor.Fetcher
	blobs      monitor.BlobStore
	sender     monitor.EmailSender
	clock      monitor.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Engine. probe, blobs and sender may be nil; the
// pipelines that need them degrade to log-only behavior.
func New(
	snapshots *snapshot.Store,
	col Collector,
	det *detector.Detector,
	tracker Tracker,
	dispatcher Dispatcher,
	probe monitor.Fetcher,
	blobs monitor.BlobStore,
	sender monitor.EmailSender,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ReportPrefix == "" {
		cfg.ReportPrefix = "reports"
	}
	return &Engine{
		snapshots:  snapshots,
		collector:  col,
		detector:   det,
		tracker:    tracker,
		dispatcher: dispatcher,
		probe:      probe,
		blobs:      blobs,
		sender:     sender,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("scheduler"),
	}
}

type competitorOutcome struct {
	events []monitor.ChangeEvent
	err    error
}

// RunCompetitorScan collects every competitor with bounded fan-out, diffs
// against the previous snapshot, commits, and dispatches the resulting
// change events once for the whole cycle. The cycle budget bounds fetching
// only: an overrun aborts the remaining fetches, while completed results
// are still committed, dispatched and aggregated on the caller's context.
func (e *Engine) RunCompetitorScan(ctx context.Context) error {
	start := e.clock.Now()
	status := "ok"

	fetchCtx := ctx
	if e.cfg.CycleBudget > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, e.cfg.CycleBudget)
		defer cancel()
	}

	outcomes := make([]competitorOutcome, len(e.cfg.Competitors))
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, profile := range e.cfg.Competitors {
		wg.Add(1)
		go func(i int, profile monitor.CompetitorProfile) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-fetchCtx.Done():
				outcomes[i] = competitorOutcome{err: fetchCtx.Err()}
				return
			}
			outcomes[i] = e.scanCompetitor(ctx, fetchCtx, profile)
		}(i, profile)
	}
	wg.Wait()

	// Flatten in config order so event ordering is stable across runs.
	var (
		events []monitor.ChangeEvent
		failed int
	)
	for i, outcome := range outcomes {
		if outcome.err != nil {
			failed++
			e.logger.Error("competitor scan failed",
				zap.String("competitor", e.cfg.Competitors[i].ID),
				zap.Error(outcome.err),
			)
			continue
		}
		events = append(events, outcome.events...)
	}
	if failed > 0 {
		status = "partial"
	}
	if failed == len(e.cfg.Competitors) && failed > 0 {
		status = "failed"
	}

	for _, event := range events {
		metrics.ObserveChangeEvent(string(event.Type))
	}

	alerts, err := e.dispatcher.Dispatch(ctx, events)
	if err != nil {
		e.logger.Error("alert dispatch failed", zap.Error(err))
		status = "partial"
	}
	for _, a := range alerts {
		metrics.ObserveAlert(string(a.Status), a.Reason)
	}

	e.logMatrix(ctx)

	if err := e.snapshots.Prune(ctx, e.cfg.Retention); err != nil {
		e.logger.Warn("retention prune failed", zap.Error(err))
	}
	if err := e.snapshots.SetLastRun(ctx, "competitor_scan", e.clock.Now()); err != nil {
		e.logger.Warn("record last run failed", zap.Error(err))
	}
	if err := e.snapshots.AppendActivity(ctx, "scan", fmt.Sprintf(
		"competitor scan completed: %d competitors, %d failed, %d changes",
		len(e.cfg.Competitors), failed, len(events))); err != nil {
		e.logger.Warn("append activity failed", zap.Error(err))
	}

	duration := e.clock.Now().Sub(start)
	metrics.ObserveScanCycle("competitor_scan", status, duration)
	e.logger.Info("competitor scan finished",
		zap.String("status", status),
		zap.Int("changes", len(events)),
		zap.Duration("duration", duration),
	)
	if status == "failed" {
		return fmt.Errorf("all %d competitors failed", failed)
	}
	return nil
}

// scanCompetitor runs collect, diff and commit for one competitor. Only the
// fetch runs under the budgeted fetchCtx; once collection has completed the
// commit must not be lost to a budget overrun. The previous snapshot is read
// before the commit rotates it away.
func (e *Engine) scanCompetitor(ctx, fetchCtx context.Context, profile monitor.CompetitorProfile) competitorOutcome {
	compCtx := fetchCtx
	if e.cfg.CompetitorTimeout > 0 {
		var cancel context.CancelFunc
		compCtx, cancel = context.WithTimeout(fetchCtx, e.cfg.CompetitorTimeout)
		defer cancel()
	}

	result, err := e.collector.Collect(compCtx, profile)
	if err != nil {
		metrics.ObservePageFetch(profile.ID, "error")
		if actErr := e.snapshots.AppendActivity(ctx, "scan", fmt.Sprintf(
			"collection failed for %s: %v", profile.Name, err)); actErr != nil {
			e.logger.Warn("append activity failed", zap.Error(actErr))
		}
		return competitorOutcome{err: err}
	}
	metrics.ObservePageFetch(profile.ID, "ok")

	previous, err := e.snapshots.CurrentSnapshot(ctx, profile.ID)
	if err != nil {
		return competitorOutcome{err: fmt.Errorf("load previous snapshot: %w", err)}
	}

	pageChanges := make([]detector.PageChange, 0, len(result.Pages))
	for _, outcome := range result.Pages {
		pageChanges = append(pageChanges, detector.PageChange{
			URL:      outcome.Page.URL,
			PrevHash: outcome.PrevHash,
			Hash:     outcome.Page.ContentHash,
		})
	}
	events := e.detector.DiffPages(profile.ID, pageChanges)

	// Identical page hashes mean identical extracted metrics; skip the
	// field-level diff entirely.
	if !result.Unchanged {
		events = append(events, e.detector.Diff(previous, result.Snapshot)...)
	}

	if err := e.snapshots.CommitSnapshot(ctx, result.Snapshot); err != nil {
		return competitorOutcome{err: fmt.Errorf("commit snapshot: %w", err)}
	}
	if len(events) > 0 {
		if err := e.snapshots.AppendChanges(ctx, events); err != nil {
			return competitorOutcome{err: fmt.Errorf("append changes: %w", err)}
		}
	}
	return competitorOutcome{events: events}
}

// RunRankingScan checks every configured keyword and dispatches page-1
// crossing events.
func (e *Engine) RunRankingScan(ctx context.Context) error {
	start := e.clock.Now()
	status := "ok"

	records, deltas, err := e.tracker.CheckRankings(ctx, e.cfg.Keywords, e.cfg.Competitors)
	if err != nil {
		status = "failed"
		metrics.ObserveRankingCheck(status)
		metrics.ObserveScanCycle("ranking_scan", status, e.clock.Now().Sub(start))
		return err
	}
	metrics.ObserveRankingCheck(status)

	for _, event := range deltas {
		metrics.ObserveChangeEvent(string(event.Type))
	}
	alerts, err := e.dispatcher.Dispatch(ctx, deltas)
	if err != nil {
		e.logger.Error("ranking alert dispatch failed", zap.Error(err))
		status = "partial"
	}
	for _, a := range alerts {
		metrics.ObserveAlert(string(a.Status), a.Reason)
	}

	if err := e.snapshots.SetLastRun(ctx, "ranking_scan", e.clock.Now()); err != nil {
		e.logger.Warn("record last run failed", zap.Error(err))
	}
	if err := e.snapshots.AppendActivity(ctx, "ranking", fmt.Sprintf(
		"ranking scan completed: %d keywords checked, %d page-1 moves",
		len(records), len(deltas))); err != nil {
		e.logger.Warn("append activity failed", zap.Error(err))
	}

	metrics.ObserveScanCycle("ranking_scan", status, e.clock.Now().Sub(start))
	return nil
}

// RunPerformanceScan probes each competitor's home page and records the
// response latency in the activity log.
func (e *Engine) RunPerformanceScan(ctx context.Context) error {
	start := e.clock.Now()
	if e.probe == nil {
		return nil
	}

	for _, profile := range e.cfg.Competitors {
		url := homeURL(profile.Domain)
		began := e.clock.Now()
		resp, err := e.probe.Fetch(ctx, url)
		elapsed := e.clock.Now().Sub(began)

		var message string
		if err != nil {
			message = fmt.Sprintf("%s unreachable: %v", profile.Domain, err)
		} else {
			message = fmt.Sprintf("%s responded in %d ms (HTTP %d)",
				profile.Domain, elapsed.Milliseconds(), resp.StatusCode)
		}
		if actErr := e.snapshots.AppendActivity(ctx, "performance", message); actErr != nil {
			e.logger.Warn("append activity failed", zap.Error(actErr))
		}
	}

	if err := e.snapshots.SetLastRun(ctx, "performance_scan", e.clock.Now()); err != nil {
		e.logger.Warn("record last run failed", zap.Error(err))
	}
	metrics.ObserveScanCycle("performance_scan", "ok", e.clock.Now().Sub(start))
	return nil
}

// RunWeeklyReport assembles the week's changes, rankings and the current
// matrix into a text report, stores it, and mails it when a sender is
// configured.
func (e *Engine) RunWeeklyReport(ctx context.Context) error {
	start := e.clock.Now()

	snaps, err := e.snapshots.AllCurrentSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	changes, err := e.snapshots.ChangesSince(ctx, start.AddDate(0, 0, -7))
	if err != nil {
		return fmt.Errorf("load changes: %w", err)
	}
	rankings, err := e.snapshots.LatestRankings(ctx)
	if err != nil {
		return fmt.Errorf("load rankings: %w", err)
	}

	report := renderReport(start, matrix.Build(snaps, e.competitorNames()), changes, rankings)

	if e.blobs != nil {
		path := fmt.Sprintf("%s/weekly-%s.txt", e.cfg.ReportPrefix, start.Format("2006-01-02"))
		uri, err := e.blobs.PutObject(ctx, path, "text/plain; charset=utf-8", []byte(report))
		if err != nil {
			e.logger.Warn("store weekly report failed", zap.Error(err))
		} else {
			e.logger.Info("weekly report stored", zap.String("uri", uri))
		}
	}
	if e.sender != nil && len(e.cfg.ReportRecipients) > 0 {
		subject := fmt.Sprintf("[compwatch] weekly report %s", start.Format("2006-01-02"))
		if err := e.sender.Send(ctx, e.cfg.ReportRecipients, subject, report); err != nil {
			e.logger.Warn("mail weekly report failed", zap.Error(err))
		}
	}

	if err := e.snapshots.SetLastRun(ctx, "weekly_report", e.clock.Now()); err != nil {
		e.logger.Warn("record last run failed", zap.Error(err))
	}
	if err := e.snapshots.AppendActivity(ctx, "report", fmt.Sprintf(
		"weekly report generated: %d changes, %d keywords", len(changes), len(rankings))); err != nil {
		e.logger.Warn("append activity failed", zap.Error(err))
	}
	metrics.ObserveScanCycle("weekly_report", "ok", e.clock.Now().Sub(start))
	return nil
}

func (e *Engine) logMatrix(ctx context.Context) {
	snaps, err := e.snapshots.AllCurrentSnapshots(ctx)
	if err != nil {
		e.logger.Warn("matrix rebuild failed", zap.Error(err))
		return
	}
	m := matrix.Build(snaps, e.competitorNames())
	e.logger.Debug("comparison matrix rebuilt",
		zap.Int("blog_leaders", len(m.MostActiveBlogs)),
		zap.Int("social_leaders", len(m.SocialMediaLeaders)),
		zap.Int("content_leaders", len(m.ContentLeaders)),
	)
}

func (e *Engine) competitorNames() map[string]string {
	names := make(map[string]string, len(e.cfg.Competitors))
	for _, profile := range e.cfg.Competitors {
		names[profile.ID] = profile.Name
	}
	return names
}

func homeURL(domain string) string {
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	return "https://" + domain
}

func renderReport(
	at time.Time,
	m monitor.Matrix,
	changes []monitor.ChangeEvent,
	rankings []monitor.RankingRecord,
) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Competitive monitoring report, week ending %s\n\n", at.Format("2006-01-02"))

	b.WriteString("Leaderboards\n")
	writeBoard(&b, "Most active blogs", m.MostActiveBlogs)
	writeBoard(&b, "Social media leaders", m.SocialMediaLeaders)
	writeBoard(&b, "Content leaders", m.ContentLeaders)

	fmt.Fprintf(&b, "\nChanges this week (%d)\n", len(changes))
	for _, event := range changes {
		fmt.Fprintf(&b, "  [%s] %s: %s\n", event.Severity, event.CompetitorID, event.Summary)
	}

	fmt.Fprintf(&b, "\nKeyword rankings (%d)\n", len(rankings))
	for _, record := range rankings {
		top := "no competitors ranked"
		if len(record.TopCompetitors) > 0 {
			top = fmt.Sprintf("#%d %s", record.TopCompetitors[0].Position, record.TopCompetitors[0].Name)
		}
		fmt.Fprintf(&b, "  %q (%s): %s\n", record.Keyword, record.Date, top)
	}
	return b.String()
}

func writeBoard(b *strings.Builder, title string, entries []monitor.LeaderboardEntry) {
	fmt.Fprintf(b, "  %s:\n", title)
	if len(entries) == 0 {
		b.WriteString("    (no data)\n")
		return
	}
	for i, entry := range entries {
		fmt.Fprintf(b, "    %d. %s (%d)\n", i+1, entry.Name, entry.Value)
	}
}
