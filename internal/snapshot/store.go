// Package snapshot layers the engine's typed state on top of the KV store:
// current/previous metrics snapshots, change and activity logs, ranking and
// alert history, screenshot index and quota counters, plus retention pruning.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weomedia/compwatch/internal/monitor"
	"github.com/weomedia/compwatch/internal/store"
)

const (
	dayFormat  = "2006-01-02"
	hourFormat = "2006-01-02T15"
)

// Retention bounds how long derived history is kept.
type Retention struct {
	ScreenshotsDays int
	RankingsDays    int
	LogsDays        int
}

// Store is the only shared mutable state in the engine. Writers are the
// collector (pages, snapshots) and the alert dispatcher (alerts, quota);
// everything else reads. Each Put on the underlying KV is an atomic replace,
// so readers never see partial writes.
type Store struct {
	kv     store.KV
	clock  monitor.Clock
	logger *zap.Logger

	mu  sync.Mutex // guards the current->previous snapshot rotation
	seq uint64     // disambiguates same-timestamp log keys
}

// New constructs a Store.
func New(kv store.KV, clock monitor.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, clock: clock, logger: logger.Named("snapshot")}
}

// --- metrics snapshots ---

// CommitSnapshot rotates the competitor's current snapshot to previous and
// writes snap as the new current. The rotation is atomic per competitor:
// the detector never sees a half-committed pair.
func (s *Store) CommitSnapshot(ctx context.Context, snap monitor.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentKey := snapshotKey(snap.CompetitorID, "current")
	current, err := s.kv.Get(ctx, currentKey)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("read current snapshot: %w", err)
	}
	if err == nil {
		if putErr := s.kv.Put(ctx, snapshotKey(snap.CompetitorID, "previous"), current); putErr != nil {
			return fmt.Errorf("rotate previous snapshot: %w", putErr)
		}
	}
	return s.putJSON(ctx, currentKey, snap)
}

// CurrentSnapshot returns the most recently committed snapshot, or nil if
// the competitor has never been collected.
func (s *Store) CurrentSnapshot(ctx context.Context, competitorID string) (*monitor.MetricsSnapshot, error) {
	return s.getSnapshot(ctx, snapshotKey(competitorID, "current"))
}

// PreviousSnapshot returns the superseded snapshot kept for diffing.
func (s *Store) PreviousSnapshot(ctx context.Context, competitorID string) (*monitor.MetricsSnapshot, error) {
	return s.getSnapshot(ctx, snapshotKey(competitorID, "previous"))
}

// AllCurrentSnapshots returns every competitor's current snapshot keyed by
// competitor ID.
func (s *Store) AllCurrentSnapshots(ctx context.Context) (map[string]monitor.MetricsSnapshot, error) {
	entries, err := s.kv.ListByPrefix(ctx, "competitor/")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make(map[string]monitor.MetricsSnapshot)
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Key, "/snapshot/current") {
			continue
		}
		var snap monitor.MetricsSnapshot
		if err := json.Unmarshal(entry.Value, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %q: %w", entry.Key, err)
		}
		out[snap.CompetitorID] = snap
	}
	return out, nil
}

func (s *Store) getSnapshot(ctx context.Context, key string) (*monitor.MetricsSnapshot, error) {
	raw, err := s.kv.Get(ctx, key)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap monitor.MetricsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// --- page fetches ---

// RecordPageFetch persists the fetch metadata used as the "previous" value
// for the next diff. Bodies are not persisted.
func (s *Store) RecordPageFetch(ctx context.Context, competitorID string, page monitor.PageFetchResult) error {
	return s.putJSON(ctx, pageKey(competitorID, page.URL), page)
}

// LastPageFetch returns the prior fetch for a URL, or nil on first contact.
func (s *Store) LastPageFetch(ctx context.Context, competitorID, url string) (*monitor.PageFetchResult, error) {
	raw, err := s.kv.Get(ctx, pageKey(competitorID, url))
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read page fetch: %w", err)
	}
	var page monitor.PageFetchResult
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode page fetch: %w", err)
	}
	return &page, nil
}

// --- change events ---

// AppendChanges appends detector output to the day-partitioned change log.
func (s *Store) AppendChanges(ctx context.Context, events []monitor.ChangeEvent) error {
	for _, event := range events {
		key := fmt.Sprintf("changes/%s/%s", event.DetectedAt.UTC().Format(dayFormat), s.logSuffix(event.DetectedAt))
		if err := s.putJSON(ctx, key, event); err != nil {
			return err
		}
	}
	return nil
}

// ChangesSince returns change events detected at or after since, oldest
// first.
func (s *Store) ChangesSince(ctx context.Context, since time.Time) ([]monitor.ChangeEvent, error) {
	entries, err := s.kv.ListByPrefix(ctx, "changes/")
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	var events []monitor.ChangeEvent
	for _, entry := range entries {
		var event monitor.ChangeEvent
		if err := json.Unmarshal(entry.Value, &event); err != nil {
			return nil, fmt.Errorf("decode change %q: %w", entry.Key, err)
		}
		if event.DetectedAt.Before(since) {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// --- rankings ---

// RecordRanking stores one keyword's ranking record. Dates must be
// non-decreasing per keyword; an out-of-order record is dropped with a log
// line rather than rewriting history.
func (s *Store) RecordRanking(ctx context.Context, record monitor.RankingRecord) error {
	latest, err := s.LatestRanking(ctx, record.Keyword)
	if err != nil {
		return err
	}
	if latest != nil && record.Date < latest.Date {
		s.logger.Warn("dropping out-of-order ranking record",
			zap.String("keyword", record.Keyword),
			zap.String("date", record.Date),
			zap.String("latest", latest.Date),
		)
		return nil
	}
	return s.putJSON(ctx, rankingKey(record.Keyword, record.Date), record)
}

// LatestRanking returns the most recent record for a keyword, or nil.
func (s *Store) LatestRanking(ctx context.Context, keyword string) (*monitor.RankingRecord, error) {
	entries, err := s.kv.ListByPrefix(ctx, rankingPrefix(keyword))
	if err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	var record monitor.RankingRecord
	if err := json.Unmarshal(entries[len(entries)-1].Value, &record); err != nil {
		return nil, fmt.Errorf("decode ranking: %w", err)
	}
	return &record, nil
}

// LatestRankings returns the newest record per keyword.
func (s *Store) LatestRankings(ctx context.Context) ([]monitor.RankingRecord, error) {
	entries, err := s.kv.ListByPrefix(ctx, "rankings/")
	if err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	latest := make(map[string]monitor.RankingRecord)
	var order []string
	for _, entry := range entries {
		var record monitor.RankingRecord
		if err := json.Unmarshal(entry.Value, &record); err != nil {
			return nil, fmt.Errorf("decode ranking %q: %w", entry.Key, err)
		}
		if _, seen := latest[record.Keyword]; !seen {
			order = append(order, record.Keyword)
		}
		// entries are key-ordered, so later records overwrite earlier ones
		latest[record.Keyword] = record
	}
	out := make([]monitor.RankingRecord, 0, len(order))
	for _, keyword := range order {
		out = append(out, latest[keyword])
	}
	return out, nil
}

// --- alerts ---

// RecordAlert writes one alert decision into the day-partitioned history.
func (s *Store) RecordAlert(ctx context.Context, alert monitor.Alert) error {
	key := fmt.Sprintf("alerts/%s/%s", alert.CreatedAt.UTC().Format(dayFormat), alert.ID)
	return s.putJSON(ctx, key, alert)
}

// AlertsForDay returns all alerts recorded for one UTC day.
func (s *Store) AlertsForDay(ctx context.Context, day time.Time) ([]monitor.Alert, error) {
	entries, err := s.kv.ListByPrefix(ctx, "alerts/"+day.UTC().Format(dayFormat)+"/")
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	alerts := make([]monitor.Alert, 0, len(entries))
	for _, entry := range entries {
		var alert monitor.Alert
		if err := json.Unmarshal(entry.Value, &alert); err != nil {
			return nil, fmt.Errorf("decode alert %q: %w", entry.Key, err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// MarkAlertKeySent records the dedup key of a delivered alert so the same
// event is not resent within the dedup window.
func (s *Store) MarkAlertKeySent(ctx context.Context, dedupKey string, at time.Time) error {
	return s.kv.Put(ctx, "sentkeys/"+dedupKey, []byte(at.UTC().Format(time.RFC3339)))
}

// AlertKeySentWithin reports whether an alert with this dedup key was sent
// inside the window.
func (s *Store) AlertKeySentWithin(ctx context.Context, dedupKey string, window time.Duration) (bool, error) {
	raw, err := s.kv.Get(ctx, "sentkeys/"+dedupKey)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read sent key: %w", err)
	}
	sentAt, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return false, fmt.Errorf("parse sent key timestamp: %w", err)
	}
	return s.clock.Now().Sub(sentAt) < window, nil
}

// PutPendingAlert parks a transport-failed alert for one retry on the next
// scheduler tick.
func (s *Store) PutPendingAlert(ctx context.Context, alert monitor.Alert) error {
	return s.putJSON(ctx, "pending/"+alert.ID, alert)
}

// TakePendingAlerts drains and returns all parked alerts.
func (s *Store) TakePendingAlerts(ctx context.Context) ([]monitor.Alert, error) {
	entries, err := s.kv.ListByPrefix(ctx, "pending/")
	if err != nil {
		return nil, fmt.Errorf("list pending alerts: %w", err)
	}
	alerts := make([]monitor.Alert, 0, len(entries))
	for _, entry := range entries {
		var alert monitor.Alert
		if err := json.Unmarshal(entry.Value, &alert); err != nil {
			return nil, fmt.Errorf("decode pending alert %q: %w", entry.Key, err)
		}
		alerts = append(alerts, alert)
		if err := s.kv.Delete(ctx, entry.Key); err != nil {
			return nil, fmt.Errorf("remove pending alert %q: %w", entry.Key, err)
		}
	}
	return alerts, nil
}

// --- quota ---

// QuotaCount returns the number of alerts sent in the given clock hour.
func (s *Store) QuotaCount(ctx context.Context, hour time.Time) (int, error) {
	raw, err := s.kv.Get(ctx, quotaKey(hour))
	if err == store.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota: %w", err)
	}
	count, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("parse quota counter: %w", err)
	}
	return count, nil
}

// IncrementQuota bumps the hour's sent counter. The dispatcher serializes
// calls, so read-modify-write is safe.
func (s *Store) IncrementQuota(ctx context.Context, hour time.Time) error {
	count, err := s.QuotaCount(ctx, hour)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, quotaKey(hour), []byte(strconv.Itoa(count+1)))
}

// --- activity log ---

// AppendActivity writes one operator-visible log line.
func (s *Store) AppendActivity(ctx context.Context, kind, message string) error {
	now := s.clock.Now()
	entry := monitor.ActivityEntry{At: now, Kind: kind, Message: message}
	key := fmt.Sprintf("activity/%s/%s", now.Format(dayFormat), s.logSuffix(now))
	return s.putJSON(ctx, key, entry)
}

// RecentActivity returns up to limit entries, newest first.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]monitor.ActivityEntry, error) {
	entries, err := s.kv.ListByPrefix(ctx, "activity/")
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	out := make([]monitor.ActivityEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		var entry monitor.ActivityEntry
		if err := json.Unmarshal(entries[i].Value, &entry); err != nil {
			return nil, fmt.Errorf("decode activity %q: %w", entries[i].Key, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// --- screenshots ---

// RecordScreenshot indexes a stored screenshot artifact.
func (s *Store) RecordScreenshot(ctx context.Context, ref monitor.ScreenshotRef) error {
	key := fmt.Sprintf("screenshots/%s-%s", s.logSuffix(ref.Timestamp), slug(ref.Competitor))
	return s.putJSON(ctx, key, ref)
}

// RecentScreenshots returns up to limit refs, newest first.
func (s *Store) RecentScreenshots(ctx context.Context, limit int) ([]monitor.ScreenshotRef, error) {
	entries, err := s.kv.ListByPrefix(ctx, "screenshots/")
	if err != nil {
		return nil, fmt.Errorf("list screenshots: %w", err)
	}
	out := make([]monitor.ScreenshotRef, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		var ref monitor.ScreenshotRef
		if err := json.Unmarshal(entries[i].Value, &ref); err != nil {
			return nil, fmt.Errorf("decode screenshot %q: %w", entries[i].Key, err)
		}
		out = append(out, ref)
	}
	return out, nil
}

// --- run bookkeeping ---

// SetLastRun records when a scheduled job last completed.
func (s *Store) SetLastRun(ctx context.Context, job string, at time.Time) error {
	return s.kv.Put(ctx, "runs/"+job, []byte(at.UTC().Format(time.RFC3339)))
}

// LastRun returns the completion time of the last run, or zero time.
func (s *Store) LastRun(ctx context.Context, job string) (time.Time, error) {
	raw, err := s.kv.Get(ctx, "runs/"+job)
	if err == store.ErrNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read last run: %w", err)
	}
	at, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last run: %w", err)
	}
	return at, nil
}

// --- retention ---

// Prune deletes history older than the retention windows. Live snapshots
// (current/previous) are never pruned.
func (s *Store) Prune(ctx context.Context, retention Retention) error {
	now := s.clock.Now()
	type window struct {
		prefix string
		days   int
	}
	windows := []window{
		{"changes/", retention.LogsDays},
		{"activity/", retention.LogsDays},
		{"alerts/", retention.LogsDays},
		{"quota/", retention.LogsDays},
		{"sentkeys/", retention.LogsDays},
		{"rankings/", retention.RankingsDays},
		{"screenshots/", retention.ScreenshotsDays},
	}
	for _, w := range windows {
		if w.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -w.days)
		if err := s.prunePrefix(ctx, w.prefix, cutoff); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) prunePrefix(ctx context.Context, prefix string, cutoff time.Time) error {
	entries, err := s.kv.ListByPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %q for pruning: %w", prefix, err)
	}
	pruned := 0
	for _, entry := range entries {
		at, ok := entryTime(entry)
		if !ok || !at.Before(cutoff) {
			continue
		}
		if err := s.kv.Delete(ctx, entry.Key); err != nil {
			return fmt.Errorf("prune %q: %w", entry.Key, err)
		}
		pruned++
	}
	if pruned > 0 {
		s.logger.Info("pruned expired entries", zap.String("prefix", prefix), zap.Int("count", pruned))
	}
	return nil
}

// entryTime extracts the timestamp a history entry was written at, from
// whichever envelope the prefix uses.
func entryTime(entry store.Entry) (time.Time, bool) {
	var stamped struct {
		At         time.Time `json:"at"`
		DetectedAt time.Time `json:"detected_at"`
		CreatedAt  time.Time `json:"created_at"`
		Timestamp  time.Time `json:"timestamp"`
		Date       string    `json:"date"`
	}
	if err := json.Unmarshal(entry.Value, &stamped); err == nil {
		for _, t := range []time.Time{stamped.At, stamped.DetectedAt, stamped.CreatedAt, stamped.Timestamp} {
			if !t.IsZero() {
				return t, true
			}
		}
		if stamped.Date != "" {
			if t, err := time.Parse(dayFormat, stamped.Date); err == nil {
				return t, true
			}
		}
	}
	// quota and sentkey values are bare scalars; fall back to the key's
	// embedded hour/day when present.
	parts := strings.Split(entry.Key, "/")
	if len(parts) >= 2 {
		if t, err := time.Parse(hourFormat, parts[1]); err == nil {
			return t, true
		}
		if t, err := time.Parse(dayFormat, parts[1]); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339, string(entry.Value)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// --- helpers ---

func (s *Store) putJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

func (s *Store) logSuffix(at time.Time) string {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	return fmt.Sprintf("%020d-%06d", at.UTC().UnixNano(), seq)
}

func snapshotKey(competitorID, generation string) string {
	return fmt.Sprintf("competitor/%s/snapshot/%s", competitorID, generation)
}

func pageKey(competitorID, url string) string {
	return fmt.Sprintf("competitor/%s/page/%s", competitorID, slug(url))
}

func rankingPrefix(keyword string) string {
	return fmt.Sprintf("rankings/%s/", slug(keyword))
}

func rankingKey(keyword, date string) string {
	return rankingPrefix(keyword) + date
}

func quotaKey(hour time.Time) string {
	return "quota/" + hour.UTC().Format(hourFormat)
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
