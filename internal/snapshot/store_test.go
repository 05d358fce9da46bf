package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weomedia/compwatch/internal/monitor"
	"github.com/weomedia/compwatch/internal/store/memory"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func newTestStore() (*Store, *testClock) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	return New(memory.New(), clock, nil), clock
}

func TestCommitSnapshotRotation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore()

	first := monitor.MetricsSnapshot{
		CompetitorID: "acme",
		Blogs:        monitor.BlogMetrics{TotalPosts: 5},
	}
	second := first
	second.Blogs.TotalPosts = 8

	current, err := s.CurrentSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.Nil(t, current)

	require.NoError(t, s.CommitSnapshot(ctx, first))
	current, err = s.CurrentSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Equal(t, 5, current.Blogs.TotalPosts)

	previous, err := s.PreviousSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.Nil(t, previous)

	require.NoError(t, s.CommitSnapshot(ctx, second))
	current, err = s.CurrentSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 8, current.Blogs.TotalPosts)
	previous, err = s.PreviousSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, previous)
	require.Equal(t, 5, previous.Blogs.TotalPosts)
}

func TestAllCurrentSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.CommitSnapshot(ctx, monitor.MetricsSnapshot{CompetitorID: "acme"}))
	require.NoError(t, s.CommitSnapshot(ctx, monitor.MetricsSnapshot{CompetitorID: "bright"}))
	require.NoError(t, s.CommitSnapshot(ctx, monitor.MetricsSnapshot{CompetitorID: "acme"}))

	snaps, err := s.AllCurrentSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Contains(t, snaps, "acme")
	require.Contains(t, snaps, "bright")
}

func TestRecordRankingRejectsOutOfOrderDates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.RecordRanking(ctx, monitor.RankingRecord{
		Keyword: "dental marketing", Date: "2025-03-10",
		Positions: map[string]int{"acme": 1},
	}))
	// Same date is allowed (re-scan of the same day overwrites).
	require.NoError(t, s.RecordRanking(ctx, monitor.RankingRecord{
		Keyword: "dental marketing", Date: "2025-03-10",
		Positions: map[string]int{"acme": 2},
	}))
	// Older date is dropped, not an error.
	require.NoError(t, s.RecordRanking(ctx, monitor.RankingRecord{
		Keyword: "dental marketing", Date: "2025-03-08",
		Positions: map[string]int{"acme": 9},
	}))

	latest, err := s.LatestRanking(ctx, "dental marketing")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "2025-03-10", latest.Date)
	require.Equal(t, 2, latest.Positions["acme"])
}

func TestLatestRankingsOnePerKeyword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.RecordRanking(ctx, monitor.RankingRecord{Keyword: "dental seo", Date: "2025-03-08"}))
	require.NoError(t, s.RecordRanking(ctx, monitor.RankingRecord{Keyword: "dental seo", Date: "2025-03-10"}))
	require.NoError(t, s.RecordRanking(ctx, monitor.RankingRecord{Keyword: "dental websites", Date: "2025-03-09"}))

	records, err := s.LatestRankings(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	byKeyword := make(map[string]string)
	for _, record := range records {
		byKeyword[record.Keyword] = record.Date
	}
	require.Equal(t, "2025-03-10", byKeyword["dental seo"])
	require.Equal(t, "2025-03-09", byKeyword["dental websites"])
}

func TestQuotaCounter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestStore()
	hour := clock.now.Truncate(time.Hour)

	count, err := s.QuotaCount(ctx, hour)
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, s.IncrementQuota(ctx, hour))
	require.NoError(t, s.IncrementQuota(ctx, hour))
	count, err = s.QuotaCount(ctx, hour)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// The next hour has its own counter.
	count, err = s.QuotaCount(ctx, hour.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestAlertKeyDedupWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestStore()

	require.NoError(t, s.MarkAlertKeySent(ctx, "acme|/pricing|price-changed|abc", clock.now))

	sent, err := s.AlertKeySentWithin(ctx, "acme|/pricing|price-changed|abc", 7*24*time.Hour)
	require.NoError(t, err)
	require.True(t, sent)

	sent, err = s.AlertKeySentWithin(ctx, "other-key", 7*24*time.Hour)
	require.NoError(t, err)
	require.False(t, sent)

	clock.now = clock.now.Add(8 * 24 * time.Hour)
	sent, err = s.AlertKeySentWithin(ctx, "acme|/pricing|price-changed|abc", 7*24*time.Hour)
	require.NoError(t, err)
	require.False(t, sent)
}

func TestPendingAlertsDrain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestStore()

	alert := monitor.Alert{ID: "a1", Status: monitor.AlertQueued, CreatedAt: clock.now, Attempts: 1}
	require.NoError(t, s.PutPendingAlert(ctx, alert))

	pending, err := s.TakePendingAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "a1", pending[0].ID)

	pending, err = s.TakePendingAlerts(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRecentActivityNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendActivity(ctx, "scan", string(rune('a'+i))))
		clock.now = clock.now.Add(time.Minute)
	}

	entries, err := s.RecentActivity(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "e", entries[0].Message)
	require.Equal(t, "d", entries[1].Message)
	require.Equal(t, "c", entries[2].Message)
}

func TestChangesSinceFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestStore()

	old := monitor.ChangeEvent{CompetitorID: "acme", Type: monitor.ChangeNewPost, DetectedAt: clock.now.Add(-48 * time.Hour)}
	recent := monitor.ChangeEvent{CompetitorID: "acme", Type: monitor.ChangePriceChanged, DetectedAt: clock.now}
	require.NoError(t, s.AppendChanges(ctx, []monitor.ChangeEvent{old, recent}))

	events, err := s.ChangesSince(ctx, clock.now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, monitor.ChangePriceChanged, events[0].Type)
}

func TestPruneRemovesExpiredHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestStore()

	stale := monitor.ChangeEvent{CompetitorID: "acme", Type: monitor.ChangeNewPost, DetectedAt: clock.now.AddDate(0, 0, -40)}
	fresh := monitor.ChangeEvent{CompetitorID: "acme", Type: monitor.ChangeNewPost, DetectedAt: clock.now}
	require.NoError(t, s.AppendChanges(ctx, []monitor.ChangeEvent{stale, fresh}))
	require.NoError(t, s.RecordScreenshot(ctx, monitor.ScreenshotRef{
		Competitor: "acme", Timestamp: clock.now.AddDate(0, 0, -20),
	}))
	require.NoError(t, s.CommitSnapshot(ctx, monitor.MetricsSnapshot{CompetitorID: "acme"}))

	require.NoError(t, s.Prune(ctx, Retention{ScreenshotsDays: 14, RankingsDays: 90, LogsDays: 30}))

	events, err := s.ChangesSince(ctx, clock.now.AddDate(0, 0, -60))
	require.NoError(t, err)
	require.Len(t, events, 1)

	shots, err := s.RecentScreenshots(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, shots)

	// Live snapshots are never pruned.
	current, err := s.CurrentSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, current)
}

func TestLastRunRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestStore()

	at, err := s.LastRun(ctx, "competitor_scan")
	require.NoError(t, err)
	require.True(t, at.IsZero())

	require.NoError(t, s.SetLastRun(ctx, "competitor_scan", clock.now))
	at, err = s.LastRun(ctx, "competitor_scan")
	require.NoError(t, err)
	require.True(t, at.Equal(clock.now))
}

func TestPageFetchRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestStore()

	page, err := s.LastPageFetch(ctx, "acme", "https://acme.example/pricing")
	require.NoError(t, err)
	require.Nil(t, page)

	require.NoError(t, s.RecordPageFetch(ctx, "acme", monitor.PageFetchResult{
		URL:         "https://acme.example/pricing",
		FetchedAt:   clock.now,
		StatusCode:  200,
		ContentHash: "abc123",
		Body:        []byte("<html></html>"),
	}))

	page, err = s.LastPageFetch(ctx, "acme", "https://acme.example/pricing")
	require.NoError(t, err)
	require.NotNil(t, page)
	require.Equal(t, "abc123", page.ContentHash)
	// Bodies are never persisted.
	require.Nil(t, page.Body)
}
