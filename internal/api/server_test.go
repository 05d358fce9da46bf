package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weomedia/compwatch/internal/metrics"
	"github.com/weomedia/compwatch/internal/monitor"
	"github.com/weomedia/compwatch/internal/snapshot"
	"github.com/weomedia/compwatch/internal/store/memory"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

type fakeSchedule struct {
	next time.Time
}

func (f fakeSchedule) NextRun(string) time.Time {
	return f.next
}

func newTestServer(t *testing.T) (*Server, *snapshot.Store, *testClock) {
	t.Helper()
	metrics.Init()
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	snapshots := snapshot.New(memory.New(), clock, nil)
	srv := NewServer(snapshots, fakeSchedule{next: clock.now.Add(6 * time.Hour)}, clock, Config{
		BrandID: "weo-media",
		Competitors: []monitor.CompetitorProfile{
			{ID: "acme", Name: "Acme Dental Marketing", Domain: "acmedental.example"},
		},
		Keywords:     []string{"dental marketing"},
		EmailEnabled: true,
	}, nil)
	return srv, snapshots, clock
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	srv, snapshots, clock := newTestServer(t)
	require.NoError(t, snapshots.SetLastRun(context.Background(), "competitor_scan", clock.now.Add(-time.Hour)))

	rec := get(t, srv, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])
	require.Equal(t, float64(1), resp["competitors"])
	require.Equal(t, float64(1), resp["keywords"])
	require.Equal(t, "enabled", resp["emailStatus"])
	require.NotNil(t, resp["lastCheck"])
	require.NotNil(t, resp["nextCheck"])
	require.Equal(t, float64(0), resp["alertsToday"])
}

func TestStatusEndpointEmptyStore(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := get(t, srv, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp["lastCheck"])
}

func TestCompetitorsEndpoint(t *testing.T) {
	t.Parallel()
	srv, snapshots, clock := newTestServer(t)
	ctx := context.Background()

	rec := get(t, srv, "/api/competitors")
	require.Equal(t, http.StatusOK, rec.Code)
	var empty []competitorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	require.Len(t, empty, 1)
	require.Nil(t, empty[0].Data)
	require.Empty(t, empty[0].Changes)

	require.NoError(t, snapshots.CommitSnapshot(ctx, monitor.MetricsSnapshot{
		CompetitorID: "acme",
		CapturedAt:   clock.now,
		Blogs:        monitor.BlogMetrics{TotalPosts: 12},
	}))
	require.NoError(t, snapshots.AppendChanges(ctx, []monitor.ChangeEvent{{
		CompetitorID: "acme",
		Type:         monitor.ChangeNewPost,
		Severity:     monitor.SeverityInfo,
		DetectedAt:   clock.now,
		Summary:      "blog posts 10 -> 12",
	}}))

	rec = get(t, srv, "/api/competitors")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []competitorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	require.NotNil(t, resp[0].Data)
	require.Equal(t, 12, resp[0].Data.Blogs.TotalPosts)
	require.Len(t, resp[0].Changes, 1)
	require.NotNil(t, resp[0].LastCheck)
}

func TestRankingsRoundTrip(t *testing.T) {
	t.Parallel()
	srv, snapshots, _ := newTestServer(t)

	require.NoError(t, snapshots.RecordRanking(context.Background(), monitor.RankingRecord{
		Keyword: "dental marketing",
		Date:    "2025-03-10",
		Positions: map[string]int{
			"weo-media": 4,
			"acme":      1,
		},
		TopCompetitors: []monitor.RankedCompetitor{
			{Name: "CompetitorX", Position: 1},
			{Name: "WEO Media", Position: 4},
		},
	}))

	rec := get(t, srv, "/api/rankings")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []rankingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	require.Equal(t, "dental marketing", resp[0].Keyword)
	require.Equal(t, 4, resp[0].WeoPosition)
	require.Equal(t, "CompetitorX", resp[0].TopCompetitor)
}

func TestRankingsEmpty(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := get(t, srv, "/api/rankings")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestActivityLimit(t *testing.T) {
	t.Parallel()
	srv, snapshots, clock := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, snapshots.AppendActivity(ctx, "scan", "entry"))
		clock.now = clock.now.Add(time.Second)
	}

	rec := get(t, srv, "/api/activity")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []monitor.ActivityEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 20)
}

func TestScreenshotsLimit(t *testing.T) {
	t.Parallel()
	srv, snapshots, clock := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, snapshots.RecordScreenshot(ctx, monitor.ScreenshotRef{
			Filename:   "shot.png",
			Competitor: "acme",
			Page:       "https://acmedental.example",
			Timestamp:  clock.now,
		}))
		clock.now = clock.now.Add(time.Second)
	}

	rec := get(t, srv, "/api/screenshots")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []screenshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 8)
	require.Equal(t, "acme", resp[0].Competitor)
}

func TestUnknownPathIs404(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := get(t, srv, "/api/unknown")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp, "error")
}

func TestWriteMethodsRejected(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := get(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}
