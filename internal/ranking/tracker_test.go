package ranking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

type fakeSearcher struct {
	results map[string][]monitor.SearchResult
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, keyword string) ([]monitor.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results[keyword], nil
}

var testCompetitors = []monitor.CompetitorProfile{
	{ID: "acme", Name: "Acme Dental Marketing", Domain: "acmedental.example"},
	{ID: "bright", Name: "Bright Smiles SEO", Domain: "brightsmiles.example"},
}

func newTestTracker(searcher monitor.Searcher) (*Tracker, *snapshot.Store, *testClock) {
	clock := &testClock{now: time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)}
	snapshots := snapshot.New(memory.New(), clock, nil)
	tracker := New(searcher, snapshots, clock, Config{
		BrandID:     "weo-media",
		BrandName:   "WEO Media",
		BrandDomain: "weomedia.example",
	}, nil)
	return tracker, snapshots, clock
}

func TestCheckRankingsBuildsRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	searcher := &fakeSearcher{results: map[string][]monitor.SearchResult{
		"dental marketing": {
			{Title: "Acme Dental Marketing", Domain: "acmedental.example", Position: 1},
			{Title: "Some Directory", Domain: "directory.example", Position: 2},
			{Title: "WEO Media", Domain: "www.weomedia.example", Position: 4},
			{Title: "Bright Smiles SEO", Domain: "brightsmiles.example", Position: 7},
		},
	}}
	tracker, snapshots, _ := newTestTracker(searcher)

	records, deltas, err := tracker.CheckRankings(ctx, []string{"dental marketing"}, testCompetitors)
	require.NoError(t, err)
	require.Empty(t, deltas)
	require.Len(t, records, 1)

	record := records[0]
	require.Equal(t, "dental marketing", record.Keyword)
	require.Equal(t, "2025-03-10", record.Date)
	require.Equal(t, 4, record.Positions["weo-media"])
	require.Equal(t, 1, record.Positions["acme"])
	require.Equal(t, 7, record.Positions["bright"])

	require.Len(t, record.TopCompetitors, 3)
	require.Equal(t, "Acme Dental Marketing", record.TopCompetitors[0].Name)
	require.Equal(t, 1, record.TopCompetitors[0].Position)

	stored, err := snapshots.LatestRanking(ctx, "dental marketing")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, record.Positions, stored.Positions)
}

func TestCheckRankingsUnmatchedCompetitorsNotRanked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	searcher := &fakeSearcher{results: map[string][]monitor.SearchResult{
		"dental seo": {
			{Title: "Unrelated", Domain: "unrelated.example", Position: 1},
		},
	}}
	tracker, _, _ := newTestTracker(searcher)

	records, _, err := tracker.CheckRankings(ctx, []string{"dental seo"}, testCompetitors)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, monitor.NotRanked, records[0].Positions["acme"])
	require.Equal(t, monitor.NotRanked, records[0].Positions["bright"])
	require.Equal(t, monitor.NotRanked, records[0].Positions["weo-media"])
}

func TestCheckRankingsPageOneEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	searcher := &fakeSearcher{results: map[string][]monitor.SearchResult{
		"dental marketing": {
			{Title: "WEO Media", Domain: "weomedia.example", Position: 14},
		},
	}}
	tracker, _, clock := newTestTracker(searcher)

	// Day 1: position 14, no prior record, no delta.
	_, deltas, err := tracker.CheckRankings(ctx, []string{"dental marketing"}, testCompetitors)
	require.NoError(t, err)
	require.Empty(t, deltas)

	// Day 2: position 8, crossed onto page 1.
	clock.now = clock.now.AddDate(0, 0, 1)
	searcher.results["dental marketing"] = []monitor.SearchResult{
		{Title: "WEO Media", Domain: "weomedia.example", Position: 8},
	}
	_, deltas, err = tracker.CheckRankings(ctx, []string{"dental marketing"}, testCompetitors)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Equal(t, monitor.ChangeRankingMoved, deltas[0].Type)
	require.Equal(t, monitor.SeverityWarning, deltas[0].Severity)
	require.Contains(t, deltas[0].Summary, "entered page 1")
	require.Contains(t, deltas[0].Summary, "#14 -> #8")

	// Day 3: still on page 1, no new delta.
	clock.now = clock.now.AddDate(0, 0, 1)
	searcher.results["dental marketing"] = []monitor.SearchResult{
		{Title: "WEO Media", Domain: "weomedia.example", Position: 5},
	}
	_, deltas, err = tracker.CheckRankings(ctx, []string{"dental marketing"}, testCompetitors)
	require.NoError(t, err)
	require.Empty(t, deltas)

	// Day 4: dropped out entirely.
	clock.now = clock.now.AddDate(0, 0, 1)
	searcher.results["dental marketing"] = nil
	_, deltas, err = tracker.CheckRankings(ctx, []string{"dental marketing"}, testCompetitors)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Contains(t, deltas[0].Summary, "left page 1")
	require.Contains(t, deltas[0].Summary, "not ranked")
}

func TestCheckRankingsSearchFailureSkipsKeyword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	searcher := &fakeSearcher{err: errors.New("search api unavailable")}
	tracker, _, _ := newTestTracker(searcher)

	records, deltas, err := tracker.CheckRankings(ctx, []string{"dental marketing", "dental seo"}, testCompetitors)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Empty(t, deltas)
}
