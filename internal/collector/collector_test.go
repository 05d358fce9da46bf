package collector_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weomedia/compwatch/internal/collector"
	"github.com/weomedia/compwatch/internal/hash/sha256"
	"github.com/weomedia/compwatch/internal/monitor"
	"github.com/weomedia/compwatch/internal/snapshot"
	"github.com/weomedia/compwatch/internal/store/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]monitor.FetchResponse
	errs      map[string]error
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: map[string]monitor.FetchResponse{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (monitor.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return monitor.FetchResponse{}, err
	}
	resp, ok := f.responses[url]
	if !ok {
		return monitor.FetchResponse{}, fmt.Errorf("no response configured for %s", url)
	}
	return resp, nil
}

type fakeShotter struct {
	image []byte
	err   error
}

func (f *fakeShotter) Capture(context.Context, string) ([]byte, error) {
	return f.image, f.err
}

type fakeBlobs struct {
	paths []string
	err   error
}

func (f *fakeBlobs) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.paths = append(f.paths, path)
	return "mem://" + path, nil
}

func pageResponse(url, body string) monitor.FetchResponse {
	return monitor.FetchResponse{
		URL:        url,
		StatusCode: 200,
		Body:       []byte(body),
		Duration:   42 * time.Millisecond,
	}
}

const competitorHome = `<html><body>
<p>Dental marketing plans from $750 per month.</p>
<a href="https://facebook.com/acme">Facebook</a>
</body></html>`

func acmeProfile(pages ...string) monitor.CompetitorProfile {
	return monitor.CompetitorProfile{
		ID:     "acme",
		Name:   "Acme Dental Marketing",
		Domain: "acmedental.example",
		Pages:  pages,
	}
}

func newTestCollector(
	t *testing.T,
	fetcher monitor.Fetcher,
	shotter monitor.Screenshotter,
	blobs monitor.BlobStore,
	cfg collector.Config,
) (*collector.Collector, *snapshot.Store) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)}
	snapshots := snapshot.New(memory.New(), clock, nil)
	return collector.New(fetcher, shotter, blobs, snapshots, sha256.New(), clock, cfg, nil), snapshots
}

func TestCollectExtractsSnapshot(t *testing.T) {
	t.Parallel()

	home := "https://acmedental.example"
	fetcher := newFakeFetcher()
	fetcher.responses[home] = pageResponse(home, competitorHome)

	col, snapshots := newTestCollector(t, fetcher, nil, nil, collector.Config{})
	result, err := col.Collect(context.Background(), acmeProfile(home))
	require.NoError(t, err)

	require.Equal(t, "acme", result.Snapshot.CompetitorID)
	require.Equal(t, "$750", result.Snapshot.Pricing.StartingPrice)
	require.False(t, result.Unchanged)
	require.Len(t, result.Pages, 1)
	require.Empty(t, result.Pages[0].PrevHash)
	require.NotEmpty(t, result.Pages[0].Page.ContentHash)

	last, err := snapshots.LastPageFetch(context.Background(), "acme", home)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.Equal(t, result.Pages[0].Page.ContentHash, last.ContentHash)
}

func TestCollectUnchangedOnRepeatFetch(t *testing.T) {
	t.Parallel()

	home := "https://acmedental.example"
	fetcher := newFakeFetcher()
	fetcher.responses[home] = pageResponse(home, competitorHome)

	col, _ := newTestCollector(t, fetcher, nil, nil, collector.Config{})

	first, err := col.Collect(context.Background(), acmeProfile(home))
	require.NoError(t, err)
	require.False(t, first.Unchanged)

	second, err := col.Collect(context.Background(), acmeProfile(home))
	require.NoError(t, err)
	require.True(t, second.Unchanged)
	require.Equal(t, first.Pages[0].Page.ContentHash, second.Pages[0].PrevHash)
}

func TestCollectUnreachableWhenAllPagesFail(t *testing.T) {
	t.Parallel()

	home := "https://acmedental.example"
	fetcher := newFakeFetcher()
	fetcher.errs[home] = errors.New("connection refused")

	col, _ := newTestCollector(t, fetcher, nil, nil, collector.Config{MaxRetries: 1})
	_, err := col.Collect(context.Background(), acmeProfile(home))
	require.Error(t, err)
	require.Equal(t, monitor.CollectUnreachable, monitor.CollectKind(err))
}

func TestCollectPartialPageFailureIsUnreachable(t *testing.T) {
	t.Parallel()

	home := "https://acmedental.example"
	pricing := "https://acmedental.example/pricing"
	fetcher := newFakeFetcher()
	fetcher.responses[home] = pageResponse(home, "<html><body><p>Acme Dental Marketing</p></body></html>")
	fetcher.responses[pricing] = pageResponse(pricing, competitorHome)

	col, _ := newTestCollector(t, fetcher, nil, nil, collector.Config{})

	first, err := col.Collect(context.Background(), acmeProfile(home, pricing))
	require.NoError(t, err)
	require.Equal(t, "$750", first.Snapshot.Pricing.StartingPrice)

	// The pricing page going down must not yield a snapshot missing the
	// price: the whole competitor is unreachable and the prior snapshot
	// stays current.
	fetcher.errs[pricing] = errors.New("connection refused")
	_, err = col.Collect(context.Background(), acmeProfile(home, pricing))
	require.Error(t, err)
	require.Equal(t, monitor.CollectUnreachable, monitor.CollectKind(err))
}

func TestCollectRetryBudgetAllowsMaxRetries(t *testing.T) {
	t.Parallel()

	// One initial attempt plus MaxRetries retries.
	home := "https://acmedental.example"
	fetcher := &flakyFetcher{
		failures: 3,
		resp:     pageResponse(home, competitorHome),
	}

	col, _ := newTestCollector(t, fetcher, nil, nil, collector.Config{MaxRetries: 3})
	result, err := col.Collect(context.Background(), acmeProfile(home))
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	require.Equal(t, 4, fetcher.calls)
}

func TestCollectRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	home := "https://acmedental.example"
	fetcher := &flakyFetcher{
		failures: 10,
		resp:     pageResponse(home, competitorHome),
	}

	col, _ := newTestCollector(t, fetcher, nil, nil, collector.Config{MaxRetries: 1})
	_, err := col.Collect(context.Background(), acmeProfile(home))
	require.Error(t, err)
	require.Equal(t, monitor.CollectUnreachable, monitor.CollectKind(err))
	require.Equal(t, 2, fetcher.calls)
}

// flakyFetcher returns HTTP 503 for the first N calls, then succeeds.
type flakyFetcher struct {
	mu       sync.Mutex
	failures int
	calls    int
	resp     monitor.FetchResponse
}

func (f *flakyFetcher) Fetch(_ context.Context, url string) (monitor.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return monitor.FetchResponse{URL: url, StatusCode: 503}, nil
	}
	return f.resp, nil
}

func TestCollectScreenshotFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	home := "https://acmedental.example"
	fetcher := newFakeFetcher()
	fetcher.responses[home] = pageResponse(home, competitorHome)
	shotter := &fakeShotter{err: errors.New("browser crashed")}

	col, _ := newTestCollector(t, fetcher, shotter, &fakeBlobs{}, collector.Config{})
	result, err := col.Collect(context.Background(), acmeProfile(home))
	require.NoError(t, err)
	require.Empty(t, result.Pages[0].Page.ScreenshotURI)
}

func TestCollectRecordsScreenshots(t *testing.T) {
	t.Parallel()

	home := "https://acmedental.example"
	fetcher := newFakeFetcher()
	fetcher.responses[home] = pageResponse(home, competitorHome)
	shotter := &fakeShotter{image: []byte("png-bytes")}
	blobs := &fakeBlobs{}

	col, snapshots := newTestCollector(t, fetcher, shotter, blobs, collector.Config{BlobPrefix: "shots"})
	result, err := col.Collect(context.Background(), acmeProfile(home))
	require.NoError(t, err)
	require.NotEmpty(t, result.Pages[0].Page.ScreenshotURI)
	require.Len(t, blobs.paths, 1)
	require.Contains(t, blobs.paths[0], "shots/acme/")

	shots, err := snapshots.RecentScreenshots(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	require.Equal(t, "Acme Dental Marketing", shots[0].Competitor)
	require.Equal(t, home, shots[0].Page)
}

func TestCollectNoPagesConfigured(t *testing.T) {
	t.Parallel()

	col, _ := newTestCollector(t, newFakeFetcher(), nil, nil, collector.Config{})
	_, err := col.Collect(context.Background(), acmeProfile())
	require.Error(t, err)
	require.Equal(t, monitor.CollectUnreachable, monitor.CollectKind(err))
}
