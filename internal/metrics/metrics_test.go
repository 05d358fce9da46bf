package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObserveBeforeInit(t *testing.T) {
	// Each helper registers the collectors on first use; no call ordering
	// is required of callers.
	ObserveChangeEvent("new-post")
	ObserveAlert("sent", "")
	ObserveAlert("suppressed", "quota")
	ObserveScanCycle("competitor_scan", "ok", time.Second)
	ObserveScanCycle("ranking_scan", "failed", time.Second)
	ObservePageFetch("acme", "ok")
	ObserveRankingCheck("ok")
	ObserveHTTPRequest("GET", "/api/status", 200, 10*time.Millisecond)

	require.NotNil(t, Handler())
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	ObserveChangeEvent("price-changed")
}
