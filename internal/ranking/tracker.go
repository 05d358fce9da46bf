// Package ranking runs keyword searches and tracks competitor position
// movement over time.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/weomedia/compwatch/internal/monitor"
	"github.com/weomedia/compwatch/internal/snapshot"
)

// Page-1 boundary: crossing position 10 in either direction always triggers
// alert evaluation.
const pageOneThreshold = 10

// Config identifies the monitored brand.
type Config struct {
	BrandID     string
	BrandName   string
	BrandDomain string
}

// Tracker resolves search results to competitor profiles and records one
// RankingRecord per keyword per scan date.
type Tracker struct {
	searcher  monitor.Searcher
	snapshots *snapshot.Store
	clock     monitor.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Tracker.
func New(searcher monitor.Searcher, snapshots *snapshot.Store, clock monitor.Clock, cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BrandID == "" {
		cfg.BrandID = "brand"
	}
	return &Tracker{
		searcher:  searcher,
		snapshots: snapshots,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("ranking"),
	}
}

// CheckRankings queries every keyword, records positions for matched
// competitors (and the brand), and returns the new records plus any page-1
// crossing events for the dispatcher. A single keyword's search failure is
// logged and skipped; it never aborts the scan.
func (t *Tracker) CheckRankings(
	ctx context.Context,
	keywords []string,
	competitors []monitor.CompetitorProfile,
) ([]monitor.RankingRecord, []monitor.ChangeEvent, error) {
	date := t.clock.Now().Format("2006-01-02")
	var (
		records []monitor.RankingRecord
		deltas  []monitor.ChangeEvent
	)

	for _, keyword := range keywords {
		results, err := t.searcher.Search(ctx, keyword)
		if err != nil {
			if ctx.Err() != nil {
				return records, deltas, fmt.Errorf("ranking scan canceled: %w", ctx.Err())
			}
			t.logger.Warn("keyword search failed", zap.String("keyword", keyword), zap.Error(err))
			continue
		}

		record := t.buildRecord(keyword, date, results, competitors)

		if event := t.pageOneCrossing(ctx, record); event != nil {
			deltas = append(deltas, *event)
		}

		if err := t.snapshots.RecordRanking(ctx, record); err != nil {
			return records, deltas, err
		}
		records = append(records, record)
	}
	return records, deltas, nil
}

func (t *Tracker) buildRecord(
	keyword, date string,
	results []monitor.SearchResult,
	competitors []monitor.CompetitorProfile,
) monitor.RankingRecord {
	positions := make(map[string]int, len(competitors)+1)
	for _, comp := range competitors {
		positions[comp.ID] = monitor.NotRanked
	}
	positions[t.cfg.BrandID] = monitor.NotRanked

	top := make([]monitor.RankedCompetitor, 0, len(results))
	for _, result := range results {
		top = append(top, monitor.RankedCompetitor{Name: resultName(result), Position: result.Position})

		if domainMatches(result.Domain, t.cfg.BrandDomain) {
			if positions[t.cfg.BrandID] == monitor.NotRanked {
				positions[t.cfg.BrandID] = result.Position
			}
			continue
		}
		for _, comp := range competitors {
			if domainMatches(result.Domain, comp.Domain) {
				if positions[comp.ID] == monitor.NotRanked {
					positions[comp.ID] = result.Position
				}
				break
			}
		}
	}

	sort.SliceStable(top, func(i, j int) bool { return top[i].Position < top[j].Position })
	if len(top) > 3 {
		top = top[:3]
	}

	return monitor.RankingRecord{
		Keyword:        keyword,
		Date:           date,
		Positions:      positions,
		TopCompetitors: top,
	}
}

// pageOneCrossing compares the brand's position against the prior record for
// the same keyword and emits a ranking-moved event when it enters or leaves
// page 1. Crossings are evaluated independently per keyword and direction.
func (t *Tracker) pageOneCrossing(ctx context.Context, record monitor.RankingRecord) *monitor.ChangeEvent {
	prior, err := t.snapshots.LatestRanking(ctx, record.Keyword)
	if err != nil {
		t.logger.Warn("prior ranking lookup failed", zap.String("keyword", record.Keyword), zap.Error(err))
		return nil
	}
	if prior == nil {
		return nil
	}

	prev := prior.Positions[t.cfg.BrandID]
	current := record.Positions[t.cfg.BrandID]
	prevOnPageOne := onPageOne(prev)
	currentOnPageOne := onPageOne(current)
	if prevOnPageOne == currentOnPageOne {
		return nil
	}

	direction := "entered"
	if prevOnPageOne {
		direction = "left"
	}
	return &monitor.ChangeEvent{
		CompetitorID: t.cfg.BrandID,
		Type:         monitor.ChangeRankingMoved,
		Severity:     monitor.SeverityWarning,
		DetectedAt:   t.clock.Now(),
		Summary: fmt.Sprintf("%s %s page 1 for %q (%s -> %s)",
			t.cfg.BrandName, direction, record.Keyword, positionLabel(prev), positionLabel(current)),
	}
}

func onPageOne(position int) bool {
	return position > monitor.NotRanked && position <= pageOneThreshold
}

func positionLabel(position int) string {
	if position == monitor.NotRanked {
		return "not ranked"
	}
	return fmt.Sprintf("#%d", position)
}

func resultName(result monitor.SearchResult) string {
	if result.Title != "" {
		return result.Title
	}
	return result.Domain
}

func domainMatches(resultDomain, domain string) bool {
	if domain == "" {
		return false
	}
	resultDomain = strings.TrimPrefix(strings.ToLower(resultDomain), "www.")
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	return resultDomain == domain || strings.HasSuffix(resultDomain, "."+domain)
}
