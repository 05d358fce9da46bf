// Package detector diffs metrics snapshots and page fetches, producing
// classified change events.
package detector

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/weomedia/compwatch/internal/monitor"
)

// Detector compares a freshly collected snapshot against the previously
// committed one. It holds no state of its own.
type Detector struct {
	clock  monitor.Clock
	logger *zap.Logger
}

// New constructs a Detector.
func New(clock monitor.Clock, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{clock: clock, logger: logger.Named("detector")}
}

// Diff performs the field-level comparison per metrics group. A nil previous
// means first observation: no events, the caller commits current as baseline.
//
// A totalPosts decrease is treated as a measurement anomaly and suppressed
// (logged, no event) rather than reported as content removal, because
// re-crawls can undercount.
func (d *Detector) Diff(previous *monitor.MetricsSnapshot, current monitor.MetricsSnapshot) []monitor.ChangeEvent {
	if previous == nil {
		return nil
	}

	now := d.clock.Now()
	var events []monitor.ChangeEvent
	emit := func(changeType monitor.ChangeType, severity monitor.Severity, summary string) {
		events = append(events, monitor.ChangeEvent{
			CompetitorID: current.CompetitorID,
			Type:         changeType,
			Severity:     severity,
			DetectedAt:   now,
			Summary:      summary,
		})
	}

	switch {
	case current.Blogs.TotalPosts > previous.Blogs.TotalPosts:
		emit(monitor.ChangeNewPost, monitor.SeverityInfo,
			fmt.Sprintf("blog posts %d -> %d", previous.Blogs.TotalPosts, current.Blogs.TotalPosts))
	case current.Blogs.TotalPosts < previous.Blogs.TotalPosts:
		d.logger.Info("suppressing totalPosts decrease as measurement anomaly",
			zap.String("competitor", current.CompetitorID),
			zap.Int("previous", previous.Blogs.TotalPosts),
			zap.Int("current", current.Blogs.TotalPosts),
		)
	}

	if current.Pricing.StartingPrice != previous.Pricing.StartingPrice {
		emit(monitor.ChangePriceChanged, monitor.SeverityWarning,
			fmt.Sprintf("starting price %q -> %q", previous.Pricing.StartingPrice, current.Pricing.StartingPrice))
	}
	if current.Pricing.PricingModel != previous.Pricing.PricingModel {
		emit(monitor.ChangePriceChanged, monitor.SeverityWarning,
			fmt.Sprintf("pricing model %q -> %q", previous.Pricing.PricingModel, current.Pricing.PricingModel))
	}

	if current.Technology.CMS != previous.Technology.CMS {
		emit(monitor.ChangeTechChanged, monitor.SeverityInfo,
			fmt.Sprintf("cms %q -> %q", previous.Technology.CMS, current.Technology.CMS))
	}
	if added, removed := setDiff(previous.Technology.Analytics, current.Technology.Analytics); len(added)+len(removed) > 0 {
		emit(monitor.ChangeTechChanged, monitor.SeverityInfo,
			fmt.Sprintf("analytics added %v removed %v", added, removed))
	}

	if added, _ := setDiff(previous.Social.ActiveChannels, current.Social.ActiveChannels); len(added) > 0 {
		emit(monitor.ChangeSocialAdded, monitor.SeverityInfo,
			fmt.Sprintf("new social channels %v", added))
	}

	return events
}

// DiffPages emits content-changed events for pages whose content hash moved.
// A page with no prior hash is a first observation and emits nothing.
func (d *Detector) DiffPages(competitorID string, pages []PageChange) []monitor.ChangeEvent {
	now := d.clock.Now()
	var events []monitor.ChangeEvent
	for _, page := range pages {
		if page.PrevHash == "" || page.PrevHash == page.Hash {
			continue
		}
		events = append(events, monitor.ChangeEvent{
			CompetitorID: competitorID,
			Page:         page.URL,
			Type:         monitor.ChangeContentChanged,
			Severity:     monitor.SeverityInfo,
			DetectedAt:   now,
			Summary:      fmt.Sprintf("page content changed: %s", page.URL),
		})
	}
	return events
}

// PageChange is one page's hash transition.
type PageChange struct {
	URL      string
	PrevHash string
	Hash     string
}

// setDiff returns elements added to and removed from prev, sorted.
func setDiff(prev, current []string) (added, removed []string) {
	prevSet := make(map[string]struct{}, len(prev))
	for _, v := range prev {
		prevSet[v] = struct{}{}
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, v := range current {
		currentSet[v] = struct{}{}
		if _, ok := prevSet[v]; !ok {
			added = append(added, v)
		}
	}
	for _, v := range prev {
		if _, ok := currentSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
