// Package monitor defines core types shared across subsystems.
package monitor

import "time"

// Severity classifies how urgent a change event is.
type Severity string

// Severity values, ordered info < warning < critical.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal of the severity for threshold comparisons.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is equal or more severe than other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ChangeType labels what kind of difference the detector found.
type ChangeType string

// Change event types emitted by the detector and ranking tracker.
const (
	ChangeContentChanged ChangeType = "content-changed"
	ChangePriceChanged   ChangeType = "price-changed"
	ChangeNewPost        ChangeType = "new-post"
	ChangeSocialAdded    ChangeType = "social-added"
	ChangeTechChanged    ChangeType = "tech-changed"
	ChangeRankingMoved   ChangeType = "ranking-moved"
)

// CompetitorProfile identifies a monitored competitor. Profiles come from
// static configuration and are never mutated at runtime.
type CompetitorProfile struct {
	ID     string   `json:"id" mapstructure:"id"`
	Name   string   `json:"name" mapstructure:"name"`
	Domain string   `json:"domain" mapstructure:"domain"`
	Pages  []string `json:"pages" mapstructure:"pages"`
}

// PageFetchResult records one page fetch. Only the metadata and content hash
// are persisted; the body lives just long enough for extraction and the
// screenshot artifact is referenced by URI.
type PageFetchResult struct {
	URL           string    `json:"url"`
	FetchedAt     time.Time `json:"fetched_at"`
	StatusCode    int       `json:"status_code"`
	ContentHash   string    `json:"content_hash"`
	DurationMs    int64     `json:"duration_ms"`
	ScreenshotURI string    `json:"screenshot_uri,omitempty"`
	Body          []byte    `json:"-"`
}

// BlogMetrics describes publishing activity on a competitor's blog.
type BlogMetrics struct {
	TotalPosts       int    `json:"total_posts"`
	PostingFrequency string `json:"posting_frequency"`
	LastPostDate     string `json:"last_post_date"`
}

// PricingMetrics captures publicly visible pricing signals.
type PricingMetrics struct {
	StartingPrice string `json:"starting_price"`
	PricingModel  string `json:"pricing_model"`
}

// SocialMetrics captures social channel presence.
type SocialMetrics struct {
	ActiveChannels  []string `json:"active_channels"`
	EngagementLevel string   `json:"engagement_level"`
}

// ContentMetrics captures the content formats a competitor publishes.
type ContentMetrics struct {
	ContentTypes      []string `json:"content_types"`
	HasResourceCenter bool     `json:"has_resource_center"`
}

// TechnologyMetrics captures the detected technology stack.
type TechnologyMetrics struct {
	CMS       string   `json:"cms"`
	Analytics []string `json:"analytics"`
}

// SEOMetrics captures on-page SEO signals.
type SEOMetrics struct {
	SchemaMarkup bool `json:"schema_markup"`
	SitemapFound bool `json:"sitemap_found"`
}

// ServiceMetrics captures the competitor's service mix.
type ServiceMetrics struct {
	DentalFocus  bool     `json:"dental_focus"`
	CoreServices []string `json:"core_services"`
}

// MetricsSnapshot is the structured extraction for one competitor in one run.
// Snapshots are immutable once committed; the next run supersedes rather than
// edits them, and the superseded copy is retained as "previous" for diffing.
type MetricsSnapshot struct {
	CompetitorID string            `json:"competitor_id"`
	CapturedAt   time.Time         `json:"captured_at"`
	Blogs        BlogMetrics       `json:"blogs"`
	Pricing      PricingMetrics    `json:"pricing"`
	Social       SocialMetrics     `json:"social"`
	Content      ContentMetrics    `json:"content"`
	Technology   TechnologyMetrics `json:"technology"`
	SEO          SEOMetrics        `json:"seo"`
	Services     ServiceMetrics    `json:"services"`
	Marketing    map[string]bool   `json:"marketing"`
}

// ChangeEvent is a classified difference between two snapshots (or a ranking
// movement). Events are created only by the detector and ranking tracker.
type ChangeEvent struct {
	CompetitorID string     `json:"competitor_id"`
	Page         string     `json:"page,omitempty"`
	Type         ChangeType `json:"type"`
	Severity     Severity   `json:"severity"`
	DetectedAt   time.Time  `json:"detected_at"`
	Summary      string     `json:"summary"`
}

// RankedCompetitor is one entry in a keyword's top results.
type RankedCompetitor struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// NotRanked marks a competitor absent from a keyword's results.
const NotRanked = 0

// RankingRecord is one keyword's position snapshot across competitors on a
// given scan date. Positions map competitor ID to 1-based rank; NotRanked
// means the competitor did not appear.
type RankingRecord struct {
	Keyword        string             `json:"keyword"`
	Date           string             `json:"date"`
	Positions      map[string]int     `json:"positions"`
	TopCompetitors []RankedCompetitor `json:"top_competitors"`
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

// Alert status values. Sent, suppressed and failed are terminal; a failed
// alert is retried once on the next scheduler tick before it stays failed.
const (
	AlertQueued     AlertStatus = "queued"
	AlertSent       AlertStatus = "sent"
	AlertSuppressed AlertStatus = "suppressed"
	AlertFailed     AlertStatus = "failed"
)

// Suppression reasons recorded on suppressed alerts.
const (
	SuppressedThreshold = "threshold"
	SuppressedQuota     = "quota"
)

// Alert is the dispatcher's record of one notification decision.
type Alert struct {
	ID           string      `json:"id"`
	Event        ChangeEvent `json:"event"`
	Priority     Severity    `json:"priority"`
	CreatedAt    time.Time   `json:"created_at"`
	DispatchedAt *time.Time  `json:"dispatched_at,omitempty"`
	Status       AlertStatus `json:"status"`
	Reason       string      `json:"reason,omitempty"`
	Attempts     int         `json:"attempts"`
}

// LeaderboardEntry is one row of a matrix leaderboard.
type LeaderboardEntry struct {
	CompetitorID string `json:"competitor_id"`
	Name         string `json:"name"`
	Value        int    `json:"value"`
}

// Matrix is the cross-competitor leaderboard view computed from all current
// snapshots. It is recomputed fully each cycle.
type Matrix struct {
	MostActiveBlogs    []LeaderboardEntry `json:"most_active_blogs"`
	SocialMediaLeaders []LeaderboardEntry `json:"social_media_leaders"`
	ContentLeaders     []LeaderboardEntry `json:"content_leaders"`
}

// ActivityEntry is one line of the operator-visible activity log.
type ActivityEntry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// ScreenshotRef points at a stored screenshot artifact.
type ScreenshotRef struct {
	Filename   string    `json:"filename"`
	Competitor string    `json:"competitor"`
	Page       string    `json:"page"`
	Timestamp  time.Time `json:"timestamp"`
	URI        string    `json:"uri"`
}

// SearchResult is one organic result returned by the search capability.
type SearchResult struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	Position int    `json:"position"`
}
