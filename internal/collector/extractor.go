package collector

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/weomedia/compwatch/internal/monitor"
)

// Extraction is pure parsing over fetched content: no network side effects,
// and deterministic for identical input, so the detector's hash-based
// short-circuit stays valid.

var (
	priceExpr = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d{2})?`)
	dateExpr  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

var socialHosts = map[string]string{
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"linkedin.com":  "linkedin",
	"youtube.com":   "youtube",
	"tiktok.com":    "tiktok",
	"pinterest.com": "pinterest",
}

var contentTypeKeywords = map[string][]string{
	"blog":       {"/blog", "blog post"},
	"video":      {"video", "webinar recording"},
	"podcast":    {"podcast", "episode"},
	"webinar":    {"webinar", "live session"},
	"case-study": {"case study", "case-study", "success story"},
	"ebook":      {"ebook", "e-book", "whitepaper", "white paper", "free guide"},
}

var coreServiceKeywords = map[string][]string{
	"seo":          {"search engine optimization", "seo services", "local seo"},
	"ppc":          {"pay-per-click", "ppc", "google ads", "adwords"},
	"web-design":   {"web design", "website design", "custom website"},
	"social-media": {"social media marketing", "social media management"},
	"reviews":      {"reputation management", "review generation", "patient reviews"},
	"branding":     {"branding", "logo design", "brand identity"},
	"content":      {"content marketing", "copywriting"},
}

var marketingChannels = map[string][]string{
	"seo":     {"search engine optimization", "seo"},
	"ppc":     {"ppc", "google ads", "paid search"},
	"email":   {"newsletter", "email marketing", "subscribe"},
	"social":  {"facebook.com", "instagram.com", "linkedin.com"},
	"content": {"/blog", "resources"},
	"video":   {"youtube.com", "video"},
	"reviews": {"testimonials", "reviews"},
}

type fetchedPage struct {
	url  string
	body []byte
}

// Extract parses the fetched pages into a MetricsSnapshot. It returns an
// error only when no page yields a parseable document.
func Extract(profile monitor.CompetitorProfile, capturedAt time.Time, pages []fetchedPage) (monitor.MetricsSnapshot, error) {
	snap := monitor.MetricsSnapshot{
		CompetitorID: profile.ID,
		CapturedAt:   capturedAt,
		Marketing:    map[string]bool{},
	}

	parsed := 0
	for _, page := range pages {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.body))
		if err != nil {
			continue
		}
		parsed++
		text := strings.ToLower(doc.Text())
		html := strings.ToLower(string(page.body))

		extractBlogs(doc, page.url, &snap.Blogs)
		extractPricing(text, &snap.Pricing)
		extractSocial(doc, &snap.Social)
		extractContent(doc, text, &snap.Content)
		extractTechnology(doc, html, &snap.Technology)
		extractSEO(doc, html, &snap.SEO)
		extractServices(text, &snap.Services)
		extractMarketing(text, html, snap.Marketing)
	}
	if parsed == 0 {
		return monitor.MetricsSnapshot{}, fmt.Errorf("no parseable pages for %s", profile.ID)
	}

	normalize(&snap)
	return snap, nil
}

func extractBlogs(doc *goquery.Document, pageURL string, out *monitor.BlogMetrics) {
	count := 0
	doc.Find("article, .post, .blog-post, .blog-entry").Each(func(_ int, _ *goquery.Selection) {
		count++
	})
	if count == 0 && strings.Contains(pageURL, "/blog") {
		// sparse themes mark posts only by their permalinks
		seen := map[string]struct{}{}
		doc.Find("a[href*='/blog/']").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			seen[href] = struct{}{}
		})
		count = len(seen)
	}
	out.TotalPosts += count

	doc.Find("time[datetime]").Each(func(_ int, sel *goquery.Selection) {
		raw, _ := sel.Attr("datetime")
		if match := dateExpr.FindString(raw); match != "" && match > out.LastPostDate {
			out.LastPostDate = match
		}
	})

	switch {
	case out.TotalPosts >= 40:
		out.PostingFrequency = "weekly"
	case out.TotalPosts >= 12:
		out.PostingFrequency = "monthly"
	case out.TotalPosts > 0:
		out.PostingFrequency = "occasional"
	default:
		out.PostingFrequency = "unknown"
	}
}

func extractPricing(text string, out *monitor.PricingMetrics) {
	if out.StartingPrice == "" {
		if match := priceExpr.FindString(text); match != "" {
			out.StartingPrice = strings.ReplaceAll(match, " ", "")
		}
	}
	if out.PricingModel == "" {
		switch {
		case strings.Contains(text, "per month") || strings.Contains(text, "/month") || strings.Contains(text, "monthly"):
			out.PricingModel = "subscription"
		case strings.Contains(text, "request a quote") || strings.Contains(text, "contact us for pricing") || strings.Contains(text, "custom pricing"):
			out.PricingModel = "quote-based"
		case out.StartingPrice != "":
			out.PricingModel = "flat"
		}
	}
}

func extractSocial(doc *goquery.Document, out *monitor.SocialMetrics) {
	channels := map[string]struct{}{}
	for _, ch := range out.ActiveChannels {
		channels[ch] = struct{}{}
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.ToLower(href)
		for host, name := range socialHosts {
			if strings.Contains(href, host) {
				channels[name] = struct{}{}
			}
		}
	})
	out.ActiveChannels = sortedKeys(channels)

	switch {
	case len(out.ActiveChannels) >= 4:
		out.EngagementLevel = "high"
	case len(out.ActiveChannels) >= 2:
		out.EngagementLevel = "medium"
	case len(out.ActiveChannels) == 1:
		out.EngagementLevel = "low"
	default:
		out.EngagementLevel = "none"
	}
}

func extractContent(doc *goquery.Document, text string, out *monitor.ContentMetrics) {
	types := map[string]struct{}{}
	for _, t := range out.ContentTypes {
		types[t] = struct{}{}
	}
	for name, keywords := range contentTypeKeywords {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				types[name] = struct{}{}
				break
			}
		}
	}
	out.ContentTypes = sortedKeys(types)

	if !out.HasResourceCenter {
		doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			label := strings.ToLower(sel.Text())
			if strings.Contains(strings.ToLower(href), "/resources") || strings.Contains(label, "resource center") {
				out.HasResourceCenter = true
				return false
			}
			return true
		})
	}
}

func extractTechnology(doc *goquery.Document, html string, out *monitor.TechnologyMetrics) {
	if out.CMS == "" {
		generator, _ := doc.Find("meta[name='generator']").Attr("content")
		generator = strings.ToLower(generator)
		switch {
		case strings.Contains(generator, "wordpress") || strings.Contains(html, "wp-content"):
			out.CMS = "wordpress"
		case strings.Contains(generator, "wix") || strings.Contains(html, "wix.com"):
			out.CMS = "wix"
		case strings.Contains(generator, "squarespace") || strings.Contains(html, "squarespace"):
			out.CMS = "squarespace"
		case strings.Contains(generator, "drupal"):
			out.CMS = "drupal"
		case strings.Contains(html, "hubspot"):
			out.CMS = "hubspot-cms"
		}
	}

	analytics := map[string]struct{}{}
	for _, a := range out.Analytics {
		analytics[a] = struct{}{}
	}
	checks := map[string][]string{
		"google-analytics": {"googletagmanager.com/gtag", "google-analytics.com"},
		"gtm":              {"googletagmanager.com/gtm.js"},
		"facebook-pixel":   {"connect.facebook.net"},
		"hubspot":          {"js.hs-scripts.com", "js.hsforms.net"},
		"hotjar":           {"static.hotjar.com"},
	}
	for name, needles := range checks {
		for _, needle := range needles {
			if strings.Contains(html, needle) {
				analytics[name] = struct{}{}
				break
			}
		}
	}
	out.Analytics = sortedKeys(analytics)
}

func extractSEO(doc *goquery.Document, html string, out *monitor.SEOMetrics) {
	if !out.SchemaMarkup {
		out.SchemaMarkup = doc.Find("script[type='application/ld+json']").Length() > 0
	}
	if !out.SitemapFound {
		out.SitemapFound = strings.Contains(html, "sitemap.xml") ||
			doc.Find("link[rel='sitemap']").Length() > 0
	}
}

func extractServices(text string, out *monitor.ServiceMetrics) {
	if !out.DentalFocus {
		out.DentalFocus = strings.Contains(text, "dental") || strings.Contains(text, "dentist")
	}
	services := map[string]struct{}{}
	for _, svc := range out.CoreServices {
		services[svc] = struct{}{}
	}
	for name, keywords := range coreServiceKeywords {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				services[name] = struct{}{}
				break
			}
		}
	}
	out.CoreServices = sortedKeys(services)
}

func extractMarketing(text, html string, out map[string]bool) {
	for channel, needles := range marketingChannels {
		if out[channel] {
			continue
		}
		for _, needle := range needles {
			if strings.Contains(text, needle) || strings.Contains(html, needle) {
				out[channel] = true
				break
			}
		}
	}
}

// normalize fills documented defaults so missing data never propagates as
// nil or empty-vs-absent ambiguity.
func normalize(snap *monitor.MetricsSnapshot) {
	if snap.Blogs.PostingFrequency == "" {
		snap.Blogs.PostingFrequency = "unknown"
	}
	if snap.Pricing.PricingModel == "" {
		snap.Pricing.PricingModel = "unknown"
	}
	if snap.Social.ActiveChannels == nil {
		snap.Social.ActiveChannels = []string{}
	}
	if snap.Social.EngagementLevel == "" {
		snap.Social.EngagementLevel = "none"
	}
	if snap.Content.ContentTypes == nil {
		snap.Content.ContentTypes = []string{}
	}
	if snap.Technology.Analytics == nil {
		snap.Technology.Analytics = []string{}
	}
	if snap.Services.CoreServices == nil {
		snap.Services.CoreServices = []string{}
	}
	for channel := range marketingChannels {
		if _, ok := snap.Marketing[channel]; !ok {
			snap.Marketing[channel] = false
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
