// Package matrix merges all competitors' current metrics into the
// cross-competitor leaderboard view.
package matrix

import (
	"sort"

	"github.com/weomedia/compwatch/internal/monitor"
)

const leaderboardSize = 3

// Build is a pure, stateless transform from all current snapshots to the
// leaderboard matrix. It is recomputed fully on each cycle because any
// single competitor's update can change leaderboard membership. Missing or
// zero fields count as 0; an empty input yields empty leaderboards.
func Build(snapshots map[string]monitor.MetricsSnapshot, names map[string]string) monitor.Matrix {
	return monitor.Matrix{
		MostActiveBlogs: leaderboard(snapshots, names, func(s monitor.MetricsSnapshot) int {
			return s.Blogs.TotalPosts
		}),
		SocialMediaLeaders: leaderboard(snapshots, names, func(s monitor.MetricsSnapshot) int {
			return len(s.Social.ActiveChannels)
		}),
		ContentLeaders: leaderboard(snapshots, names, func(s monitor.MetricsSnapshot) int {
			return len(s.Content.ContentTypes)
		}),
	}
}

// leaderboard ranks by value descending, ties broken by competitor ID
// ascending for determinism.
func leaderboard(
	snapshots map[string]monitor.MetricsSnapshot,
	names map[string]string,
	value func(monitor.MetricsSnapshot) int,
) []monitor.LeaderboardEntry {
	entries := make([]monitor.LeaderboardEntry, 0, len(snapshots))
	for id, snap := range snapshots {
		name := names[id]
		if name == "" {
			name = id
		}
		entries = append(entries, monitor.LeaderboardEntry{
			CompetitorID: id,
			Name:         name,
			Value:        value(snap),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].CompetitorID < entries[j].CompetitorID
	})
	if len(entries) > leaderboardSize {
		entries = entries[:leaderboardSize]
	}
	return entries
}
