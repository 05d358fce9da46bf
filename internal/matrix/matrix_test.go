package matrix

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weomedia/compwatch/internal/monitor"
)

func TestBuildEmptyInput(t *testing.T) {
	t.Parallel()

	m := Build(nil, nil)
	require.NotNil(t, m.MostActiveBlogs)
	require.Empty(t, m.MostActiveBlogs)
	require.NotNil(t, m.SocialMediaLeaders)
	require.Empty(t, m.SocialMediaLeaders)
	require.NotNil(t, m.ContentLeaders)
	require.Empty(t, m.ContentLeaders)
}

func TestBuildRanksAndTruncates(t *testing.T) {
	t.Parallel()

	snaps := map[string]monitor.MetricsSnapshot{
		"a": {Blogs: monitor.BlogMetrics{TotalPosts: 10}},
		"b": {Blogs: monitor.BlogMetrics{TotalPosts: 40}},
		"c": {Blogs: monitor.BlogMetrics{TotalPosts: 25}},
		"d": {Blogs: monitor.BlogMetrics{TotalPosts: 5}},
	}
	names := map[string]string{"a": "Alpha", "b": "Bravo", "c": "Charlie", "d": "Delta"}

	m := Build(snaps, names)
	require.Len(t, m.MostActiveBlogs, 3)
	require.Equal(t, "b", m.MostActiveBlogs[0].CompetitorID)
	require.Equal(t, "Bravo", m.MostActiveBlogs[0].Name)
	require.Equal(t, 40, m.MostActiveBlogs[0].Value)
	require.Equal(t, "c", m.MostActiveBlogs[1].CompetitorID)
	require.Equal(t, "a", m.MostActiveBlogs[2].CompetitorID)
}

func TestBuildTieBreakIsDeterministic(t *testing.T) {
	t.Parallel()

	snaps := map[string]monitor.MetricsSnapshot{
		"zeta":  {Social: monitor.SocialMetrics{ActiveChannels: []string{"facebook", "x"}}},
		"alpha": {Social: monitor.SocialMetrics{ActiveChannels: []string{"linkedin", "instagram"}}},
	}

	for i := 0; i < 10; i++ {
		m := Build(snaps, nil)
		require.Len(t, m.SocialMediaLeaders, 2)
		require.Equal(t, "alpha", m.SocialMediaLeaders[0].CompetitorID)
		require.Equal(t, "zeta", m.SocialMediaLeaders[1].CompetitorID)
	}
}

func TestBuildMissingNameFallsBackToID(t *testing.T) {
	t.Parallel()

	snaps := map[string]monitor.MetricsSnapshot{
		"a": {Content: monitor.ContentMetrics{ContentTypes: []string{"blog", "video"}}},
	}

	m := Build(snaps, map[string]string{})
	require.Len(t, m.ContentLeaders, 1)
	require.Equal(t, "a", m.ContentLeaders[0].Name)
}
