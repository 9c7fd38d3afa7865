package media

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/hydrarr/internal/arr"
	"github.com/mescon/hydrarr/internal/config"
	"github.com/mescon/hydrarr/internal/logger"
)

// fakeUpstream routes requests by resource substring. Endpoints carry the
// API base prefix, so matching is on Contains rather than equality.
type fakeUpstream struct {
	mu        sync.Mutex
	responses map[string]any
	errs      map[string]error
	requests  []string
}

func (f *fakeUpstream) lookup(service, endpoint string) (any, error) {
	f.mu.Lock()
	f.requests = append(f.requests, service+" "+endpoint)
	f.mu.Unlock()
	for key, err := range f.errs {
		if strings.Contains(endpoint, key) {
			return nil, err
		}
	}
	for key, resp := range f.responses {
		if strings.Contains(endpoint, key) {
			return resp, nil
		}
	}
	return nil, &arr.UpstreamStatusError{Service: service, Endpoint: endpoint, StatusCode: 404}
}

func (f *fakeUpstream) Request(ctx context.Context, service, endpoint string, opts *arr.RequestOptions) (any, error) {
	return f.lookup(service, endpoint)
}

func (f *fakeUpstream) RequestWithFallback(ctx context.Context, service string, endpoints []string, opts *arr.RequestOptions) (any, error) {
	var lastErr error
	for _, ep := range endpoints {
		v, err := f.lookup(service, ep)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

type fakeDownloads struct {
	downloads Downloads
	logs      []LogEntry
	err       error
}

func (f *fakeDownloads) ListDownloads(ctx context.Context) (Downloads, error) {
	if f.err != nil {
		return Downloads{}, f.err
	}
	return f.downloads, nil
}

func (f *fakeDownloads) Logs(ctx context.Context) ([]LogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.logs, nil
}

func testEngine(t *testing.T, upstream *fakeUpstream, downloads *fakeDownloads) *Engine {
	t.Helper()
	cfg := config.NewTestConfig()
	cfg.Services["sonarr"] = config.Service{Name: "sonarr", URL: "http://sonarr:8989", APIKey: "key"}
	cfg.Services["radarr"] = config.Service{Name: "radarr", URL: "http://radarr:7878", APIKey: "key"}
	if downloads == nil {
		downloads = &fakeDownloads{downloads: Downloads{ByHash: map[string]DownloadInfo{}}}
	}
	return NewEngine(cfg, logger.Discard(), upstream, downloads)
}

func int64Ptr(v int64) *int64 { return &v }

func TestAggregateDownloads(t *testing.T) {
	assert.Nil(t, AggregateDownloads(nil))

	torrents := []DownloadInfo{
		{State: "downloading", ProgressPct: 40, EtaSeconds: int64Ptr(600), Peers: 5, SizeGb: 1.5},
		{State: "stalledDL", ProgressPct: 80, EtaSeconds: int64Ptr(120), IsStalled: true, StalledSeconds: int64Ptr(3600), Peers: 2, SizeGb: 2.5},
		{State: "downloading", ProgressPct: 60, Peers: 1, SizeGb: 1.0},
	}
	s := AggregateDownloads(torrents)
	require.NotNil(t, s)

	assert.Equal(t, 60.0, s.ProgressPct)
	require.NotNil(t, s.EtaSeconds)
	assert.Equal(t, int64(120), *s.EtaSeconds)
	assert.True(t, s.IsStalled)
	require.NotNil(t, s.StalledSeconds)
	assert.Equal(t, int64(3600), *s.StalledSeconds)
	assert.Equal(t, int64(8), s.Peers)
	assert.Equal(t, 5.0, s.SizeGb)
	assert.Equal(t, 3, s.Torrents)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, StatusError, ClassifyStatus("error", false))
	assert.Equal(t, StatusError, ClassifyStatus("error", true))
	assert.Equal(t, StatusDownloading, ClassifyStatus("downloading", true))
	assert.Equal(t, StatusWanted, ClassifyStatus("idle", true))
	assert.Equal(t, StatusAvailable, ClassifyStatus("idle", false))
}

func seriesPayload(id int, title string, episodes, files int) map[string]any {
	return map[string]any{
		"id":    float64(id),
		"title": title,
		"year":  float64(2020),
		"statistics": map[string]any{
			"episodeCount":     float64(episodes),
			"episodeFileCount": float64(files),
		},
		"seasons": []any{
			map[string]any{
				"seasonNumber": float64(1),
				"statistics": map[string]any{
					"episodeCount":     float64(episodes),
					"episodeFileCount": float64(files),
				},
			},
		},
	}
}

func TestTVOverviewReconciliation(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"series": []any{
				seriesPayload(1, "Complete Show", 10, 10),
				seriesPayload(2, "Missing Show", 10, 4),
				seriesPayload(3, "Downloading Show", 10, 8),
				seriesPayload(4, "Broken Show", 10, 9),
			},
			"queue": map[string]any{
				"records": []any{
					map[string]any{"seriesId": float64(3), "status": "downloading", "downloadId": "AABB01"},
					map[string]any{"seriesId": float64(4), "status": "downloading", "errorMessage": "disk full"},
				},
			},
		},
	}
	downloads := &fakeDownloads{downloads: Downloads{
		Configured: true,
		ByHash: map[string]DownloadInfo{
			"aabb01": {Hash: "aabb01", Name: "Downloading.Show.S02E05.1080p", State: "downloading", ProgressPct: 42.5, Peers: 7, SizeGb: 3.2},
		},
	}}

	ov, err := testEngine(t, upstream, downloads).TVOverview(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sonarr", ov.Service)
	assert.Equal(t, 4, ov.TotalItems)
	assert.True(t, ov.DownloadsActive)

	// Downloading first, then error, then wanted; available separate.
	require.Len(t, ov.WantedDownloading, 3)
	assert.Equal(t, "Downloading Show", ov.WantedDownloading[0].Title)
	assert.Equal(t, StatusDownloading, ov.WantedDownloading[0].Status)
	assert.Equal(t, "Broken Show", ov.WantedDownloading[1].Title)
	assert.Equal(t, StatusError, ov.WantedDownloading[1].Status)
	assert.Equal(t, "Missing Show", ov.WantedDownloading[2].Title)
	assert.Equal(t, StatusWanted, ov.WantedDownloading[2].Status)

	require.Len(t, ov.Available, 1)
	assert.Equal(t, "Complete Show", ov.Available[0].Title)

	// Queue record joined to its torrent by normalized hash.
	dl := ov.WantedDownloading[0].Download
	require.NotNil(t, dl)
	assert.Equal(t, 42.5, dl.ProgressPct)
	assert.Equal(t, 1, dl.Torrents)

	items := ov.WantedDownloading[0].DownloadItems
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Episode)
	assert.Equal(t, "S02E05", *items[0].Episode)

	// Missing counts derived from statistics.
	missing := ov.WantedDownloading[2].MissingEpisodes
	require.NotNil(t, missing)
	assert.Equal(t, 6, *missing)
}

func TestTVOverviewLibraryFailureIsFatal(t *testing.T) {
	upstream := &fakeUpstream{
		errs: map[string]error{"series": &arr.UpstreamStatusError{Service: "sonarr", StatusCode: 503}},
		responses: map[string]any{
			"queue": map[string]any{"records": []any{}},
		},
	}
	_, err := testEngine(t, upstream, nil).TVOverview(context.Background())
	require.Error(t, err)

	var statusErr *arr.UpstreamStatusError
	assert.True(t, errors.As(err, &statusErr))
}

func TestTVOverviewQueueFailureDegrades(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"series": []any{seriesPayload(1, "Only Show", 5, 5)},
		},
		errs: map[string]error{"queue": &arr.TimeoutError{Service: "sonarr"}},
	}
	downloads := &fakeDownloads{err: errors.New("qbittorrent down")}

	ov, err := testEngine(t, upstream, downloads).TVOverview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ov.TotalItems)
	assert.False(t, ov.DownloadsActive)
	require.Len(t, ov.Available, 1)
	assert.Equal(t, "idle", ov.Available[0].QueueState)
}

func TestTVOverviewBareArrayQueue(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"series": []any{seriesPayload(9, "Array Show", 5, 2)},
			"queue":  []any{map[string]any{"seriesId": float64(9), "status": "downloading"}},
		},
	}
	ov, err := testEngine(t, upstream, nil).TVOverview(context.Background())
	require.NoError(t, err)
	require.Len(t, ov.WantedDownloading, 1)
	assert.Equal(t, StatusDownloading, ov.WantedDownloading[0].Status)
}

func TestMoviesOverviewReconciliation(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"movie": []any{
				map[string]any{"id": float64(1), "title": "Owned Movie", "year": float64(2015), "hasFile": true},
				map[string]any{"id": float64(2), "title": "Wanted Movie", "inCinemas": "2023-07-01T00:00:00Z", "hasFile": false},
			},
			"queue": map[string]any{"records": []any{}},
		},
	}
	ov, err := testEngine(t, upstream, nil).MoviesOverview(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "radarr", ov.Service)
	require.Len(t, ov.Available, 1)
	assert.Equal(t, "Owned Movie", ov.Available[0].Title)
	require.Len(t, ov.WantedDownloading, 1)
	assert.Equal(t, StatusWanted, ov.WantedDownloading[0].Status)
	require.NotNil(t, ov.WantedDownloading[0].Year)
	assert.Equal(t, 2023, *ov.WantedDownloading[0].Year)
}

func TestEpisodesFiltersSeasonAndSorts(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"episode": []any{
				map[string]any{"id": float64(12), "seasonNumber": float64(2), "episodeNumber": float64(2), "title": "Two", "hasFile": false, "monitored": true},
				map[string]any{"id": float64(11), "seasonNumber": float64(2), "episodeNumber": float64(1), "title": "One", "hasFile": true, "monitored": true, "airDateUtc": "2024-01-05T02:00:00Z"},
				map[string]any{"id": float64(99), "seasonNumber": float64(1), "episodeNumber": float64(5), "title": "Other Season", "hasFile": true},
			},
		},
	}
	out, err := testEngine(t, upstream, nil).Episodes(context.Background(), 42, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(42), out.SeriesID)
	assert.Equal(t, 2, out.SeasonNumber)
	require.Len(t, out.Episodes, 2)
	assert.Equal(t, "One", out.Episodes[0].Title)
	assert.Equal(t, StatusAvailable, out.Episodes[0].Status)
	assert.Equal(t, "Two", out.Episodes[1].Title)
	assert.Equal(t, StatusWanted, out.Episodes[1].Status)
	assert.Equal(t, 2, out.EpisodeCount)
	assert.Equal(t, 1, out.FileCount)
}

func TestReleasesNormalizedAndSorted(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"release": []any{
				map[string]any{"title": "rejected", "rejected": true, "seeders": float64(200)},
				map[string]any{"title": "accepted", "approved": true, "seeders": float64(10)},
			},
		},
	}
	releases, err := testEngine(t, upstream, nil).Releases(context.Background(), "sonarr", 3)
	require.NoError(t, err)

	require.Len(t, releases, 2)
	assert.Equal(t, "accepted", releases[0].Title)
	assert.Equal(t, "rejected", releases[1].Title)
	assert.Contains(t, upstream.requests[len(upstream.requests)-1], "seriesId=3")
}

func TestReleasesUsesMovieIDForRadarr(t *testing.T) {
	upstream := &fakeUpstream{responses: map[string]any{"release": []any{}}}
	_, err := testEngine(t, upstream, nil).Releases(context.Background(), "radarr", 7)
	require.NoError(t, err)
	assert.Contains(t, upstream.requests[len(upstream.requests)-1], "movieId=7")
}

func TestHasRejectedReleases(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"release": []any{map[string]any{"title": "clean", "approved": true}},
		},
	}
	rejected, err := testEngine(t, upstream, nil).HasRejectedReleases(context.Background(), "sonarr", 1)
	require.NoError(t, err)
	assert.False(t, rejected)

	upstream.responses["release"] = []any{map[string]any{"title": "bad", "rejected": true}}
	rejected, err = testEngine(t, upstream, nil).HasRejectedReleases(context.Background(), "sonarr", 1)
	require.NoError(t, err)
	assert.True(t, rejected)
}

func TestRejectedBatchPartialFailure(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"seriesId=1": []any{map[string]any{"title": "bad", "rejected": true}},
			"seriesId=2": []any{map[string]any{"title": "clean", "approved": true}},
		},
		errs: map[string]error{
			"seriesId=3": &arr.UpstreamStatusError{Service: "sonarr", StatusCode: 500},
		},
	}
	results, failures := testEngine(t, upstream, nil).RejectedBatch(context.Background(), "sonarr", []int64{1, 2, 3})

	assert.Equal(t, 1, failures)
	require.Len(t, results, 2)
	assert.True(t, results[1])
	assert.False(t, results[2])
	_, ok := results[3]
	assert.False(t, ok)
}

func TestGrabReleasePostsPayload(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{"release": map[string]any{"id": float64(1)}},
	}
	payload := map[string]any{"guid": "abc", "indexerId": float64(2)}
	resp, err := testEngine(t, upstream, nil).GrabRelease(context.Background(), "sonarr", payload)
	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Contains(t, upstream.requests[0], "/api/v3/release")
}

func TestDashboardItems(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"system/status": map[string]any{
				"appName":      "Sonarr",
				"version":      "4.0.0",
				"instanceName": "main",
			},
			"queue": map[string]any{
				"records": []any{
					map[string]any{"id": float64(1), "title": "Show.S01E01", "status": "downloading"},
					map[string]any{"id": float64(2), "series": map[string]any{"title": "Nested Show"}},
				},
			},
		},
	}
	items := testEngine(t, upstream, nil).DashboardItems(context.Background(), []string{"sonarr"})

	require.Len(t, items, 3)
	assert.Equal(t, "status-sonarr", items[0].ID)
	assert.Equal(t, "System", items[0].Source)
	assert.Equal(t, "Sonarr v4.0.0", items[0].Title)
	assert.Equal(t, "Status: main", items[0].Summary)

	assert.Equal(t, "Queue", items[1].Source)
	assert.Equal(t, "Show.S01E01", items[1].Title)
	assert.Equal(t, "downloading", items[1].Summary)
	assert.Equal(t, "Nested Show", items[2].Title)
	assert.Equal(t, "Queued", items[2].Summary)
}

func TestDashboardItemsDegradesPerService(t *testing.T) {
	upstream := &fakeUpstream{
		errs: map[string]error{
			"system/status": &arr.TimeoutError{Service: "sonarr"},
			"queue":         &arr.TimeoutError{Service: "sonarr"},
		},
	}
	items := testEngine(t, upstream, nil).DashboardItems(context.Background(), []string{"sonarr"})
	assert.Empty(t, items)
}

func TestAggregateLogs(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"log?": map[string]any{
				"records": []any{
					map[string]any{"level": "Error", "message": "indexer down", "time": "2024-06-01T00:00:00Z"},
					map[string]any{"level": "Info", "message": "scan finished", "time": "2024-06-02T00:00:00Z"},
				},
			},
		},
	}
	qbitTime := "2024-06-03T00:00:00Z"
	downloads := &fakeDownloads{logs: []LogEntry{
		{Service: "qbittorrent", Level: "warn", Message: "tracker timeout", Time: &qbitTime},
	}}

	engine := testEngine(t, upstream, downloads)

	entries := engine.AggregateLogs(context.Background(), "", "", "", 400)
	require.NotEmpty(t, entries)
	// Newest first across sources.
	assert.Equal(t, "tracker timeout", entries[0].Message)

	errorsOnly := engine.AggregateLogs(context.Background(), "", "error", "", 400)
	for _, e := range errorsOnly {
		assert.Equal(t, "error", e.Level)
	}
	require.NotEmpty(t, errorsOnly)

	searched := engine.AggregateLogs(context.Background(), "", "", "INDEXER", 400)
	require.NotEmpty(t, searched)
	for _, e := range searched {
		assert.Contains(t, strings.ToLower(e.Message), "indexer")
	}

	capped := engine.AggregateLogs(context.Background(), "", "", "", 2)
	assert.Len(t, capped, 2)
}

func TestAggregateLogsServiceFilter(t *testing.T) {
	upstream := &fakeUpstream{
		responses: map[string]any{
			"log?": map[string]any{
				"records": []any{map[string]any{"level": "Info", "message": "hello"}},
			},
		},
	}
	downloads := &fakeDownloads{logs: []LogEntry{{Service: "qbittorrent", Level: "info", Message: "qbit line"}}}
	engine := testEngine(t, upstream, downloads)

	sonarrOnly := engine.AggregateLogs(context.Background(), "sonarr", "", "", 400)
	for _, e := range sonarrOnly {
		assert.Equal(t, "sonarr", e.Service)
	}
	require.NotEmpty(t, sonarrOnly)

	qbitOnly := engine.AggregateLogs(context.Background(), "qbittorrent", "", "", 400)
	require.Len(t, qbitOnly, 1)
	assert.Equal(t, "qbit line", qbitOnly[0].Message)
}
