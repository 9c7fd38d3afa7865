package media

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/mescon/hydrarr/internal/arr"
	"github.com/mescon/hydrarr/internal/batch"
	"github.com/mescon/hydrarr/internal/config"
	"github.com/mescon/hydrarr/internal/logger"
)

// Upstream is the slice of the arr client the engine needs.
type Upstream interface {
	Request(ctx context.Context, service, endpoint string, opts *arr.RequestOptions) (any, error)
	RequestWithFallback(ctx context.Context, service string, endpoints []string, opts *arr.RequestOptions) (any, error)
}

// DownloadClient is the slice of the qBittorrent adapter the engine needs.
type DownloadClient interface {
	ListDownloads(ctx context.Context) (Downloads, error)
	Logs(ctx context.Context) ([]LogEntry, error)
}

// Rejected-check concurrency caps. Radarr is more rate-limit sensitive than
// the other managers, so its fan-out gets a lower cap.
const (
	rejectedCheckLimit       = 4
	rejectedCheckLimitRadarr = 2
)

// queuePageSize covers the whole queue in one page; the managers cap well
// below this in practice.
const queuePageSize = 1000

// logPageSize matches the upstream log page requested per service.
const logPageSize = 250

// Engine fans out to the managers and the download client and reconciles
// their answers into per-item library status. Every aggregation is computed
// fresh per call; nothing is cached across requests.
type Engine struct {
	cfg       *config.Config
	log       *logger.Logger
	upstream  Upstream
	downloads DownloadClient
}

// NewEngine wires the reconciliation engine.
func NewEngine(cfg *config.Config, log *logger.Logger, upstream Upstream, downloads DownloadClient) *Engine {
	return &Engine{cfg: cfg, log: log, upstream: upstream, downloads: downloads}
}

// fetchLibraryInputs retrieves the library list, the manager queue, and the
// download-client torrent map concurrently. A library failure is fatal; a
// queue or download-client failure degrades to empty.
func (e *Engine) fetchLibraryInputs(ctx context.Context, service, resource string) ([]any, []map[string]any, Downloads, error) {
	var (
		library    []any
		libraryErr error
		queue      []map[string]any
		downloads  Downloads
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := e.upstream.RequestWithFallback(ctx, service, arr.Endpoints(service, resource), nil)
		if err != nil {
			libraryErr = err
			return
		}
		library = asSlice(v)
	}()

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		q, err := e.fetchQueue(ctx, service)
		if err != nil {
			e.log.Debugf("Queue fetch degraded to empty: service=%s kind=%s", service, arr.FailureKind(err))
			return
		}
		queue = q
	}()

	dlDone := make(chan struct{})
	go func() {
		defer close(dlDone)
		d, err := e.downloads.ListDownloads(ctx)
		if err != nil {
			e.log.Debugf("Download client fetch degraded to empty: error=%v", err)
			downloads = Downloads{ByHash: map[string]DownloadInfo{}}
			return
		}
		downloads = d
	}()

	<-done
	<-queueDone
	<-dlDone

	if libraryErr != nil {
		return nil, nil, Downloads{}, libraryErr
	}
	if downloads.ByHash == nil {
		downloads.ByHash = map[string]DownloadInfo{}
	}
	return library, queue, downloads, nil
}

// fetchQueue retrieves the manager's download queue, accepting both the
// paginated object shape and a bare array.
func (e *Engine) fetchQueue(ctx context.Context, service string) ([]map[string]any, error) {
	resource := fmt.Sprintf("queue?page=1&pageSize=%d&includeUnknownSeriesItems=true&includeUnknownMovieItems=true", queuePageSize)
	v, err := e.upstream.RequestWithFallback(ctx, service, arr.Endpoints(service, resource), nil)
	if err != nil {
		return nil, err
	}

	var raw []any
	switch payload := v.(type) {
	case map[string]any:
		raw = asSlice(payload["records"])
	case []any:
		raw = payload
	}

	records := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m := asMap(r); m != nil {
			records = append(records, m)
		}
	}
	return records, nil
}

// groupQueueByForeignKey indexes queue records by their library item id.
func groupQueueByForeignKey(queue []map[string]any, key string) map[int64][]map[string]any {
	grouped := make(map[int64][]map[string]any)
	for _, rec := range queue {
		id, ok := fieldNumber(rec, key)
		if !ok {
			// Some queue shapes nest the library item.
			if nested := asMap(rec[key[:len(key)-2]]); nested != nil {
				id, ok = fieldNumber(nested, "id")
			}
		}
		if !ok || id == 0 {
			continue
		}
		grouped[int64(id)] = append(grouped[int64(id)], rec)
	}
	return grouped
}

// matchTorrents joins queue records to download-client torrents by
// normalized hash, deduplicating repeated hashes.
func matchTorrents(records []map[string]any, downloads Downloads) []DownloadInfo {
	var matched []DownloadInfo
	seen := make(map[string]bool)
	for _, rec := range records {
		hash := NormalizeHash(fieldString(rec, "downloadId", "trackedDownloadId"))
		if hash == "" || seen[hash] {
			continue
		}
		if info, ok := downloads.ByHash[hash]; ok {
			matched = append(matched, info)
			seen[hash] = true
		}
	}
	return matched
}

// AggregateDownloads folds the matched torrents into one summary: mean
// progress, minimum positive ETA, any-stalled, maximum stalled duration,
// peer and size sums. Nil for zero torrents.
func AggregateDownloads(torrents []DownloadInfo) *DownloadSummary {
	if len(torrents) == 0 {
		return nil
	}

	summary := &DownloadSummary{
		State:    torrents[0].State,
		Torrents: len(torrents),
	}

	var progressSum, sizeSum float64
	for _, t := range torrents {
		progressSum += t.ProgressPct
		sizeSum += t.SizeGb
		summary.Peers += t.Peers

		if t.EtaSeconds != nil && *t.EtaSeconds > 0 {
			if summary.EtaSeconds == nil || *t.EtaSeconds < *summary.EtaSeconds {
				eta := *t.EtaSeconds
				summary.EtaSeconds = &eta
			}
		}
		if t.IsStalled {
			summary.IsStalled = true
			if t.StalledSeconds != nil {
				if summary.StalledSeconds == nil || *t.StalledSeconds > *summary.StalledSeconds {
					stalled := *t.StalledSeconds
					summary.StalledSeconds = &stalled
				}
			}
		}
	}
	summary.ProgressPct = round2(progressSum / float64(len(torrents)))
	summary.SizeGb = round2(sizeSum)
	return summary
}

// ClassifyStatus derives an item's overall status from its queue state and
// content presence. Strict priority: error > downloading > wanted >
// available.
func ClassifyStatus(queueState string, missingContent bool) string {
	switch queueState {
	case "error":
		return StatusError
	case "downloading":
		return StatusDownloading
	}
	if missingContent {
		return StatusWanted
	}
	return StatusAvailable
}

// statusRank orders the wantedDownloading partition: active downloads
// first, then errors, then wanted.
func statusRank(status string) int {
	switch status {
	case StatusDownloading:
		return 0
	case StatusError:
		return 1
	case StatusWanted:
		return 2
	default:
		return 3
	}
}

// classifySeason mirrors item classification per season.
func classifySeason(fileCount, episodeCount int) string {
	switch {
	case episodeCount > 0 && fileCount >= episodeCount:
		return StatusAvailable
	case fileCount > 0:
		return "partially_available"
	default:
		return StatusWanted
	}
}

func downloadItems(records []map[string]any, downloads Downloads) []DownloadItem {
	matched := matchTorrents(records, downloads)
	items := make([]DownloadItem, 0, len(matched))
	for _, t := range matched {
		items = append(items, DownloadItem{
			Hash:        t.Hash,
			Title:       t.Name,
			State:       t.State,
			ProgressPct: t.ProgressPct,
			EtaSeconds:  t.EtaSeconds,
			IsStalled:   t.IsStalled,
			Peers:       t.Peers,
			SizeGb:      t.SizeGb,
			Episode:     ExtractEpisodeHint(t.Name),
		})
	}
	return items
}

// partitionAndSort splits items into the wanted/downloading slice and the
// available slice, ordering the former by status rank with the original
// order preserved within a rank.
func partitionAndSort(items []LibraryItem) (wantedDownloading, available []LibraryItem) {
	wantedDownloading = []LibraryItem{}
	available = []LibraryItem{}
	for _, item := range items {
		if item.Status == StatusAvailable {
			available = append(available, item)
		} else {
			wantedDownloading = append(wantedDownloading, item)
		}
	}
	sort.SliceStable(wantedDownloading, func(i, j int) bool {
		return statusRank(wantedDownloading[i].Status) < statusRank(wantedDownloading[j].Status)
	})
	return wantedDownloading, available
}

// TVOverview reconciles the Sonarr library against its queue and the
// download client's torrents.
func (e *Engine) TVOverview(ctx context.Context) (*Overview, error) {
	library, queue, downloads, err := e.fetchLibraryInputs(ctx, "sonarr", "series")
	if err != nil {
		return nil, err
	}

	grouped := groupQueueByForeignKey(queue, "seriesId")
	baseURL := e.cfg.Services["sonarr"].URL

	items := make([]LibraryItem, 0, len(library))
	for _, raw := range library {
		series := asMap(raw)
		if series == nil {
			continue
		}

		stats := asMap(series["statistics"])
		episodeCount := int(fieldInt64(stats, "episodeCount"))
		fileCount := int(fieldInt64(stats, "episodeFileCount"))
		missing := episodeCount - fileCount
		if missing < 0 {
			missing = 0
		}

		var seasons []Season
		for _, rawSeason := range asSlice(series["seasons"]) {
			s := asMap(rawSeason)
			if s == nil {
				continue
			}
			sStats := asMap(s["statistics"])
			sEpisodes := int(fieldInt64(sStats, "episodeCount"))
			sFiles := int(fieldInt64(sStats, "episodeFileCount"))
			seasons = append(seasons, Season{
				SeasonNumber:     int(fieldInt64(s, "seasonNumber")),
				EpisodeCount:     sEpisodes,
				EpisodeFileCount: sFiles,
				Status:           classifySeason(sFiles, sEpisodes),
			})
		}

		id := fieldInt64(series, "id")
		records := grouped[id]
		queueState := QueueStateFromRecords(records)

		item := LibraryItem{
			ID:               id,
			Title:            fieldString(series, "title"),
			Year:             seriesYear(series),
			PosterURL:        PickPosterURL(baseURL, series),
			QueueState:       queueState,
			Status:           ClassifyStatus(queueState, missing > 0),
			Download:         AggregateDownloads(matchTorrents(records, downloads)),
			DownloadItems:    downloadItems(records, downloads),
			EpisodeCount:     &episodeCount,
			EpisodeFileCount: &fileCount,
			MissingEpisodes:  &missing,
			Seasons:          seasons,
		}
		items = append(items, item)
	}

	wanted, available := partitionAndSort(items)
	return &Overview{
		Service:           "sonarr",
		WantedDownloading: wanted,
		Available:         available,
		TotalItems:        len(items),
		DownloadsActive:   downloads.Configured && len(downloads.ByHash) > 0,
	}, nil
}

// MoviesOverview reconciles the Radarr library against its queue and the
// download client's torrents.
func (e *Engine) MoviesOverview(ctx context.Context) (*Overview, error) {
	library, queue, downloads, err := e.fetchLibraryInputs(ctx, "radarr", "movie")
	if err != nil {
		return nil, err
	}

	grouped := groupQueueByForeignKey(queue, "movieId")
	baseURL := e.cfg.Services["radarr"].URL

	items := make([]LibraryItem, 0, len(library))
	for _, raw := range library {
		movie := asMap(raw)
		if movie == nil {
			continue
		}

		hasFile, _ := fieldBool(movie, "hasFile")
		id := fieldInt64(movie, "id")
		records := grouped[id]
		queueState := QueueStateFromRecords(records)

		item := LibraryItem{
			ID:            id,
			Title:         fieldString(movie, "title"),
			Year:          movieYear(movie),
			PosterURL:     PickPosterURL(baseURL, movie),
			QueueState:    queueState,
			Status:        ClassifyStatus(queueState, !hasFile),
			Download:      AggregateDownloads(matchTorrents(records, downloads)),
			DownloadItems: downloadItems(records, downloads),
			HasFile:       &hasFile,
		}
		items = append(items, item)
	}

	wanted, available := partitionAndSort(items)
	return &Overview{
		Service:           "radarr",
		WantedDownloading: wanted,
		Available:         available,
		TotalItems:        len(items),
		DownloadsActive:   downloads.Configured && len(downloads.ByHash) > 0,
	}, nil
}

func seriesYear(series map[string]any) *int {
	if y, ok := fieldNumber(series, "year"); ok && y > 0 {
		year := int(y)
		return &year
	}
	return ExtractYear(series["firstAired"])
}

func movieYear(movie map[string]any) *int {
	if y, ok := fieldNumber(movie, "year"); ok && y > 0 {
		year := int(y)
		return &year
	}
	if y := ExtractYear(movie["inCinemas"]); y != nil {
		return y
	}
	return ExtractYear(movie["digitalRelease"])
}

// Episodes lists a series' episodes for one season, sorted by episode
// number, each classified available or wanted by file presence.
func (e *Engine) Episodes(ctx context.Context, seriesID int64, season int) (*SeasonEpisodes, error) {
	resource := "episode?seriesId=" + strconv.FormatInt(seriesID, 10)
	v, err := e.upstream.RequestWithFallback(ctx, "sonarr", arr.Endpoints("sonarr", resource), nil)
	if err != nil {
		return nil, err
	}

	out := &SeasonEpisodes{SeriesID: seriesID, SeasonNumber: season, Episodes: []Episode{}}
	for _, raw := range asSlice(v) {
		ep := asMap(raw)
		if ep == nil || int(fieldInt64(ep, "seasonNumber")) != season {
			continue
		}

		hasFile, _ := fieldBool(ep, "hasFile")
		monitored, _ := fieldBool(ep, "monitored")
		status := StatusWanted
		if hasFile {
			status = StatusAvailable
		}

		var airDate *string
		if d := fieldString(ep, "airDateUtc", "airDate"); d != "" {
			airDate = &d
		}

		out.Episodes = append(out.Episodes, Episode{
			ID:            fieldInt64(ep, "id"),
			SeasonNumber:  season,
			EpisodeNumber: int(fieldInt64(ep, "episodeNumber")),
			Title:         fieldString(ep, "title"),
			AirDate:       airDate,
			HasFile:       hasFile,
			Monitored:     monitored,
			Status:        status,
		})
	}

	sort.SliceStable(out.Episodes, func(i, j int) bool {
		return out.Episodes[i].EpisodeNumber < out.Episodes[j].EpisodeNumber
	})

	out.EpisodeCount = len(out.Episodes)
	for _, ep := range out.Episodes {
		if ep.HasFile {
			out.FileCount++
		}
	}
	return out, nil
}

// releaseKeyForService returns the query parameter naming the library item
// in a release search for the given service.
func releaseKeyForService(service string) string {
	if service == "radarr" {
		return "movieId"
	}
	return "seriesId"
}

// Releases fetches and normalizes the candidate releases for one library
// item, sorted rejected-last then seeders descending.
func (e *Engine) Releases(ctx context.Context, service string, itemID int64) ([]Release, error) {
	resource := fmt.Sprintf("release?%s=%d", releaseKeyForService(service), itemID)
	v, err := e.upstream.RequestWithFallback(ctx, service, arr.Endpoints(service, resource), nil)
	if err != nil {
		return nil, err
	}

	releases := []Release{}
	for _, raw := range asSlice(v) {
		if m := asMap(raw); m != nil {
			releases = append(releases, NormalizeRelease(service, m))
		}
	}
	SortReleases(releases)
	return releases, nil
}

// HasRejectedReleases reports whether any candidate release for the item
// was rejected by the manager's decision engine.
func (e *Engine) HasRejectedReleases(ctx context.Context, service string, itemID int64) (bool, error) {
	releases, err := e.Releases(ctx, service, itemID)
	if err != nil {
		return false, err
	}
	for _, r := range releases {
		if r.Rejected {
			return true, nil
		}
	}
	return false, nil
}

// RejectedBatch runs HasRejectedReleases for every id with a per-service
// concurrency cap. Each id triggers a full release fetch; results are never
// cached. Partial failures are counted but do not fail the batch.
func (e *Engine) RejectedBatch(ctx context.Context, service string, ids []int64) (map[int64]bool, int) {
	limit := rejectedCheckLimit
	if service == "radarr" {
		limit = rejectedCheckLimitRadarr
	}

	outcomes := batch.MapLimit(ctx, ids, limit, func(ctx context.Context, id int64) (bool, error) {
		return e.HasRejectedReleases(ctx, service, id)
	})

	results := make(map[int64]bool, len(ids))
	failures := 0
	for i, outcome := range outcomes {
		if !outcome.Fulfilled() {
			failures++
			continue
		}
		results[ids[i]] = outcome.Value
	}
	if failures > 0 {
		e.log.Warnf("Rejected-release batch finished with failures: service=%s failed=%d of=%d", service, failures, len(ids))
	}
	return results, failures
}

// GrabRelease posts the opaque release payload back to the manager.
// Failures are surfaced directly; grabs are never retried.
func (e *Engine) GrabRelease(ctx context.Context, service string, payload any) (any, error) {
	return e.upstream.Request(ctx, service, arr.PrimaryEndpoint(service, "release"), &arr.RequestOptions{
		Method: "POST",
		Body:   payload,
	})
}

// dashboardQueueLimit caps the queue cards per service on the legacy
// dashboard.
const dashboardQueueLimit = 20

// DashboardItems builds the legacy per-category card list: one status card
// and up to 20 queue cards per service. Each fetch degrades independently;
// a dead service simply contributes no cards.
func (e *Engine) DashboardItems(ctx context.Context, services []string) []DashboardItem {
	perService := make([][]DashboardItem, len(services))

	var wg sync.WaitGroup
	for i, service := range services {
		wg.Add(1)
		go func(i int, service string) {
			defer wg.Done()
			perService[i] = e.dashboardService(ctx, service)
		}(i, service)
	}
	wg.Wait()

	items := []DashboardItem{}
	for _, cards := range perService {
		items = append(items, cards...)
	}
	return items
}

func (e *Engine) dashboardService(ctx context.Context, service string) []DashboardItem {
	var (
		status map[string]any
		queue  []map[string]any
		wg     sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		v, err := e.upstream.RequestWithFallback(ctx, service, arr.Endpoints(service, "system/status"), nil)
		if err != nil {
			e.log.Debugf("Dashboard status fetch skipped: service=%s kind=%s", service, arr.FailureKind(err))
			return
		}
		status = asMap(v)
	}()
	go func() {
		defer wg.Done()
		resource := "queue?page=1&pageSize=50&sortKey=timeleft&sortDirection=ascending"
		v, err := e.upstream.RequestWithFallback(ctx, service, arr.Endpoints(service, resource), nil)
		if err != nil {
			e.log.Debugf("Dashboard queue fetch skipped: service=%s kind=%s", service, arr.FailureKind(err))
			return
		}
		var raw []any
		switch payload := v.(type) {
		case map[string]any:
			raw = asSlice(payload["records"])
		case []any:
			raw = payload
		}
		for _, r := range raw {
			if m := asMap(r); m != nil {
				queue = append(queue, m)
			}
		}
	}()
	wg.Wait()

	var items []DashboardItem
	if status != nil {
		appName := fieldString(status, "appName")
		if appName == "" {
			appName = service
		}
		version := fieldString(status, "version")
		if version == "" {
			version = "?"
		}
		instance := fieldString(status, "instanceName")
		if instance == "" {
			instance = "default instance"
		}
		items = append(items, DashboardItem{
			ID:      "status-" + service,
			Service: service,
			Source:  "System",
			Title:   fmt.Sprintf("%s v%s", appName, version),
			Summary: "Status: " + instance,
		})
	}

	if len(queue) > dashboardQueueLimit {
		queue = queue[:dashboardQueueLimit]
	}
	for _, rec := range queue {
		title := fieldString(rec, "title")
		if title == "" {
			if series := asMap(rec["series"]); series != nil {
				title = fieldString(series, "title")
			}
		}
		if title == "" {
			if artist := asMap(rec["artist"]); artist != nil {
				title = fieldString(artist, "artistName")
			}
		}
		if title == "" {
			title = "Queued Item"
		}
		summary := fieldString(rec, "status", "trackedDownloadState", "errorMessage", "outputPath")
		if summary == "" {
			summary = "Queued"
		}
		items = append(items, DashboardItem{
			ID:      rec["id"],
			Service: service,
			Source:  "Queue",
			Title:   title,
			Summary: summary,
		})
	}
	return items
}

// AggregateLogs collects and normalizes logs from the targeted services and
// the download client, sorts them newest first, applies level/substring
// filters, and caps the result.
func (e *Engine) AggregateLogs(ctx context.Context, service, level, search string, limit int) []LogEntry {
	targets := e.cfg.ConfiguredServices()
	includeQbit := true
	if service != "" && service != "all" {
		includeQbit = service == "qbittorrent"
		filtered := targets[:0]
		for _, t := range targets {
			if t == service {
				filtered = append(filtered, t)
			}
		}
		targets = filtered
	}

	type fetchResult struct {
		entries []LogEntry
	}

	results := make([]fetchResult, len(targets)+1)
	done := make(chan int, len(targets)+1)

	for i, target := range targets {
		go func(i int, target string) {
			defer func() { done <- i }()
			resource := fmt.Sprintf("log?sortKey=time&sortDirection=descending&page=1&pageSize=%d", logPageSize)
			v, err := e.upstream.RequestWithFallback(ctx, target, arr.Endpoints(target, resource), nil)
			if err != nil {
				e.log.Debugf("Log fetch skipped: service=%s kind=%s", target, arr.FailureKind(err))
				return
			}
			var raw []any
			switch payload := v.(type) {
			case map[string]any:
				raw = asSlice(payload["records"])
			case []any:
				raw = payload
			}
			for _, r := range raw {
				if m := asMap(r); m != nil {
					results[i].entries = append(results[i].entries, NormalizeLogEntry(target, m))
				}
			}
		}(i, target)
	}

	pending := len(targets)
	if includeQbit {
		qbitIdx := len(targets)
		pending++
		go func() {
			defer func() { done <- qbitIdx }()
			entries, err := e.downloads.Logs(ctx)
			if err != nil {
				e.log.Debugf("Download client log fetch skipped: error=%v", err)
				return
			}
			results[qbitIdx].entries = entries
		}()
	}

	for i := 0; i < pending; i++ {
		<-done
	}

	items := []LogEntry{}
	for _, r := range results {
		items = append(items, r.entries...)
	}
	SortLogEntriesDesc(items)

	if level != "" && level != "all" {
		filtered := items[:0]
		for _, item := range items {
			if item.Level == level {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	if search != "" {
		lowered := strings.ToLower(search)
		filtered := items[:0]
		for _, item := range items {
			if strings.Contains(strings.ToLower(item.Message), lowered) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
