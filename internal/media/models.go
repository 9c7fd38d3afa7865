// Package media holds the normalized entity model shared by the aggregation
// endpoints, the pure normalization functions that produce it from raw
// upstream payloads, and the reconciliation engine that joins library items,
// manager queue records, and download-client torrents into per-item status.
package media

// LogEntry is a normalized log line from any upstream service or the
// download client. Time is an ISO-8601 string, or nil when the source had no
// usable timestamp.
type LogEntry struct {
	Service string  `json:"service"`
	Level   string  `json:"level"`
	Message string  `json:"message"`
	Time    *string `json:"time"`
}

// Release is a normalized candidate download returned by a manager's
// release search. Full carries the opaque original payload so a later grab
// can POST it back unchanged.
type Release struct {
	Service    string   `json:"service"`
	GUID       string   `json:"guid"`
	IndexerID  int64    `json:"indexerId"`
	Title      string   `json:"title"`
	Indexer    string   `json:"indexer"`
	Age        float64  `json:"age"`
	Size       int64    `json:"size"`
	SizeGb     *float64 `json:"sizeGb"`
	Seeders    int64    `json:"seeders"`
	Leechers   int64    `json:"leechers"`
	Language   string   `json:"language"`
	Quality    string   `json:"quality"`
	Protocol   string   `json:"protocol"`
	Rejected   bool     `json:"rejected"`
	Rejections []string `json:"rejections"`
	Full       any      `json:"full"`
}

// DownloadInfo is one normalized download-client torrent. Hash is trimmed
// and lowercased; it is the join key against manager queue records.
type DownloadInfo struct {
	Hash           string   `json:"hash"`
	Name           string   `json:"name"`
	State          string   `json:"state"`
	ProgressPct    float64  `json:"progressPct"`
	EtaSeconds     *int64   `json:"etaSeconds"`
	IsStalled      bool     `json:"isStalled"`
	StalledSeconds *int64   `json:"stalledSeconds"`
	Peers          int64    `json:"peers"`
	SizeGb         float64  `json:"sizeGb"`
}

// Downloads is the download client's torrent set keyed by hash. Configured
// is false when the client has no credentials; ByHash is then empty and no
// network call was made.
type Downloads struct {
	Configured bool
	ByHash     map[string]DownloadInfo
}

// DownloadSummary aggregates every torrent matched to one library item.
// It is never built for zero matched torrents.
type DownloadSummary struct {
	State          string   `json:"state"`
	ProgressPct    float64  `json:"progressPct"`
	EtaSeconds     *int64   `json:"etaSeconds"`
	IsStalled      bool     `json:"isStalled"`
	StalledSeconds *int64   `json:"stalledSeconds"`
	Peers          int64    `json:"peers"`
	SizeGb         float64  `json:"sizeGb"`
	Torrents       int      `json:"torrents"`
}

// DownloadItem is the per-torrent detail attached to a library item.
type DownloadItem struct {
	Hash        string   `json:"hash"`
	Title       string   `json:"title"`
	State       string   `json:"state"`
	ProgressPct float64  `json:"progressPct"`
	EtaSeconds  *int64   `json:"etaSeconds"`
	IsStalled   bool     `json:"isStalled"`
	Peers       int64    `json:"peers"`
	SizeGb      float64  `json:"sizeGb"`
	Episode     *string  `json:"episode"`
}

// Season is the per-season availability for a series.
type Season struct {
	SeasonNumber     int    `json:"seasonNumber"`
	EpisodeCount     int    `json:"episodeCount"`
	EpisodeFileCount int    `json:"episodeFileCount"`
	Status           string `json:"status"` // available | partially_available | wanted
}

// Item statuses, in strict priority order: error beats downloading beats
// wanted beats available.
const (
	StatusError       = "error"
	StatusDownloading = "downloading"
	StatusWanted      = "wanted"
	StatusAvailable   = "available"
)

// LibraryItem is one normalized series or movie with its reconciled
// download state. Series-only and movie-only fields are pointers so the
// JSON shape stays minimal per type.
type LibraryItem struct {
	ID            int64            `json:"id"`
	Title         string           `json:"title"`
	Year          *int             `json:"year"`
	PosterURL     *string          `json:"posterUrl"`
	Status        string           `json:"status"`
	QueueState    string           `json:"queueState"`
	Download      *DownloadSummary `json:"download"`
	DownloadItems []DownloadItem   `json:"downloadItems"`

	// Series fields
	EpisodeCount     *int     `json:"episodeCount,omitempty"`
	EpisodeFileCount *int     `json:"episodeFileCount,omitempty"`
	MissingEpisodes  *int     `json:"missingEpisodes,omitempty"`
	Seasons          []Season `json:"seasons,omitempty"`

	// Movie fields
	HasFile *bool `json:"hasFile,omitempty"`
}

// DashboardItem is one card of the legacy category dashboard: a status
// line per service plus its most recent queue entries.
type DashboardItem struct {
	ID      any    `json:"id"`
	Service string `json:"service"`
	Source  string `json:"source"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Overview is the response shape of the tv/movies overview endpoints.
type Overview struct {
	Service           string        `json:"service"`
	WantedDownloading []LibraryItem `json:"wantedDownloading"`
	Available         []LibraryItem `json:"available"`
	TotalItems        int           `json:"totalItems"`
	DownloadsActive   bool          `json:"downloadsActive"`
}

// Episode is one normalized episode row for the season listing.
type Episode struct {
	ID            int64   `json:"id"`
	SeasonNumber  int     `json:"seasonNumber"`
	EpisodeNumber int     `json:"episodeNumber"`
	Title         string  `json:"title"`
	AirDate       *string `json:"airDate"`
	HasFile       bool    `json:"hasFile"`
	Monitored     bool    `json:"monitored"`
	Status        string  `json:"status"` // available | wanted
}

// SeasonEpisodes is the response of the episodes-by-season endpoint.
type SeasonEpisodes struct {
	SeriesID     int64     `json:"seriesId"`
	SeasonNumber int       `json:"seasonNumber"`
	Episodes     []Episode `json:"episodes"`
	EpisodeCount int       `json:"episodeCount"`
	FileCount    int       `json:"fileCount"`
}
