package media

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Upstream payloads are duck-typed: the same logical field appears under
// different names depending on service and API version. All probes below
// take field names in priority order and degrade to a zero value rather
// than fail.

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// fieldString returns the first non-empty string among the named fields.
func fieldString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// fieldNumber returns the first numeric value among the named fields.
func fieldNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
	}
	return 0, false
}

// fieldBool returns the first boolean value among the named fields.
func fieldBool(m map[string]any, keys ...string) (bool, bool) {
	for _, k := range keys {
		if b, ok := m[k].(bool); ok {
			return b, true
		}
	}
	return false, false
}

func fieldInt64(m map[string]any, keys ...string) int64 {
	n, _ := fieldNumber(m, keys...)
	return int64(n)
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundPct rounds a percentage to two decimal places.
func RoundPct(v float64) float64 {
	return round2(v)
}

// BytesToGB converts a byte count to gigabytes rounded to two decimals.
// Non-positive input yields nil.
func BytesToGB(bytes float64) *float64 {
	if bytes <= 0 {
		return nil
	}
	gb := round2(bytes / (1024 * 1024 * 1024))
	return &gb
}

// NormalizeHash trims and lowercases a download hash. It is the universal
// join key between manager queue records and download-client torrents.
func NormalizeHash(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// ExtractYear pulls a release year out of a numeric year, a 4-digit string,
// or any parseable date (UTC year). Anything else yields nil.
func ExtractYear(value any) *int {
	switch v := value.(type) {
	case float64:
		y := int(v)
		return &y
	case int:
		return &v
	case string:
		if len(v) == 4 {
			if y, err := strconv.Atoi(v); err == nil && y >= 1000 {
				return &y
			}
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			y := t.UTC().Year()
			return &y
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			y := t.UTC().Year()
			return &y
		}
	}
	return nil
}

// BuildAssetURL resolves a possibly relative asset path against a service
// base URL, ensuring exactly one path separator. Nil when the base or the
// path is empty.
func BuildAssetURL(baseURL, rawPath string) *string {
	if rawPath == "" {
		return nil
	}
	if strings.HasPrefix(rawPath, "http://") || strings.HasPrefix(rawPath, "https://") {
		return &rawPath
	}
	if baseURL == "" {
		return nil
	}
	u := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(rawPath, "/")
	return &u
}

// PickPosterURL selects the poster image from an item's image list, falling
// back to the first image when no cover type matches, and resolves it
// against the service base URL. Nil when the item has no images.
func PickPosterURL(baseURL string, item map[string]any) *string {
	images := asSlice(item["images"])
	if len(images) == 0 {
		return nil
	}

	chosen := asMap(images[0])
	for _, img := range images {
		m := asMap(img)
		if strings.EqualFold(fieldString(m, "coverType"), "poster") {
			chosen = m
			break
		}
	}
	if chosen == nil {
		return nil
	}
	return BuildAssetURL(baseURL, fieldString(chosen, "remoteUrl", "url"))
}

// episodeHintRe matches SxxEyy with an optional -Ezz range suffix. The
// range branch requires the explicit E so a trailing resolution token like
// "-1080p" never bleeds into the hint; greedy matching still prefers the
// full range when present.
var episodeHintRe = regexp.MustCompile(`(?i)S\d{1,2}E\d{1,3}(?:-E\d{1,3})?`)

// ExtractEpisodeHint pulls an "S02E05" or "S02E05-E06" style marker out of
// a release or torrent name for display. Nil when no marker is present.
func ExtractEpisodeHint(text string) *string {
	m := episodeHintRe.FindString(text)
	if m == "" {
		return nil
	}
	m = strings.ToUpper(m)
	return &m
}

// QueueStateFromRecords classifies a library item's queue records.
// Error takes precedence over presence: a single failed record makes the
// whole item "error" even while others are still downloading.
func QueueStateFromRecords(records []map[string]any) string {
	for _, rec := range records {
		if fieldString(rec, "errorMessage") != "" {
			return "error"
		}
		if strings.EqualFold(fieldString(rec, "status"), "failed") {
			return "error"
		}
	}
	if len(records) > 0 {
		return "downloading"
	}
	return "idle"
}

// NormalizeLogEntry maps a raw manager log record onto the shared shape.
// The message falls back through several source fields and is never empty;
// the level defaults to "info".
func NormalizeLogEntry(service string, item map[string]any) LogEntry {
	level := strings.ToLower(fieldString(item, "level"))
	switch level {
	case "info", "warn", "error", "fatal":
	case "warning":
		level = "warn"
	case "":
		level = "info"
	default:
		// Unknown levels (debug, trace, ...) pass through lowercased.
	}

	message := fieldString(item, "message", "exception", "logger")
	if message == "" {
		message = "No message"
	}

	var ts *string
	if raw := fieldString(item, "time", "timestamp"); raw != "" {
		ts = &raw
	}

	return LogEntry{
		Service: service,
		Level:   level,
		Message: message,
		Time:    ts,
	}
}

// logEntryUnix parses an entry's time for sorting; missing or unparseable
// times sort as the epoch.
func logEntryUnix(e LogEntry) int64 {
	if e.Time == nil {
		return 0
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, *e.Time); err == nil {
			return t.UnixNano()
		}
	}
	return 0
}

// SortLogEntriesDesc sorts entries newest first, stably, with invalid or
// missing times treated as the epoch.
func SortLogEntriesDesc(entries []LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return logEntryUnix(entries[i]) > logEntryUnix(entries[j])
	})
}

// releaseRejections flattens the heterogeneous rejection field into a list
// of human-readable strings. Sources: a list of strings, a list of objects
// with a reason field, or a single string.
func releaseRejections(raw map[string]any) []string {
	var out []string
	switch v := raw["rejections"].(type) {
	case []any:
		for _, entry := range v {
			switch e := entry.(type) {
			case string:
				if e != "" {
					out = append(out, e)
				}
			case map[string]any:
				if reason := fieldString(e, "reason", "message"); reason != "" {
					out = append(out, reason)
				}
			}
		}
	case string:
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// isRejectedRaw reports whether any of the heterogeneous rejection signals
// is present: an explicit rejected flag, an approval flag set to false, or
// a non-empty rejection list/string.
func isRejectedRaw(raw map[string]any, rejections []string) bool {
	if rejected, ok := fieldBool(raw, "rejected"); ok && rejected {
		return true
	}
	if approved, ok := fieldBool(raw, "approved"); ok && !approved {
		return true
	}
	return len(rejections) > 0
}

// releaseQuality digs the quality name out of the nested quality object,
// accepting a plain string as well.
func releaseQuality(raw map[string]any) string {
	switch q := raw["quality"].(type) {
	case string:
		return q
	case map[string]any:
		if inner := asMap(q["quality"]); inner != nil {
			return fieldString(inner, "name")
		}
		return fieldString(q, "name")
	}
	return ""
}

// releaseLanguage accepts a string, an object with a name, or a list of
// either, returning the first language name found.
func releaseLanguage(raw map[string]any) string {
	switch l := raw["language"].(type) {
	case string:
		return l
	case map[string]any:
		return fieldString(l, "name")
	case []any:
		if len(l) > 0 {
			if m := asMap(l[0]); m != nil {
				return fieldString(m, "name")
			}
			if s, ok := l[0].(string); ok {
				return s
			}
		}
	}
	if ls := asSlice(raw["languages"]); len(ls) > 0 {
		if m := asMap(ls[0]); m != nil {
			return fieldString(m, "name")
		}
	}
	return ""
}

// NormalizeRelease maps a raw manager release record onto the shared shape.
// Normalization is pure and idempotent: the same raw record always yields
// the same Release, and Rejected is true iff a rejection signal is present.
func NormalizeRelease(service string, raw map[string]any) Release {
	rejections := releaseRejections(raw)
	if rejections == nil {
		rejections = []string{}
	}

	size, _ := fieldNumber(raw, "size")
	age, _ := fieldNumber(raw, "age", "ageMinutes")

	return Release{
		Service:    service,
		GUID:       fieldString(raw, "guid"),
		IndexerID:  fieldInt64(raw, "indexerId"),
		Title:      fieldString(raw, "title"),
		Indexer:    fieldString(raw, "indexer"),
		Age:        age,
		Size:       int64(size),
		SizeGb:     BytesToGB(size),
		Seeders:    fieldInt64(raw, "seeders"),
		Leechers:   fieldInt64(raw, "leechers", "peers"),
		Language:   releaseLanguage(raw),
		Quality:    releaseQuality(raw),
		Protocol:   fieldString(raw, "protocol"),
		Rejected:   isRejectedRaw(raw, rejections),
		Rejections: rejections,
		Full:       raw,
	}
}

// SortReleases orders releases rejected-last, then by seeders descending.
// A rejected release never outranks an accepted one regardless of seeders.
func SortReleases(releases []Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		if releases[i].Rejected != releases[j].Rejected {
			return !releases[i].Rejected
		}
		return releases[i].Seeders > releases[j].Seeders
	})
}
