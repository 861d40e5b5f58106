package domain

// Source identifies one external music catalog.
type Source string

const (
	SourceBeatport    Source = "Beatport"
	SourceTraxsource  Source = "Traxsource"
	SourceJuno        Source = "Juno"
	SourceBandcamp    Source = "Bandcamp"
	SourceMusicBrainz Source = "MusicBrainz"
	SourceDiscogs     Source = "Discogs"
	SourceAcoustID    Source = "AcoustID"
)

// Query is the immutable, normalized search input. Title/Artist carry the
// cleaned scoring form; SearchText is the lowercase outgoing query string and
// RetryText its remix-stripped variant for the relaxed second pass.
type Query struct {
	Raw         string
	Title       string
	Artist      string
	Year        string
	Date        string
	FilePath    string
	RemixTokens []string
	SearchText  string
	RetryText   string
	// RetryMeaningful is true when the raw title carried a remix descriptor,
	// so searching without it is a genuinely different query.
	RetryMeaningful bool
}

// Empty reports whether the query carries no usable text at all.
func (q Query) Empty() bool {
	return q.Title == "" && q.Artist == "" && q.SearchText == ""
}

// SearchRequest is what a source adapter receives for one fetch+parse pass.
type SearchRequest struct {
	Query Query
	// SearchText overrides Query.SearchText during the retry pass.
	SearchText string
	Limit      int
}

// Text returns the outgoing query string for this pass.
func (r SearchRequest) Text() string {
	if r.SearchText != "" {
		return r.SearchText
	}
	return r.Query.SearchText
}

// Candidate is one discovered match from a single source.
//
// IsFallback candidates always have DirectURL=false and Score=0; they point at
// the source's raw search-results page when nothing structured was extracted.
type Candidate struct {
	Source       Source  `json:"source"`
	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	URL          string  `json:"url"`
	Score        float64 `json:"score"`
	DirectURL    bool    `json:"directUrl"`
	IsFallback   bool    `json:"isFallback"`
	Label        string  `json:"label,omitempty"`
	Genre        string  `json:"genre,omitempty"`
	BPM          string  `json:"bpm,omitempty"`
	Key          string  `json:"key,omitempty"`
	ReleaseDate  string  `json:"releaseDate,omitempty"`
	TrackNumber  string  `json:"trackNumber,omitempty"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	Remixers     string  `json:"remixers,omitempty"`
	Album        string  `json:"album,omitempty"`
	AlbumArtist  string  `json:"albumArtist,omitempty"`
	CatalogNo    string  `json:"catalogNumber,omitempty"`
	Note         string  `json:"note,omitempty"`

	// Scoring hints filled by adapters, not serialized.
	ReleaseType string `json:"-"`
	TrackCount  int    `json:"-"`
	// MatchConfidence is a source-native confidence (AcoustID), 0 when unused.
	MatchConfidence float64 `json:"matchConfidence,omitempty"`
}

// SourceInfo describes a configured source adapter.
type SourceInfo struct {
	Name    Source `json:"name"`
	Label   string `json:"label"`
	Kind    string `json:"kind"` // "scrape" or "api"
	Enabled bool   `json:"enabled"`
}

// SourceStatus summarizes one source's run within an aggregate search.
type SourceStatus struct {
	Name     Source `json:"name"`
	OK       bool   `json:"ok"`
	Count    int    `json:"count"`
	Retried  bool   `json:"retried,omitempty"`
	Rendered bool   `json:"rendered,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SearchResponse is the terminal aggregate payload.
type SearchResponse struct {
	Query           string                 `json:"query"`
	ResultsBySource map[Source][]Candidate `json:"resultsBySource"`
	Sources         []SourceStatus         `json:"sources"`
	ElapsedMS       int64                  `json:"elapsedMs"`
}

// EventKind discriminates progress events on the streaming connection.
type EventKind string

const (
	EventLog    EventKind = "log"
	EventResult EventKind = "result"
	EventError  EventKind = "error"
)

// SearchEvent is one progress message emitted by the aggregator. Exactly one
// terminal event (result or error) closes the stream.
type SearchEvent struct {
	Kind    EventKind
	Message string
	Result  *SearchResponse
}

// TagSnapshot is the tag-reading collaborator's view of a local audio file,
// used to seed the default query.
type TagSnapshot struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album,omitempty"`
	Year     string `json:"year,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Duration int    `json:"durationSecs,omitempty"`
}

// TagUpdate carries the chosen candidate's fields into the tag writer.
type TagUpdate struct {
	Path        string `json:"path"`
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	AlbumArtist string `json:"albumArtist,omitempty"`
	Year        string `json:"year,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Label       string `json:"label,omitempty"`
	CatalogNo   string `json:"catalogNumber,omitempty"`
	BPM         string `json:"bpm,omitempty"`
	Key         string `json:"key,omitempty"`
	TrackNumber string `json:"trackNumber,omitempty"`
}
