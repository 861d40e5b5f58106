// Package tags reads and writes audio file metadata. Reads feed the default
// search query for a file; writes apply a chosen candidate's fields back.
package tags

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	jsoniter "github.com/json-iterator/go"

	"trackmeta/searchservice/internal/cache"
	"trackmeta/searchservice/internal/domain"
	"trackmeta/searchservice/internal/metrics"
)

// ErrUnsupportedFormat is returned when a write targets a non-MP3 file; only
// ID3v2 containers are writable for now.
var ErrUnsupportedFormat = errors.New("tag writing supports only mp3 files")

// Reader extracts tag snapshots, caching them per (path, mtime) so repeated
// searches over the same library don't re-open files.
type Reader struct {
	cache *cache.Cache
}

func NewReader(snapshotCache *cache.Cache) *Reader {
	return &Reader{cache: snapshotCache}
}

// Read returns the file's tag snapshot. A missing file is an error; a
// tagless or unparseable one degrades to the filename-stem title.
func (r *Reader) Read(ctx context.Context, path string) (domain.TagSnapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.TagSnapshot{}, err
	}

	cacheKey := fmt.Sprintf("%s|%d", path, info.ModTime().UnixNano())
	if r.cache != nil {
		if data, ok := r.cache.Get(ctx, cacheKey); ok {
			var snapshot domain.TagSnapshot
			if jsoniter.Unmarshal(data, &snapshot) == nil {
				return snapshot, nil
			}
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.TagSnapshot{}, err
	}
	defer file.Close()

	snapshot := domain.TagSnapshot{Path: path}
	// Any ReadFrom failure counts as an untagged file: dhowden reports not
	// only ErrNoTagsFound but also seek/format-detection errors for tagless
	// audio. Only Stat/Open failures above are fatal.
	if meta, err := tag.ReadFrom(file); err == nil {
		snapshot.Title = strings.TrimSpace(meta.Title())
		snapshot.Artist = strings.TrimSpace(meta.Artist())
		snapshot.Album = strings.TrimSpace(meta.Album())
		snapshot.Genre = strings.TrimSpace(meta.Genre())
		if year := meta.Year(); year > 0 {
			snapshot.Year = strconv.Itoa(year)
		}
	}
	if snapshot.Title == "" {
		// Fall back to the file name so the query builder has something.
		base := filepath.Base(path)
		snapshot.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if r.cache != nil {
		if data, err := jsoniter.Marshal(snapshot); err == nil {
			r.cache.Set(ctx, cacheKey, data)
		}
	}
	return snapshot, nil
}

// Writer applies tag updates to MP3 files in place.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Write sets the non-empty fields of update on the file's ID3v2 tag. Existing
// frames for untouched fields are preserved.
func (w *Writer) Write(update domain.TagUpdate) error {
	if !strings.EqualFold(filepath.Ext(update.Path), ".mp3") {
		metrics.TagWritesTotal.WithLabelValues("unsupported").Inc()
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(update.Path))
	}

	file, err := id3v2.Open(update.Path, id3v2.Options{Parse: true})
	if err != nil {
		metrics.TagWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("open tag: %w", err)
	}
	defer file.Close()

	file.SetDefaultEncoding(id3v2.EncodingUTF8)

	setText := func(id, value string) {
		if value = strings.TrimSpace(value); value != "" {
			file.AddTextFrame(id, id3v2.EncodingUTF8, value)
		}
	}

	setText("TIT2", update.Title)
	setText("TPE1", update.Artist)
	setText("TALB", update.Album)
	setText("TPE2", update.AlbumArtist)
	setText("TCON", update.Genre)
	setText("TPUB", update.Label)
	setText("TBPM", update.BPM)
	setText("TKEY", update.Key)
	setText("TRCK", update.TrackNumber)
	if year := strings.TrimSpace(update.Year); year != "" {
		setText("TDRC", year)
		setText("TYER", year)
	}
	if catalog := strings.TrimSpace(update.CatalogNo); catalog != "" {
		file.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: "CATALOGNUMBER",
			Value:       catalog,
		})
	}

	if err := file.Save(); err != nil {
		metrics.TagWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("save tag: %w", err)
	}
	metrics.TagWritesTotal.WithLabelValues("ok").Inc()
	return nil
}
