package search

import (
	"fmt"

	"trackmeta/searchservice/internal/domain"
)

// DeduplicateByURL merges candidates that point at the same URL, preserving
// first-seen order. Candidates with an empty URL are never merged.
func DeduplicateByURL(candidates []domain.Candidate) []domain.Candidate {
	byURL := make(map[string]int)
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.URL == "" {
			out = append(out, c)
			continue
		}
		if idx, seen := byURL[c.URL]; seen {
			out[idx] = mergeCandidates(out[idx], c)
			continue
		}
		byURL[c.URL] = len(out)
		out = append(out, c)
	}
	return out
}

// mergeCandidates merges a later same-URL candidate into the first-seen one,
// preserving the richer metadata: keep the higher score, prefer direct URLs,
// a structured variant wins over a fallback, and empty optional fields are
// filled from the newcomer (first-seen values are never overwritten).
func mergeCandidates(base, other domain.Candidate) domain.Candidate {
	merged := base
	if other.Score > merged.Score {
		merged.Score = other.Score
	}
	if other.DirectURL {
		merged.DirectURL = true
	}
	if !other.IsFallback {
		merged.IsFallback = false
	}
	fillIfEmpty(&merged.Title, other.Title)
	fillIfEmpty(&merged.Artist, other.Artist)
	fillIfEmpty(&merged.Label, other.Label)
	fillIfEmpty(&merged.Genre, other.Genre)
	fillIfEmpty(&merged.BPM, other.BPM)
	fillIfEmpty(&merged.Key, other.Key)
	fillIfEmpty(&merged.ReleaseDate, other.ReleaseDate)
	fillIfEmpty(&merged.TrackNumber, other.TrackNumber)
	fillIfEmpty(&merged.ThumbnailURL, other.ThumbnailURL)
	fillIfEmpty(&merged.Remixers, other.Remixers)
	fillIfEmpty(&merged.Album, other.Album)
	fillIfEmpty(&merged.AlbumArtist, other.AlbumArtist)
	fillIfEmpty(&merged.CatalogNo, other.CatalogNo)
	fillIfEmpty(&merged.Note, other.Note)
	if merged.ReleaseType == "" {
		merged.ReleaseType = other.ReleaseType
	}
	if merged.TrackCount == 0 {
		merged.TrackCount = other.TrackCount
	}
	if merged.MatchConfidence == 0 {
		merged.MatchConfidence = other.MatchConfidence
	}
	return merged
}

func fillIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// DropZeroScoreStructured removes structured candidates that scored zero.
// When nothing useful remains, a single fallback pointing at the source's
// search page takes their place so the user still gets a clickable lead.
func DropZeroScoreStructured(candidates []domain.Candidate, source domain.Source, searchURL string) []domain.Candidate {
	kept := candidates[:0:0]
	for _, c := range candidates {
		if c.IsFallback || c.Score > 0 {
			kept = append(kept, c)
		}
	}
	if len(kept) > 0 {
		return kept
	}
	fb := FallbackCandidate(source, searchURL)
	fb.Note = "No non-zero matches extracted; open manually."
	return []domain.Candidate{fb}
}

// FallbackCandidate builds the standard search-page fallback for a source.
func FallbackCandidate(source domain.Source, searchURL string) domain.Candidate {
	return domain.Candidate{
		Source:     source,
		Title:      fmt.Sprintf("View search results on %s", source),
		URL:        searchURL,
		Note:       "Search failed; open manually.",
		IsFallback: true,
	}
}
