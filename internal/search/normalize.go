package search

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"trackmeta/searchservice/internal/domain"
)

var (
	bracketPattern      = regexp.MustCompile(`\(([^)]*)\)|\[([^\]]*)\]`)
	remixKeywordPattern = regexp.MustCompile(`(?i)\b(?:remix|mix|edit|vip|version|bootleg|rework|flip|dub|instrumental|acappella|mashup)\b`)
	remixesPattern      = regexp.MustCompile(`(?i)\bremixes\b`)
	// A trailing remix descriptor in a normalized title: an optional
	// dash/en-dash/em-dash separator followed by words ending in a remix
	// keyword (" - Artist Remix"), or a bare trailing keyword (" VIP Mix").
	trailingRemixPattern = regexp.MustCompile(`(?i)(?:\s*[-\x{2013}\x{2014}]\s*\w[\w\s]*\b(?:mix|remix|vip|edit|version|bootleg|rework|flip|dub|instrumental|acappella|mashup)\b|\s+(?:\w+\s+)?(?:mix|remix|vip|edit|version|bootleg|rework|flip|dub|instrumental|acappella|mashup)\b)\s*$`)
	featPattern          = regexp.MustCompile(`(?i)\s*[(\[]?(?:feat(?:uring)?|ft)\.?\s+[^)\]]+[)\]]?|\s+(?:with|w/)\s+[^,(\[]+`)
	dashSeparatorPattern = regexp.MustCompile(`\s+[\x{2013}\x{2014}]\s+|\s+-\s+`)
	handleAtPattern      = regexp.MustCompile(`(^|\W)@(\w)`)
	wordPattern          = regexp.MustCompile(`\w+`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
	yearOnlyPattern      = regexp.MustCompile(`^\d{4}$`)
)

// NormalizeQuery builds the canonical Query from raw input. Either raw is a
// free-form string (possibly "Artist - Title"), or title/artist are explicit
// form fields; explicit fields win for scoring when both are present.
func NormalizeQuery(raw, title, artist, year, date, filePath string) domain.Query {
	raw = strings.TrimSpace(raw)
	title = strings.TrimSpace(title)
	artist = strings.TrimSpace(artist)

	if raw != "" && title == "" && artist == "" {
		splitArtist, splitTitle := SplitArtistTitle(raw)
		title = splitTitle
		artist = splitArtist
	}

	normTitle, normArtist, remixTokens := normalizeTitleArtist(title, artist)

	query := domain.Query{
		Raw:         raw,
		Title:       normTitle,
		Artist:      normArtist,
		Year:        strings.TrimSpace(year),
		Date:        strings.TrimSpace(date),
		FilePath:    strings.TrimSpace(filePath),
		RemixTokens: remixTokens,
	}

	base := strings.TrimSpace(normArtist + " " + normTitle)
	if base == "" {
		base = raw
	}
	query.SearchText = strings.ToLower(appendRemixIdentityWords(base, remixTokens))
	query.RetryText = buildRetryText(normArtist, normTitle)

	strippedTitle := strings.Trim(trailingRemixPattern.ReplaceAllString(normTitle, ""), " -,")
	query.RetryMeaningful = len(remixTokens) > 0 || strippedTitle != normTitle

	return query
}

// SplitArtistTitle splits a free-form query at a whitespace-surrounded hyphen,
// en-dash or em-dash. A hyphen inside a compound word is not a separator; when
// no separator is found the whole string is the title.
func SplitArtistTitle(q string) (artist, title string) {
	loc := dashSeparatorPattern.FindStringIndex(q)
	if loc != nil {
		artist = strings.TrimSpace(q[:loc[0]])
		title = strings.TrimSpace(q[loc[1]:])
		if artist != "" && title != "" {
			return artist, title
		}
	}
	return "", q
}

// normalizeTitleArtist strips bracketed segments and feat/with segments,
// collecting remix-descriptor bracket contents as side-channel tokens.
func normalizeTitleArtist(title, artist string) (cleanTitle, cleanArtist string, remixTokens []string) {
	for _, match := range bracketPattern.FindAllStringSubmatch(title, -1) {
		content := strings.TrimSpace(match[1])
		if content == "" {
			content = strings.TrimSpace(match[2])
		}
		if content != "" && remixKeywordPattern.MatchString(content) {
			remixTokens = append(remixTokens, content)
		}
	}

	cleanTitle = bracketPattern.ReplaceAllString(title, " ")
	cleanTitle = featPattern.ReplaceAllString(cleanTitle, "")
	cleanArtist = featPattern.ReplaceAllString(artist, "")

	cleanTitle = strings.Trim(whitespacePattern.ReplaceAllString(cleanTitle, " "), " -,")
	cleanArtist = strings.Trim(whitespacePattern.ReplaceAllString(cleanArtist, " "), " -,")
	return cleanTitle, cleanArtist, remixTokens
}

// appendRemixIdentityWords adds the non-keyword words of each remix token to
// the outgoing query so remix-specific results surface even though the
// bracketed phrase itself is not sent verbatim. "@handle" loses its "@".
func appendRemixIdentityWords(base string, remixTokens []string) string {
	if len(remixTokens) == 0 {
		return base
	}
	seen := make(map[string]struct{})
	var words []string
	for _, token := range remixTokens {
		for _, word := range remixIdentityWords(token) {
			if _, exists := seen[word]; exists {
				continue
			}
			seen[word] = struct{}{}
			words = append(words, word)
		}
	}
	if len(words) == 0 {
		return base
	}
	return strings.TrimSpace(base + " " + strings.Join(words, " "))
}

// remixIdentityWords extracts the remixer-identity words of one token:
// lowercase, @-handles normalized, remix keywords and short words dropped.
func remixIdentityWords(token string) []string {
	normalized := strings.ToLower(normalizeHandle(token))
	var words []string
	for _, word := range wordPattern.FindAllString(normalized, -1) {
		if len(word) <= 2 {
			continue
		}
		if remixKeywordPattern.MatchString(word) {
			continue
		}
		words = append(words, word)
	}
	return words
}

// buildRetryText builds the relaxed "artist title" query with any trailing
// remix descriptor removed. Identity words are intentionally not appended;
// the retry casts the broadest net.
func buildRetryText(normArtist, normTitle string) string {
	stripped := strings.Trim(trailingRemixPattern.ReplaceAllString(normTitle, ""), " -,")
	return strings.ToLower(strings.TrimSpace(normArtist + " " + stripped))
}

// normalizeHandle strips the leading @ from handle-like words
// ("@jitwam Remix" -> "jitwam Remix").
func normalizeHandle(s string) string {
	return handleAtPattern.ReplaceAllString(s, "$1$2")
}

// remixMatchLevel reports how well a candidate title answers the query's
// remix intent: 2 when a token's identity words and a remix keyword are both
// present, 1 when only the identity is present, 0 otherwise.
func remixMatchLevel(remixTokens []string, titleLower string) int {
	for _, token := range remixTokens {
		words := remixIdentityWords(token)
		if len(words) == 0 {
			continue
		}
		for _, word := range words {
			if strings.Contains(titleLower, word) {
				if remixKeywordPattern.MatchString(titleLower) {
					return 2
				}
				return 1
			}
		}
	}
	return 0
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldForComparison lowercases, trims and strips combining diacritics so
// similarity comparison treats "Beyoncé" and "beyonce" as equal.
func foldForComparison(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return folded
}
