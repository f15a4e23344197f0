package processing

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/width"
)

// MaxKeywordLength caps the sanitized query sent to the retail search API.
const MaxKeywordLength = 120

// ShortKeywordTokens is how many tokens survive ShortenKeyword.
const ShortKeywordTokens = 6

var (
	modelToken = regexp.MustCompile(`[A-Za-z]*\d{2,}[A-Za-z0-9\-]*`)
	katakana   = regexp.MustCompile(`[\x{30A0}-\x{30FF}]`)
	latin      = regexp.MustCompile(`[A-Za-z]`)
)

var (
	whitespace = regexp.MustCompile(`[\p{Z}\s]+`)
	disallowed = regexp.MustCompile(`[^\p{L}\p{N}_\x{3040}-\x{309F}\x{30A0}-\x{30FF}\x{4E00}-\x{9FFF}\-\+ ]`)
	spaces     = regexp.MustCompile(` {2,}`)
)

var productHints = []string{"レビュー", "比較", "おすすめ", "型番", "最安値"}

var stripPolicy = bluemonday.StrictPolicy()

// IsProductLike reports whether a trending term reads like a product query.
// Rules are checked in order and the first match decides.
func IsProductLike(term string) bool {
	t := strings.TrimSpace(term)
	if utf8.RuneCountInString(t) <= 1 {
		return false
	}

	// Full-width model numbers (ＲＸ１００) fold to ASCII here. Enclosed
	// numerals such as ① are left alone and never count as digits.
	folded := width.Fold.String(t)
	if modelToken.MatchString(folded) {
		return true
	}
	if katakana.MatchString(t) {
		return true
	}
	for _, hint := range productHints {
		if strings.Contains(t, hint) {
			return true
		}
	}
	if latin.MatchString(folded) && utf8.RuneCountInString(t) <= 20 {
		return true
	}
	return false
}

// FilterProducts keeps product-like terms in order. noFilter passes everything through.
func FilterProducts(terms []string, noFilter bool) []string {
	if noFilter {
		out := make([]string, len(terms))
		copy(out, terms)
		return out
	}
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if IsProductLike(term) {
			out = append(out, term)
		}
	}
	return out
}

// SanitizeKeyword prepares a term for the retail search API: whitespace is
// collapsed, characters outside word characters, kana, CJK ideographs, '-'
// and '+' are blanked, and the result is capped at MaxKeywordLength runes.
func SanitizeKeyword(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	s = disallowed.ReplaceAllString(s, " ")
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))
	return truncateRunes(s, MaxKeywordLength)
}

// ShortenKeyword keeps the first ShortKeywordTokens space separated tokens.
func ShortenKeyword(s string) string {
	fields := strings.Fields(s)
	if len(fields) > ShortKeywordTokens {
		fields = fields[:ShortKeywordTokens]
	}
	return strings.Join(fields, " ")
}

// CleanTerm strips markup and entities from a term reported by an upstream feed.
func CleanTerm(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(stripPolicy.Sanitize(raw))
	return strings.Join(strings.Fields(text), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
