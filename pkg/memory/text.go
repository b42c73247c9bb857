package memory

import "strings"

// stopwords excluded from keyword sets. Keeping the list short biases toward
// recall; consolidation thresholds absorb the extra noise.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "i": true, "in": true, "is": true, "it": true,
	"my": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "were": true, "with": true,
	"you": true, "your": true,
}

// Tokenize lowercases text and splits it into word tokens, stripping
// punctuation at token boundaries.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '\''
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Keywords returns the stopword-filtered set of tokens in text. These are the
// topic keywords used for fast-path overlap checks and consolidation.
func Keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range Tokenize(text) {
		if stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// OverlapRatio computes |A∩B| / min(|A|,|B|) for two string sets. Used for
// entity and topic overlap during pre-budget consolidation.
func OverlapRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(a))
	for _, w := range a {
		setA[strings.ToLower(w)] = true
	}

	inter := 0
	seenB := make(map[string]bool, len(b))
	for _, w := range b {
		w = strings.ToLower(w)
		if seenB[w] {
			continue
		}
		seenB[w] = true
		if setA[w] {
			inter++
		}
	}

	minLen := len(setA)
	if len(seenB) < minLen {
		minLen = len(seenB)
	}
	if minLen == 0 {
		return 0
	}
	return float64(inter) / float64(minLen)
}

// SplitSentences splits text into sentences on terminal punctuation.
// Good enough for consolidation; no abbreviation handling.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(cur.String())
			if s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// UnionStrings merges two string slices, preserving order of first
// appearance and dropping case-insensitive duplicates.
func UnionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(s)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
