package librarian

import (
	"regexp"
	"strings"
	"unicode"

	"mcoda/internal/types"
)

// Stopwords excluded from keyword extraction. Kept short on purpose; the
// index tolerates noisy queries better than empty ones.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "is": true, "are": true,
	"was": true, "be": true, "been": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true, "as": true,
	"so": true, "we": true, "i": true, "you": true, "please": true,
	"should": true, "would": true, "could": true, "can": true, "will": true,
	"make": true, "do": true, "does": true, "have": true, "has": true,
	"when": true, "then": true, "than": true, "into": true, "also": true,
	"all": true, "any": true, "some": true, "not": true, "no": true,
	"new": true, "use": true, "using": true, "need": true, "needs": true,
	"want": true, "like": true, "get": true, "set": true,
}

var (
	rePathMention   = regexp.MustCompile(`(?:^|[\s"'` + "`" + `(])([a-zA-Z_.][a-zA-Z0-9_./-]*\.[a-zA-Z]{1,5})(?:[\s"'` + "`" + `):,]|$)`)
	reSymbolMention = regexp.MustCompile("`([a-zA-Z_][a-zA-Z0-9_.]*)`")
	reCamelOrSnake  = regexp.MustCompile(`\b([a-z]+[A-Z][a-zA-Z0-9]*|[a-z]+_[a-z0-9_]+)\b`)
	reQuotedPhrase  = regexp.MustCompile(`"([^"]{3,60})"`)
)

// extractQuerySignals pulls keywords and phrases out of the raw request.
// Identifiers (camelCase, snake_case, backticked symbols, path mentions)
// rank ahead of plain words.
func extractQuerySignals(request string) types.QuerySignals {
	seen := make(map[string]bool)
	var keywords []string

	add := func(word string) {
		w := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' && r != '/'
		})
		lower := strings.ToLower(w)
		if len(w) < 3 || stopwords[lower] || seen[lower] {
			return
		}
		seen[lower] = true
		keywords = append(keywords, w)
	}

	// Identifiers first: they carry the most retrieval signal.
	for _, m := range reSymbolMention.FindAllStringSubmatch(request, -1) {
		add(m[1])
	}
	for _, m := range rePathMention.FindAllStringSubmatch(request, -1) {
		add(m[1])
	}
	for _, m := range reCamelOrSnake.FindAllStringSubmatch(request, -1) {
		add(m[1])
	}
	for _, word := range strings.Fields(request) {
		add(word)
	}

	var phrases []string
	for _, m := range reQuotedPhrase.FindAllStringSubmatch(request, -1) {
		phrases = append(phrases, m[1])
	}

	return types.QuerySignals{Keywords: keywords, KeywordPhrases: phrases}
}

// mentionedPaths returns concrete file paths named in the request.
func mentionedPaths(request string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range rePathMention.FindAllStringSubmatch(request, -1) {
		p := m[1]
		if !seen[p] && strings.Contains(p, ".") {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// expandQueries builds the ordered query list: the raw request first, then
// caller-supplied additions, then keyword pairs, bounded by maxQueries.
func expandQueries(request string, signals types.QuerySignals, additional []string, maxQueries int) []string {
	seen := make(map[string]bool)
	var queries []string

	push := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" || seen[strings.ToLower(q)] || len(queries) >= maxQueries {
			return
		}
		seen[strings.ToLower(q)] = true
		queries = append(queries, q)
	}

	push(request)
	for _, q := range additional {
		push(q)
	}
	for _, p := range signals.KeywordPhrases {
		push(p)
	}

	// Pair adjacent keywords: two-term queries hit sparse indexes better
	// than single words.
	kw := signals.Keywords
	for i := 0; i+1 < len(kw) && len(queries) < maxQueries; i += 2 {
		push(kw[i] + " " + kw[i+1])
	}
	for _, k := range kw {
		push(k)
	}

	return queries
}

// adaptiveRetryQueries builds a second-chance query set from intent-derived
// keywords after a zero-hit first pass.
func adaptiveRetryQueries(signals types.QuerySignals, intents intentSet, maxQueries int) []string {
	seen := make(map[string]bool)
	var queries []string
	push := func(q string) {
		if q == "" || seen[q] || len(queries) >= maxQueries {
			return
		}
		seen[q] = true
		queries = append(queries, q)
	}

	for _, intent := range intents.names() {
		for _, term := range intentRetryTerms[intent] {
			push(term)
			for _, k := range signals.Keywords {
				push(k + " " + term)
			}
		}
	}
	for _, k := range signals.Keywords {
		push(k)
	}
	return queries
}
