package extract

import (
	"regexp"
	"strings"
)

// stopwords is the closed set of words never accepted as entity names.
// Both extraction paths re-validate against it even though the LLM is
// instructed to skip them.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "its": true, "they": true,
	"them": true, "their": true, "he": true, "she": true, "his": true,
	"her": true, "we": true, "our": true, "you": true, "your": true,
	"i": true, "me": true, "my": true, "and": true, "or": true, "but": true,
	"if": true, "then": true, "else": true, "when": true, "where": true,
	"which": true, "who": true, "whom": true, "what": true, "why": true,
	"how": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "should": true, "could": true, "can": true, "may": true,
	"might": true, "must": true, "shall": true, "not": true, "no": true,
	"yes": true, "of": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "with": true, "by": true, "from": true, "about": true,
	"as": true, "into": true, "through": true, "during": true, "before": true,
	"after": true, "above": true, "below": true, "up": true, "down": true,
	"out": true, "off": true, "over": true, "under": true, "again": true,
	"also": true, "just": true, "only": true, "very": true, "so": true,
	"too": true, "more": true, "most": true, "some": true, "any": true,
	"all": true, "both": true, "each": true, "few": true, "other": true,
	"such": true, "there": true, "here": true, "now": true, "ok": true,
	"okay": true, "hello": true, "hi": true, "thanks": true, "thank": true,
	"please": true, "new": true, "old": true, "good": true, "bad": true,
	"first": true, "last": true, "next": true, "today": true,
	"tomorrow": true, "yesterday": true,
}

// nonEntityPhrases match capitalized spans that look like entities but are
// sentence scaffolding, not names.
var nonEntityPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(the|a|an)\s`),
	regexp.MustCompile(`(?i)^(note|update|status|summary|question|answer|reminder|warning|error)\b`),
	regexp.MustCompile(`(?i)^(monday|tuesday|wednesday|thursday|friday|saturday|sunday)$`),
	regexp.MustCompile(`(?i)^(january|february|march|april|may|june|july|august|september|october|november|december)$`),
	regexp.MustCompile(`(?i)^(i|we|you|they|he|she|it)\s`),
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`(?i)^(am|pm|etc|eg|ie)\.?$`),
}

// FilterReason explains why a candidate was rejected, for the per-batch
// metric counter.
type FilterReason string

const (
	FilterStopword        FilterReason = "stopword"
	FilterNonEntityPhrase FilterReason = "non_entity_phrase"
	FilterTooShort        FilterReason = "too_short"
	FilterLowConfidence   FilterReason = "low_confidence"
)

// rejectName screens a candidate entity name. Returns the filter reason and
// true when the name must be dropped.
func rejectName(name string, minLength int) (FilterReason, bool) {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < minLength {
		return FilterTooShort, true
	}
	if stopwords[strings.ToLower(trimmed)] {
		return FilterStopword, true
	}
	for _, re := range nonEntityPhrases {
		if re.MatchString(trimmed) {
			return FilterNonEntityPhrase, true
		}
	}
	return "", false
}
