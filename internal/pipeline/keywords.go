package pipeline

import (
	"strings"
	"unicode"
)

const maxKeywords = 5

// stopWords are high-frequency Spanish function words that carry no retrieval
// signal. Candidates shorter than 4 runes are dropped before this filter.
var stopWords = map[string]struct{}{
	"para": {}, "como": {}, "pero": {}, "esta": {}, "este": {}, "esto": {},
	"cuando": {}, "donde": {}, "quien": {}, "porque": {}, "sobre": {},
	"entre": {}, "hasta": {}, "desde": {}, "muy": {}, "más": {}, "menos": {},
	"también": {}, "solo": {}, "todo": {}, "toda": {}, "todos": {}, "todas": {},
	"con": {}, "por": {}, "una": {}, "uno": {}, "unos": {}, "unas": {},
	"los": {}, "las": {}, "del": {}, "que": {}, "qué": {},
}

// importanceIndicators bump the heuristic importance of a memory. Each match
// adds 10 points on top of the base of 50.
var importanceIndicators = []string{
	"importante", "recuerda", "urgente", "siempre", "nunca",
	"médico", "trabajo", "familia",
}

// extractKeywords derives up to 5 retrieval keywords from text: lowercased,
// letters only, longer than 3 runes, stop words removed, first occurrence
// wins.
func extractKeywords(text string) []string {
	var keywords []string
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) })
		if len([]rune(word)) <= 3 || !alphabetic(word) {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

func alphabetic(word string) bool {
	if word == "" {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// scoreImportance rates text on a 0-100 scale: base 50, +10 per matched
// importance indicator.
func scoreImportance(text string) int {
	lowered := strings.ToLower(text)
	score := 50
	for _, indicator := range importanceIndicators {
		if strings.Contains(lowered, indicator) {
			score += 10
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}
