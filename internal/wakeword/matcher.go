package wakeword

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// matcher decides whether a transcript window contains the wake phrase.
//
// Matching is two-stage: Double Metaphone codes gate the candidate (so that
// mis-transcriptions like "lara" for "lala" still count when they sound
// alike), then Jaro-Winkler similarity on the raw strings ranks it. A
// candidate with phonetic overlap passes at the lower phonetic threshold;
// without overlap a higher fuzzy threshold applies.
//
// Read-only after construction, safe for concurrent use.
type matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newMatcher(phoneticThreshold, fuzzyThreshold float64) *matcher {
	if phoneticThreshold <= 0 {
		phoneticThreshold = defaultPhoneticThreshold
	}
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = defaultFuzzyThreshold
	}
	return &matcher{
		phoneticThreshold: phoneticThreshold,
		fuzzyThreshold:    fuzzyThreshold,
	}
}

// match scans transcript for phrase. On a hit it returns the text following
// the matched tokens (the start of the command, possibly empty) and the
// similarity score.
func (m *matcher) match(transcript, phrase string) (remainder string, confidence float64, ok bool) {
	phraseTokens := strings.Fields(strings.ToLower(strings.TrimSpace(phrase)))
	if len(phraseTokens) == 0 {
		return "", 0, false
	}
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(transcript)))
	if len(tokens) < len(phraseTokens) {
		return "", 0, false
	}

	phraseJoined := strings.Join(phraseTokens, " ")
	phraseCodes := phoneticCodes(phraseTokens)

	for start := 0; start+len(phraseTokens) <= len(tokens); start++ {
		window := tokens[start : start+len(phraseTokens)]
		score := matchr.JaroWinkler(strings.Join(window, " "), phraseJoined, false)

		threshold := m.fuzzyThreshold
		if codesOverlap(phoneticCodes(window), phraseCodes) {
			threshold = m.phoneticThreshold
		}
		if score >= threshold {
			rest := strings.Join(tokens[start+len(phraseTokens):], " ")
			return rest, score, true
		}
	}
	return "", 0, false
}

// phoneticCodes returns the union of Double Metaphone codes for the tokens.
// Empty codes are excluded.
func phoneticCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
