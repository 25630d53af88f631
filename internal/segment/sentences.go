package segment

import (
	"strings"
	"unicode"
)

// abbreviations that should not terminate a sentence when followed by a
// period. Compared lowercase, without the trailing period.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "st": {},
	"vs": {}, "etc": {}, "approx": {}, "dept": {}, "est": {},
	"fig": {}, "no": {}, "inc": {}, "ltd": {}, "jr": {}, "sr": {},
	"e.g": {}, "i.e": {}, "cf": {},
}

// SplitSentences splits text into sentences using rule-based boundary
// detection: terminal punctuation followed by whitespace and an uppercase
// letter or digit, tolerant of common abbreviations. Whitespace is collapsed
// first, so paragraph structure does not survive; only sentence order does.
func SplitSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}

		// Consume the punctuation run plus any closing quotes/brackets.
		end := i + 1
		for end < len(runes) && (isTerminal(runes[end]) || isClosing(runes[end])) {
			end++
		}
		if end >= len(runes) {
			break // final sentence handled after the loop
		}
		if runes[end] != ' ' {
			i = end - 1
			continue
		}

		// Next non-space rune must look like a sentence opener.
		next := end
		for next < len(runes) && runes[next] == ' ' {
			next++
		}
		if next >= len(runes) {
			break
		}
		if !unicode.IsUpper(runes[next]) && !unicode.IsDigit(runes[next]) && !isOpening(runes[next]) {
			i = end - 1
			continue
		}

		if runes[i] == '.' && endsWithAbbreviation(runes[:i]) {
			i = end - 1
			continue
		}

		sentence := strings.TrimSpace(string(runes[start:end]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = next
		i = next - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClosing(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”'
}

func isOpening(r rune) bool {
	return r == '"' || r == '“' || r == '('
}

// endsWithAbbreviation reports whether the text before a period ends in a
// known abbreviation (e.g. "Dr", "e.g").
func endsWithAbbreviation(before []rune) bool {
	end := len(before)
	startOfWord := end
	for startOfWord > 0 {
		r := before[startOfWord-1]
		if r == ' ' {
			break
		}
		startOfWord--
	}
	word := strings.ToLower(string(before[startOfWord:end]))
	word = strings.TrimSuffix(word, ".")
	if _, ok := abbreviations[word]; ok {
		return true
	}
	// Single capital letter, e.g. an initial like "J."
	if len(word) == 1 {
		return true
	}
	return false
}
