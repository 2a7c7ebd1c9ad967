package lexeme

import "strings"

// Explicit tags that settle conjugability without consulting the other tiers.
const (
	TagConjugable    = "conjugable"
	TagNonConjugable = "non-conjugable"
)

// Part-of-speech tags (JMdict-style codes plus their spelled-out forms)
// naming word classes that inflect.
var conjugablePOS = map[string]bool{
	"v1":          true, // ichidan
	"vk":          true, // kuru
	"vs":          true, // suru
	"vs-i":        true,
	"vz":          true,
	"verb":        true,
	"adj-i":       true,
	"i-adjective": true,
}

// Part-of-speech tags naming word classes that never inflect on their own.
var nonConjugablePOS = map[string]bool{
	"n":            true,
	"noun":         true,
	"pn":           true,
	"pronoun":      true,
	"prt":          true,
	"particle":     true,
	"adv":          true,
	"adverb":       true,
	"adj-na":       true,
	"na-adjective": true,
	"exp":          true,
	"expression":   true,
	"int":          true,
	"interjection": true,
	"conj":         true,
	"conjunction":  true,
	"ctr":          true,
	"counter":      true,
	"num":          true,
}

// Dictionary-form verb endings: the う-row kana, plus い for i-adjectives.
var conjugableEndings = map[rune]bool{
	'う': true,
	'く': true,
	'ぐ': true,
	'す': true,
	'つ': true,
	'ぬ': true,
	'ぶ': true,
	'む': true,
	'る': true,
	'い': true,
}

// IsConjugable reports whether the entry is a word that inflects (a verb or
// an i-adjective). Only word-like content is eligible; for those, three
// tiers are consulted in order and the first one that has an answer wins:
//
//  1. an explicit conjugable / non-conjugable tag,
//  2. recognized part-of-speech tags,
//  3. the trailing-kana heuristic on the reading (or text).
func IsConjugable(entry Entry) bool {
	switch entry.ContentType {
	case ContentTypeVocabulary, ContentTypeCustom:
	default:
		return false
	}

	if v, ok := conjugableByTag(entry.Tags); ok {
		return v
	}
	if v, ok := conjugableByPOS(entry.Tags); ok {
		return v
	}
	surface := entry.Reading
	if surface == "" {
		surface = entry.Text
	}
	return conjugableByEnding(surface)
}

// conjugableByTag is tier 1: an explicit tag decides, either way.
func conjugableByTag(tags []string) (conjugable, ok bool) {
	for _, tag := range tags {
		switch strings.ToLower(strings.TrimSpace(tag)) {
		case TagConjugable:
			return true, true
		case TagNonConjugable:
			return false, true
		}
	}
	return false, false
}

// conjugableByPOS is tier 2: a recognized part-of-speech tag decides.
// Unrecognized tags fall through to the ending heuristic.
func conjugableByPOS(tags []string) (conjugable, ok bool) {
	decided := false
	for _, tag := range tags {
		pos := strings.ToLower(strings.TrimSpace(tag))
		// v5, v5k, v5s, ... cover the godan conjugation rows.
		if conjugablePOS[pos] || strings.HasPrefix(pos, "v5") {
			return true, true
		}
		if nonConjugablePOS[pos] {
			decided = true
		}
	}
	if decided {
		return false, true
	}
	return false, false
}

// conjugableByEnding is tier 3: dictionary-form verbs end in an う-row kana
// and i-adjectives end in い. A heuristic, so nouns like さる stay false
// positives unless tagged.
func conjugableByEnding(surface string) bool {
	surface = strings.TrimSpace(surface)
	if surface == "" {
		return false
	}
	runes := []rune(surface)
	return conjugableEndings[runes[len(runes)-1]]
}
