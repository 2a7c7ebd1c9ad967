// Package lexeme classifies learnable content: which content types exist,
// which list kinds accept which content, and whether an entry is a
// conjugable word. All functions are pure.
package lexeme

// ContentType identifies what kind of learnable unit an entry is.
type ContentType string

const (
	ContentTypeKana       ContentType = "kana"
	ContentTypeKanji      ContentType = "kanji"
	ContentTypeVocabulary ContentType = "vocabulary"
	ContentTypeSentence   ContentType = "sentence"
	ContentTypePhrase     ContentType = "phrase"
	ContentTypeGrammar    ContentType = "grammar"
	ContentTypeCustom     ContentType = "custom"
)

func (t ContentType) String() string {
	return string(t)
}

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeKana, ContentTypeKanji, ContentTypeVocabulary,
		ContentTypeSentence, ContentTypePhrase, ContentTypeGrammar,
		ContentTypeCustom:
		return true
	}
	return false
}

// ParseContentType maps a stored string onto a ContentType, defaulting
// unknown values to custom so legacy rows keep loading.
func ParseContentType(s string) ContentType {
	if t := ContentType(s); t.Valid() {
		return t
	}
	return ContentTypeCustom
}

// ListKind identifies what a study list is for, which constrains the
// content types it accepts.
type ListKind string

const (
	// ListKindFlashcard lists accept any content type.
	ListKindFlashcard ListKind = "flashcard"
	// ListKindSentence lists accept sentences only.
	ListKindSentence ListKind = "sentence"
	// ListKindDrill lists accept only conjugable words and adjectives.
	ListKindDrill ListKind = "drill"
)

func (k ListKind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known list kinds.
func (k ListKind) Valid() bool {
	switch k {
	case ListKindFlashcard, ListKindSentence, ListKindDrill:
		return true
	}
	return false
}

// ParseListKind maps a stored string onto a ListKind, defaulting unknown
// values to flashcard, the least restrictive kind.
func ParseListKind(s string) ListKind {
	if k := ListKind(s); k.Valid() {
		return k
	}
	return ListKindFlashcard
}

// Entry is the slice of a saved item the classifier needs: its content
// type, display text, optional kana reading, and freeform tags (which may
// carry part-of-speech codes).
type Entry struct {
	ContentType ContentType
	Text        string
	Reading     string
	Tags        []string
}

// Accepts reports whether a list of this kind may contain the entry.
func (k ListKind) Accepts(entry Entry) bool {
	switch k {
	case ListKindSentence:
		return entry.ContentType == ContentTypeSentence
	case ListKindDrill:
		return IsConjugable(entry)
	default:
		return true
	}
}
