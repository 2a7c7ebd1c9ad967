// Package deck imports review items in bulk from XLSX decks. A deck row
// carries the display texts, an optional content type and optional tags;
// scheduling defaults are filled on create so every imported item starts
// as a new card.
package deck

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
	"github.com/moshimoshi/fukushu/store"
)

// DefaultSheet is the sheet read when the config names none.
const DefaultSheet = "Sheet1"

// defaultStartRow skips the header row.
const defaultStartRow = 2

// Deck column layout. Only the primary text is required.
//
//	A: primary text (word, kanji or sentence)
//	B: secondary text (reading)
//	C: tertiary text (meaning)
//	D: content type (kana, kanji, vocabulary, sentence, phrase, grammar, custom)
//	E: tags, comma separated
const (
	colPrimary = iota
	colSecondary
	colTertiary
	colContentType
	colTags
)

// Config describes one import run.
type Config struct {
	Path     string
	Sheet    string
	StartRow int // 1-based; rows above it are skipped
	UserID   string
	Tags     []string // applied to every imported item
}

// Result reports what the run did. Row-level failures are collected so a
// single bad row never aborts the deck.
type Result struct {
	TotalRows int      `json:"totalRows"`
	Created   int      `json:"created"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// ItemCreator is the slice of the store the importer needs.
type ItemCreator interface {
	CreateReviewItem(ctx context.Context, create *store.ReviewItem) (*store.ReviewItem, error)
}

// Import reads the deck at config.Path and creates one review item per row.
func Import(ctx context.Context, s ItemCreator, config Config) (*Result, error) {
	if config.UserID == "" {
		return nil, errs.ValidationFailed("userId is required")
	}
	if config.Sheet == "" {
		config.Sheet = DefaultSheet
	}
	if config.StartRow <= 0 {
		config.StartRow = defaultStartRow
	}

	f, err := excelize.OpenFile(config.Path)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeValidationFailed, "failed to open deck %s", config.Path)
	}
	defer f.Close()

	rows, err := f.GetRows(config.Sheet)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeValidationFailed, "failed to read sheet %s", config.Sheet)
	}

	result := &Result{}
	for i, row := range rows {
		if i < config.StartRow-1 {
			continue
		}
		result.TotalRows++

		item, err := itemFromRow(row, config)
		if err == nil {
			_, err = s.CreateReviewItem(ctx, item)
		}
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i+1, err))
			continue
		}
		result.Created++
	}
	return result, nil
}

func itemFromRow(row []string, config Config) (*store.ReviewItem, error) {
	primary := strings.TrimSpace(cell(row, colPrimary))
	if primary == "" {
		return nil, errors.New("primary text is empty")
	}

	// Decks are vocabulary-first; an explicit type cell overrides.
	contentType := lexeme.ContentTypeVocabulary
	if raw := strings.TrimSpace(cell(row, colContentType)); raw != "" {
		contentType = lexeme.ParseContentType(raw)
	}

	item := &store.ReviewItem{
		UserID:        config.UserID,
		ContentType:   contentType,
		PrimaryText:   primary,
		SecondaryText: strings.TrimSpace(cell(row, colSecondary)),
		TertiaryText:  strings.TrimSpace(cell(row, colTertiary)),
		Tags:          append([]string(nil), config.Tags...),
	}
	if raw := strings.TrimSpace(cell(row, colTags)); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				item.Tags = append(item.Tags, tag)
			}
		}
	}
	return item, nil
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}
