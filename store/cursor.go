package store

import (
	"encoding/base64"
	"encoding/json"

	"github.com/moshimoshi/fukushu/internal/errs"
)

const (
	// DefaultPageSize bounds listings that did not ask for a limit.
	DefaultPageSize = 50
	// MaxPageSize is the hard cap for one page.
	MaxPageSize = 200
)

// Cursor is an opaque keyset position: the sort key of the last row of the
// previous page. Paged listings order by (updatedTs, id) descending, so the
// next page is everything strictly before the cursor.
type Cursor struct {
	UpdatedTs int64  `json:"u"`
	ID        string `json:"id"`
}

// EncodeCursor packs a sort key into an opaque page token.
func EncodeCursor(updatedTs int64, id string) string {
	raw, err := json.Marshal(Cursor{UpdatedTs: updatedTs, ID: id})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor unpacks a page token. Tokens are client-supplied, so every
// malformed token is a validation failure, never a panic.
func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errs.ValidationFailed("malformed page token")
	}
	cursor := &Cursor{}
	if err := json.Unmarshal(raw, cursor); err != nil {
		return nil, errs.ValidationFailed("malformed page token")
	}
	if cursor.ID == "" {
		return nil, errs.ValidationFailed("malformed page token")
	}
	return cursor, nil
}

// NormalizeLimit clamps a requested page size into (0, MaxPageSize].
func NormalizeLimit(limit *int) int {
	if limit == nil || *limit <= 0 {
		return DefaultPageSize
	}
	if *limit > MaxPageSize {
		return MaxPageSize
	}
	return *limit
}
