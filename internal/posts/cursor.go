package posts

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for cursors that are not "<epoch ms>" or "<epoch ms>:<id>"
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks a position in the newest-first feed. ID is zero for
// timestamp-only cursors.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// EncodeCursor returns the cursor pointing just past a post
func EncodeCursor(createdAt time.Time, id int64) string {
	return strconv.FormatInt(createdAt.UnixMilli(), 10) + ":" + strconv.FormatInt(id, 10)
}

// DecodeCursor parses a cursor produced by EncodeCursor or a bare epoch-ms timestamp
func DecodeCursor(s string) (*Cursor, error) {
	msPart, idPart, hasID := strings.Cut(s, ":")

	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil || ms < 0 {
		return nil, ErrInvalidCursor
	}
	c := &Cursor{CreatedAt: time.UnixMilli(ms).UTC()}

	if hasID {
		id, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil || id <= 0 {
			return nil, ErrInvalidCursor
		}
		c.ID = id
	}
	return c, nil
}
