package entity

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	apperrors "agrilink/pkg/errors"
)

// Cursor marks a position in a conversation's log by message sequence.
// It stays valid while new messages are appended because sequences are
// immutable and monotonically increasing.
type Cursor struct {
	Seq int64
}

// Encode renders the cursor opaque for transport.
func (c Cursor) Encode() string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("seq:%d", c.Seq)))
}

// DecodeCursor parses a cursor produced by Encode. An empty string is
// the zero cursor (start of the listing).
func DecodeCursor(raw string) (Cursor, error) {
	if raw == "" {
		return Cursor{}, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Cursor{}, apperrors.BadRequest("malformed pagination cursor", err)
	}
	payload := string(decoded)
	if !strings.HasPrefix(payload, "seq:") {
		return Cursor{}, apperrors.BadRequest("malformed pagination cursor", nil)
	}
	seq, err := strconv.ParseInt(strings.TrimPrefix(payload, "seq:"), 10, 64)
	if err != nil {
		return Cursor{}, apperrors.BadRequest("malformed pagination cursor", err)
	}
	return Cursor{Seq: seq}, nil
}
