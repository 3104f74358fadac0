package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "agrilink/pkg/errors"
)

func TestCursorRoundTrip(t *testing.T) {
	encoded := Cursor{Seq: 42}.Encode()

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, int64(42), decoded.Seq)
}

func TestDecodeCursorEmpty(t *testing.T) {
	decoded, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), decoded.Seq)
}

func TestDecodeCursorMalformed(t *testing.T) {
	for _, raw := range []string{"not base64!!", "bm9wZQ", "c2VxOmFiYw"} {
		_, err := DecodeCursor(raw)
		assert.True(t, apperrors.Is(err, "BAD_REQUEST"), "cursor %q should be rejected", raw)
	}
}
