package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	encoded, err := EncodeCursor(Cursor{CreatedAt: "2026-08-01T00:00:00Z", ID: "42"})
	require.NoError(t, err)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	require.Equal(t, "2026-08-01T00:00:00Z", decoded.CreatedAt)
	require.Equal(t, "42", decoded.ID)

	_, err = DecodeCursor("%%%not-base64%%%")
	require.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	type row struct{ ID string }
	extract := func(r *row) string { return r.ID }

	data, pageInfo := BuildCursorPageInfo([]*row{}, 2, extract)
	require.Empty(t, data)
	require.False(t, pageInfo.HasMore)

	data, pageInfo = BuildCursorPageInfo([]*row{{"a"}, {"b"}, {"c"}}, 2, extract)
	require.Len(t, data, 2)
	require.True(t, pageInfo.HasMore)
	require.Equal(t, "b", pageInfo.NextCursor)

	data, pageInfo = BuildCursorPageInfo([]*row{{"a"}, {"b"}}, 2, extract)
	require.Len(t, data, 2)
	require.False(t, pageInfo.HasMore)
	require.Equal(t, "b", pageInfo.NextCursor)
}
