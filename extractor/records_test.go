package extractor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecords_WholeArray(t *testing.T) {
	output := `[
  [2, {"tweet_id": 1790000000000000002, "author": {"name": "alice"}, "reply_id": 1790000000000000001}],
  [3, "https://pbs.twimg.com/media/a.jpg", {"tweet_id": 1790000000000000002, "author": {"name": "alice"}, "reply_id": 1790000000000000001}]
]`
	records, err := ParseRecords([]byte(output))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, TypeReference, records[0].Type)
	assert.Equal(t, "1790000000000000002", records[0].TweetID)
	assert.Equal(t, "alice", records[0].Author)
	assert.Equal(t, "1790000000000000001", records[0].ReplyID)

	assert.Equal(t, TypeMedia, records[1].Type)
	assert.Equal(t, "https://pbs.twimg.com/media/a.jpg", records[1].URL)
}

func TestParseRecords_JSONLinesWithNoise(t *testing.T) {
	output := "[1, \"gallery-dl 1.27\"]\n" +
		"warning: rate limited\n" +
		`[2, {"tweet_id": "10", "author": {"name": "bob"}, "reply_id": 0}]` + "\n"

	records, err := ParseRecords([]byte(output))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "10", records[0].TweetID)
	assert.Empty(t, records[0].ReplyID, "reply_id 0 marks a thread root")
}

func TestParseRecords_Failures(t *testing.T) {
	_, err := ParseRecords([]byte("   \n"))
	assert.True(t, errors.Is(err, ErrNoRecords))

	_, err = ParseRecords([]byte(`[]`))
	assert.True(t, errors.Is(err, ErrNoRecords))

	_, err = ParseRecords([]byte("<html>blocked</html>"))
	assert.Error(t, err)
}

func TestParseRecords_BareObject(t *testing.T) {
	records, err := ParseRecords([]byte(`{"tweet_id": 5, "author": {"name": "carol"}}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "5", records[0].TweetID)
	assert.Equal(t, "carol", records[0].Author)
}
