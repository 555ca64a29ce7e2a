package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-keeper/models"
)

// fakeTool writes an executable shell script standing in for gallery-dl.
func fakeTool(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "gallery-dl")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestGalleryDL_Metadata(t *testing.T) {
	script := fakeTool(t, `echo '[[2, {"tweet_id": 42, "author": {"name": "alice"}, "reply_id": 41}]]'`)
	tool := NewGalleryDL(models.ExtractorConfig{Command: script})

	records, err := tool.Metadata(context.Background(), "https://x.com/alice/status/42")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "42", records[0].TweetID)
	assert.Equal(t, "41", records[0].ReplyID)
}

func TestGalleryDL_ExitOneIsSuccess(t *testing.T) {
	script := fakeTool(t, `echo '[[2, {"tweet_id": 1, "author": {"name": "a"}}]]'; exit 1`)
	tool := NewGalleryDL(models.ExtractorConfig{Command: script})

	records, err := tool.Metadata(context.Background(), "https://x.com/a/status/1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGalleryDL_MaterializeRetriesThenFails(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "calls")
	script := fakeTool(t, `echo x >> `+counter+`; echo "boom" >&2; exit 4`)
	tool := NewGalleryDL(models.ExtractorConfig{Command: script, Retries: 3})

	err := tool.Materialize(context.Background(), Request{URLs: []string{"https://x.com/a/status/1"}, DestDir: dir})
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 4, exitErr.Code)
	assert.Equal(t, "boom", exitErr.Stderr)

	calls, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, "x\nx\nx\n", string(calls))
}

func TestGalleryDL_MaterializePassesArguments(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := fakeTool(t, `for a in "$@"; do printf '%s\n' "$a" >> `+argsFile+`; done`)
	tool := NewGalleryDL(models.ExtractorConfig{Command: script, CookiesFile: "/c.txt", PixivRefreshToken: "tok"})

	err := tool.Materialize(context.Background(), Request{
		URLs:             []string{"https://x.com/a/status/1"},
		DestDir:          dir,
		FilenameTemplate: "{tweet_id}.{extension}",
		ExcludeFile:      "/tmp/ids.txt",
		Mode:             ModeCollection,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "-D\n"+dir+"\n"+
		"-o\nfilename={tweet_id}.{extension}\n"+
		"--filter\n"+ExcludeFilter("/tmp/ids.txt")+"\n"+
		"--cookies\n/c.txt\n-o\nextractor.twitter.conversations=true\n"+
		"-o\nextractor.pixiv.refresh-token=tok\n"+
		"https://x.com/a/status/1\n", string(data))
}

func TestGalleryDL_MissingBinary(t *testing.T) {
	tool := NewGalleryDL(models.ExtractorConfig{Command: filepath.Join(t.TempDir(), "nope")})

	err := tool.Materialize(context.Background(), Request{URLs: []string{"u"}, DestDir: t.TempDir()})
	assert.True(t, errors.Is(err, ErrToolUnavailable))
}

func TestGalleryDL_Timeout(t *testing.T) {
	script := fakeTool(t, `exec sleep 5`)
	tool := NewGalleryDL(models.ExtractorConfig{Command: script, MetadataTimeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := tool.Metadata(context.Background(), "https://x.com/a/status/1")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExcludeFilter(t *testing.T) {
	assert.Equal(t,
		"str(tweet_id) not in open('/tmp/ex.txt', encoding='utf-8').read().splitlines()",
		ExcludeFilter("/tmp/ex.txt"))
}
