package gemini_test

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/gemini-media-service/internal/gemini"
)

func TestSelectStrategy(t *testing.T) {
	t.Parallel()

	const threshold = gemini.DefaultInlineThresholdBytes

	testCases := []struct {
		name     string
		size     int64
		expected gemini.Strategy
	}{
		{name: "empty file", size: 0, expected: gemini.StrategyInline},
		{name: "small file", size: 5_000_000, expected: gemini.StrategyInline},
		{name: "one below threshold", size: threshold - 1, expected: gemini.StrategyInline},
		{name: "exactly threshold", size: threshold, expected: gemini.StrategyResumable},
		{name: "one above threshold", size: threshold + 1, expected: gemini.StrategyResumable},
		{name: "large file", size: 50_000_000, expected: gemini.StrategyResumable},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, gemini.SelectStrategy(testCase.size, threshold))
		})
	}
}

func TestSelectStrategy_ThresholdIsConfigurable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, gemini.StrategyInline, gemini.SelectStrategy(99, 100))
	assert.Equal(t, gemini.StrategyResumable, gemini.SelectStrategy(100, 100))
	assert.Equal(t, gemini.StrategyResumable, gemini.SelectStrategy(0, 0))
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	strategy, forced, err := gemini.ParseStrategy("")
	require.NoError(t, err)
	assert.False(t, forced)
	assert.Equal(t, gemini.Strategy(0), strategy)

	strategy, forced, err = gemini.ParseStrategy("Inline")
	require.NoError(t, err)
	assert.True(t, forced)
	assert.Equal(t, gemini.StrategyInline, strategy)

	strategy, forced, err = gemini.ParseStrategy("resumable")
	require.NoError(t, err)
	assert.True(t, forced)
	assert.Equal(t, gemini.StrategyResumable, strategy)

	_, _, err = gemini.ParseStrategy("carrier-pigeon")
	require.ErrorIs(t, err, gemini.ErrInvalidConfiguration)

	assert.Equal(t, "inline", gemini.StrategyInline.String())
	assert.Equal(t, "resumable", gemini.StrategyResumable.String())
}

func TestEncodeInline_RoundTrip(t *testing.T) {
	t.Parallel()

	multiMegabyte := bytes.Repeat([]byte{0x00, 0xff, 0x10, 0x80, 0x7f}, 700_000)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "one byte", data: []byte{0xfe}},
		{name: "multi megabyte", data: multiMegabyte},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			payload := gemini.EncodeInline(testCase.data, "video/mp4")
			assert.Equal(t, "video/mp4", payload.MimeType)

			decoded, err := base64.StdEncoding.DecodeString(payload.Data)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(testCase.data, decoded))
		})
	}
}

func TestNewMediaAssetFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lecture.mp4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{1}, 2048), 0o600))

	asset, err := gemini.NewMediaAssetFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, path, asset.LocalPath)
	assert.Equal(t, int64(2048), asset.SizeBytes)
	assert.Equal(t, "video/mp4", asset.MimeType)
	assert.Equal(t, "lecture.mp4", asset.DisplayName)
	require.NoError(t, asset.Validate())
}

func TestNewMediaAssetFromFile_Rejects(t *testing.T) {
	t.Parallel()

	_, err := gemini.NewMediaAssetFromFile("")
	require.ErrorIs(t, err, gemini.ErrInvalidConfiguration)

	_, err = gemini.NewMediaAssetFromFile(filepath.Join(t.TempDir(), "missing.mp4"))
	require.ErrorIs(t, err, gemini.ErrInvalidConfiguration)

	_, err = gemini.NewMediaAssetFromFile(t.TempDir())
	require.ErrorIs(t, err, gemini.ErrInvalidConfiguration)
}

func TestMediaAsset_Validate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, gemini.MediaAsset{MimeType: "", SizeBytes: 1}.Validate(), gemini.ErrInvalidConfiguration)
	require.ErrorIs(t, gemini.MediaAsset{MimeType: "video/mp4", SizeBytes: -1}.Validate(), gemini.ErrInvalidConfiguration)
}
