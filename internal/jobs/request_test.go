package jobs

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/api/internal/models"
)

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func TestRequestFromJob_RebuildsAssetsFromDetails(t *testing.T) {
	first := []byte("first-frame")
	last := []byte("last-frame")
	ref := []byte("reference")

	job := models.Job{
		ResourceType: models.ResourceVideo,
		Model:        "veo-3.1-fast-generate-preview",
		Prompt:       "a fox at dawn",
		Details: map[string]any{
			"negativePrompt":  "rain",
			"firstFrame":      dataURL("image/jpeg", first),
			"lastFrame":       dataURL("image/png", last),
			"referenceImages": []string{dataURL("image/webp", ref)},
		},
	}

	req, err := requestFromJob(job)
	require.NoError(t, err)

	assert.Equal(t, "a fox at dawn", req.Prompt)
	assert.Equal(t, "rain", req.NegativePrompt)
	require.NotNil(t, req.FirstFrame)
	assert.Equal(t, first, req.FirstFrame.Bytes)
	assert.Equal(t, "image/jpeg", req.FirstFrame.MimeType)
	require.NotNil(t, req.LastFrame)
	assert.Equal(t, last, req.LastFrame.Bytes)
	require.Len(t, req.ReferenceImages, 1)
	assert.Equal(t, ref, req.ReferenceImages[0].Bytes)
	assert.Equal(t, "image/webp", req.ReferenceImages[0].MimeType)
}

func TestRequestFromJob_HandlesJSONBRoundTripShapes(t *testing.T) {
	// JSONB decoding turns []string into []any.
	job := models.Job{
		Prompt: "p",
		Details: map[string]any{
			"referenceImages": []any{dataURL("image/png", []byte("one"))},
		},
	}

	req, err := requestFromJob(job)
	require.NoError(t, err)
	require.Len(t, req.ReferenceImages, 1)
	assert.Equal(t, []byte("one"), req.ReferenceImages[0].Bytes)
}

func TestRequestFromJob_NoDetails(t *testing.T) {
	req, err := requestFromJob(models.Job{Prompt: "plain"})
	require.NoError(t, err)
	assert.Nil(t, req.FirstFrame)
	assert.Empty(t, req.ReferenceImages)
}

func TestDecodeDataURL(t *testing.T) {
	asset, err := decodeDataURL(base64.StdEncoding.EncodeToString([]byte("bare")))
	require.NoError(t, err)
	assert.Equal(t, []byte("bare"), asset.Bytes)
	assert.Equal(t, "image/png", asset.MimeType, "bare base64 defaults to png")

	_, err = decodeDataURL("data:image/png;base64,@@not-base64@@")
	require.Error(t, err)
}
