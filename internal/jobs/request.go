package jobs

import (
	"encoding/base64"
	"fmt"
	"strings"

	"mediaforge/api/internal/models"
	"mediaforge/api/internal/provider"
)

// Detail keys under which generation parameters are persisted on the job
// row. Reference assets are stored as data URLs so a submit can be replayed
// after a restart.
const (
	detailNegativePrompt  = "negativePrompt"
	detailFirstFrame      = "firstFrame"
	detailLastFrame       = "lastFrame"
	detailReferenceImages = "referenceImages"
)

func requestFromJob(job models.Job) (provider.Request, error) {
	req := provider.Request{
		ResourceType: job.ResourceType,
		Model:        job.Model,
		Prompt:       job.Prompt,
	}

	if job.Details == nil {
		return req, nil
	}

	if v, ok := job.Details[detailNegativePrompt].(string); ok {
		req.NegativePrompt = v
	}

	if v, ok := job.Details[detailFirstFrame].(string); ok && v != "" {
		asset, err := decodeDataURL(v)
		if err != nil {
			return provider.Request{}, fmt.Errorf("first frame: %w", err)
		}
		req.FirstFrame = asset
	}

	if v, ok := job.Details[detailLastFrame].(string); ok && v != "" {
		asset, err := decodeDataURL(v)
		if err != nil {
			return provider.Request{}, fmt.Errorf("last frame: %w", err)
		}
		req.LastFrame = asset
	}

	for i, encoded := range referenceStrings(job.Details[detailReferenceImages]) {
		if encoded == "" {
			continue
		}
		asset, err := decodeDataURL(encoded)
		if err != nil {
			return provider.Request{}, fmt.Errorf("reference image %d: %w", i, err)
		}
		req.ReferenceImages = append(req.ReferenceImages, *asset)
	}

	return req, nil
}

// referenceStrings tolerates both the in-process shape ([]string) and the
// shape JSONB round-trips produce ([]any).
func referenceStrings(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// decodeDataURL accepts "data:image/png;base64,...." or a bare base64
// string, defaulting the mime type to image/png.
func decodeDataURL(raw string) (*provider.Asset, error) {
	mimeType := "image/png"
	payload := raw

	if header, rest, found := strings.Cut(raw, ","); found && strings.HasPrefix(header, "data:") {
		payload = rest
		header = strings.TrimPrefix(header, "data:")
		if mt, _, _ := strings.Cut(header, ";"); mt != "" {
			mimeType = mt
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return &provider.Asset{Bytes: data, MimeType: mimeType}, nil
}
