package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"mediaforge/api/internal/config"
)

const apiKeyHeader = "x-goog-api-key"

// RESTClient talks to a Veo/Imagen-style generative API. Video submissions
// go through a predictLongRunning endpoint whose response is an operation
// name; polling reads the operation until done, then downloads the result
// from the returned file URI.
type RESTClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

var _ Client = (*RESTClient)(nil)

func NewRESTClient(cfg config.ProviderConfig, log zerolog.Logger) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		log:     log,
	}
}

type inlineImage struct {
	ImageBytes string `json:"bytesBase64Encoded,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
}

type videoInstance struct {
	Prompt string       `json:"prompt"`
	Image  *inlineImage `json:"image,omitempty"`
}

type videoParameters struct {
	NegativePrompt  string        `json:"negativePrompt,omitempty"`
	LastFrame       *inlineImage  `json:"lastFrame,omitempty"`
	ReferenceImages []inlineImage `json:"referenceImages,omitempty"`
}

func encodeAsset(a *Asset) *inlineImage {
	if a == nil {
		return nil
	}
	return &inlineImage{
		ImageBytes: base64.StdEncoding.EncodeToString(a.Bytes),
		MimeType:   a.MimeType,
	}
}

func (c *RESTClient) Submit(ctx context.Context, req Request) (Handle, error) {
	params := videoParameters{
		NegativePrompt: req.NegativePrompt,
		LastFrame:      encodeAsset(req.LastFrame),
	}
	for _, ref := range req.ReferenceImages {
		img := encodeAsset(&ref)
		params.ReferenceImages = append(params.ReferenceImages, *img)
	}

	body := map[string]any{
		"instances":  []videoInstance{{Prompt: req.Prompt, Image: encodeAsset(req.FirstFrame)}},
		"parameters": params,
	}

	url := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, req.Model)
	respBody, err := c.post(ctx, url, body)
	if err != nil {
		return "", err
	}

	var resp struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if resp.Name == "" {
		return "", fmt.Errorf("submit response missing operation name")
	}
	return Handle(resp.Name), nil
}

type operationResponse struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

func (c *RESTClient) Poll(ctx context.Context, handle Handle) (PollResult, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, string(handle))
	respBody, err := c.get(ctx, url)
	if err != nil {
		return PollResult{}, err
	}

	var op operationResponse
	if err := json.Unmarshal(respBody, &op); err != nil {
		return PollResult{}, fmt.Errorf("decode operation: %w", err)
	}

	if !op.Done {
		return PollResult{State: PollPending}, nil
	}
	if op.Error != nil {
		return PollResult{State: PollFailed, Reason: op.Error.Message}, nil
	}

	if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		// Done without payload or error is a provider-side anomaly.
		return PollResult{State: PollFailed, Reason: "operation finished with no generated video"}, nil
	}

	uri := op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI
	payload, err := c.download(ctx, uri)
	if err != nil {
		return PollResult{}, fmt.Errorf("download result: %w", err)
	}

	return PollResult{State: PollDone, Payload: payload, MimeType: "video/mp4"}, nil
}

func (c *RESTClient) GenerateSync(ctx context.Context, req Request) (Artifact, error) {
	body := map[string]any{
		"instances": []videoInstance{{Prompt: req.Prompt}},
		"parameters": map[string]any{
			"sampleCount": 1,
		},
	}

	url := fmt.Sprintf("%s/models/%s:predict", c.baseURL, req.Model)
	respBody, err := c.post(ctx, url, body)
	if err != nil {
		return Artifact{}, err
	}

	var resp struct {
		Predictions []struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded"`
			MimeType           string `json:"mimeType"`
		} `json:"predictions"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Artifact{}, fmt.Errorf("decode predict response: %w", err)
	}
	if len(resp.Predictions) == 0 {
		return Artifact{}, &RejectedError{Reason: "no predictions returned"}
	}

	payload, err := base64.StdEncoding.DecodeString(resp.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return Artifact{}, fmt.Errorf("decode prediction payload: %w", err)
	}

	mime := resp.Predictions[0].MimeType
	if mime == "" {
		mime = "image/png"
	}
	return Artifact{Payload: payload, MimeType: mime}, nil
}

type contentPart struct {
	Text string `json:"text"`
}

// GenerateText calls the conversational generateContent endpoint and joins
// the first candidate's parts into a plain-text artifact.
func (c *RESTClient) GenerateText(ctx context.Context, req Request) (Artifact, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []contentPart{{Text: req.Prompt}}},
		},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)
	respBody, err := c.post(ctx, url, body)
	if err != nil {
		return Artifact{}, err
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []contentPart `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Artifact{}, fmt.Errorf("decode generateContent response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return Artifact{}, &RejectedError{Reason: "no candidates returned"}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		reason := "empty candidate"
		if fr := resp.Candidates[0].FinishReason; fr != "" {
			reason = fmt.Sprintf("empty candidate (finish reason %s)", fr)
		}
		return Artifact{}, &RejectedError{Reason: reason}
	}

	return Artifact{Payload: []byte(text.String()), MimeType: "text/plain"}, nil
}

func (c *RESTClient) post(ctx context.Context, url string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	return c.do(req)
}

func (c *RESTClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	return c.do(req)
}

func (c *RESTClient) download(ctx context.Context, uri string) ([]byte, error) {
	return c.get(ctx, uri)
}

func (c *RESTClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Client-side errors are terminal: surface the provider's message.
		return nil, &RejectedError{Reason: extractErrorMessage(body, resp.StatusCode)}
	default:
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
}

func extractErrorMessage(body []byte, status int) string {
	var resp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error.Message != "" {
		return resp.Error.Message
	}
	return fmt.Sprintf("status %d", status)
}
