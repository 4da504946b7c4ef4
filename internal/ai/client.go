package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewayClient talks to the model gateway over JSON HTTP. The gateway
// fronts the actual vendors, so one client implements all four contracts.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Completer = (*GatewayClient)(nil)
var _ Transcriber = (*GatewayClient)(nil)
var _ Synthesizer = (*GatewayClient)(nil)
var _ VoiceCloner = (*GatewayClient)(nil)

func NewGatewayClient(baseURL, apiKey string) *GatewayClient {
	return &GatewayClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *GatewayClient) Complete(ctx context.Context, req CompleteRequest) (*Completion, error) {
	body := map[string]any{
		"action": req.Action,
		"text":   req.Text,
	}
	if req.Tone != "" {
		body["tone"] = req.Tone
	}
	if req.ImageB64 != "" {
		body["image"] = req.ImageB64
	}
	var out struct {
		Text      string `json:"text"`
		Model     string `json:"model"`
		TokensIn  int    `json:"tokens_in"`
		TokensOut int    `json:"tokens_out"`
	}
	if err := c.postJSON(ctx, "/v1/complete", body, &out); err != nil {
		return nil, err
	}
	return &Completion{Text: out.Text, Model: out.Model, TokensIn: out.TokensIn, TokensOut: out.TokensOut}, nil
}

func (c *GatewayClient) Transcribe(ctx context.Context, audio []byte, format string) (*Transcript, error) {
	body := map[string]any{
		"audio":  base64.StdEncoding.EncodeToString(audio),
		"format": format,
	}
	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := c.postJSON(ctx, "/v1/transcribe", body, &out); err != nil {
		return nil, err
	}
	return &Transcript{Text: out.Text, Language: out.Language}, nil
}

func (c *GatewayClient) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	body := map[string]any{
		"voice_id": voiceID,
		"text":     text,
	}
	var out struct {
		Audio string `json:"audio"`
	}
	if err := c.postJSON(ctx, "/v1/synthesize", body, &out); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(out.Audio)
}

func (c *GatewayClient) CloneVoice(ctx context.Context, name string, sample []byte) (string, error) {
	body := map[string]any{
		"name":   name,
		"sample": base64.StdEncoding.EncodeToString(sample),
	}
	var out struct {
		VoiceID string `json:"voice_id"`
	}
	if err := c.postJSON(ctx, "/v1/voices", body, &out); err != nil {
		return "", err
	}
	return out.VoiceID, nil
}

func (c *GatewayClient) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
