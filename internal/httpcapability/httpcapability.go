// Package httpcapability implements the capability package's external
// collaborators (ASR, Reasoner, Diarizer, Embedder) as thin JSON/HTTP
// clients, following the same shape as the teacher's BwClient: a
// struct holding Settings plus a single *http.Client with a fixed
// timeout, one exported method per capability call, and 5xx/network
// failures classified as transient so the caller's retry policy can
// act on them.
package httpcapability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/errors"
)

const defaultTimeout = 60 * time.Second

// classify turns a round-trip outcome into the errors package's
// disposition: a transport-level error or 5xx is transient (worth
// retrying), a 4xx is permanent.
func classify(category errors.ErrorCategory, err error, statusCode int) error {
	if err != nil {
		return errors.Transient(err, category)
	}
	if statusCode >= 500 {
		return errors.Transient(fmt.Errorf("upstream returned %d", statusCode), category)
	}
	if statusCode >= 400 {
		return errors.Permanent(fmt.Errorf("upstream returned %d", statusCode), category)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, category errors.ErrorCategory, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.New(err).Category(category).Build()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.New(err).Category(category).Build()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return classify(category, err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(category, nil, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Malformed(err, category)
	}
	return nil
}

func postFile(ctx context.Context, client *http.Client, category errors.ErrorCategory, endpoint, fieldName, filePath string, extraFields map[string]string, out any) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.New(err).Category(category).Build()
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(fieldName, filepath.Base(filePath))
	if err != nil {
		return errors.New(err).Category(category).Build()
	}
	if _, err := io.Copy(part, f); err != nil {
		return errors.New(err).Category(category).Build()
	}
	for key, value := range extraFields {
		if err := writer.WriteField(key, value); err != nil {
			return errors.New(err).Category(category).Build()
		}
	}
	if err := writer.Close(); err != nil {
		return errors.New(err).Category(category).Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return errors.New(err).Category(category).Build()
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return classify(category, err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(category, nil, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ASRClient calls a transcription endpoint over HTTP (spec.md §6.4 ASR).
type ASRClient struct {
	Settings   *conf.Settings
	HTTPClient *http.Client
}

func NewASRClient(settings *conf.Settings) *ASRClient {
	return &ASRClient{Settings: settings, HTTPClient: &http.Client{Timeout: defaultTimeout}}
}

type asrResponse struct {
	Text string `json:"text"`
}

func (c *ASRClient) Transcribe(ctx context.Context, wavBytes []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Settings.ASR.Endpoint, bytes.NewReader(wavBytes))
	if err != nil {
		return "", errors.New(err).Category(errors.CategoryASR).Build()
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", classify(errors.CategoryASR, err, 0)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classify(errors.CategoryASR, nil, resp.StatusCode)
	}

	var out asrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Malformed(err, errors.CategoryASR)
	}
	return out.Text, nil
}

// ReasonerClient calls a reasoning-model completion endpoint over
// HTTP (spec.md §6.4 Reasoner, §4.4 Prompt-A/B).
type ReasonerClient struct {
	Settings   *conf.Settings
	HTTPClient *http.Client
}

func NewReasonerClient(settings *conf.Settings) *ReasonerClient {
	return &ReasonerClient{Settings: settings, HTTPClient: &http.Client{Timeout: defaultTimeout}}
}

type reasonerRequest struct {
	Model            string `json:"model"`
	Prompt           string `json:"prompt"`
	Effort           string `json:"effort"`
	ReasoningSummary bool   `json:"reasoning_summary"`
}

type reasonerResponseWire struct {
	Text  string `json:"text"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	ReasoningSummary string `json:"reasoning_summary"`
}

func (c *ReasonerClient) Complete(ctx context.Context, prompt string, effort string, reasoningSummary bool) (capability.ReasonerResponse, error) {
	var out reasonerResponseWire
	err := postJSON(ctx, c.HTTPClient, errors.CategoryReasoner, c.Settings.Reasoner.Endpoint, reasonerRequest{
		Model:            c.Settings.Reasoner.Model,
		Prompt:           prompt,
		Effort:           effort,
		ReasoningSummary: reasoningSummary,
	}, &out)
	if err != nil {
		return capability.ReasonerResponse{}, err
	}
	return capability.ReasonerResponse{
		Text: out.Text,
		Usage: capability.ReasonerUsage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
		},
		ReasoningSummary: out.ReasoningSummary,
	}, nil
}

// DiarizerClient uploads a clip to a diarization endpoint over HTTP
// (spec.md §6.4 Diarizer, §4.5 Phase 2 step 3).
type DiarizerClient struct {
	Settings   *conf.Settings
	HTTPClient *http.Client
}

func NewDiarizerClient(settings *conf.Settings) *DiarizerClient {
	return &DiarizerClient{Settings: settings, HTTPClient: &http.Client{Timeout: defaultTimeout}}
}

type diarizeResponseWire struct {
	Utterances []struct {
		SpeakerTag string `json:"speaker_tag"`
		StartMs    int64  `json:"start_ms"`
		EndMs      int64  `json:"end_ms"`
		Text       string `json:"text"`
	} `json:"utterances"`
}

func (c *DiarizerClient) Diarize(ctx context.Context, audioPath string) (capability.DiarizeResult, error) {
	var out diarizeResponseWire
	if err := postFile(ctx, c.HTTPClient, errors.CategoryDiarization, c.Settings.Diarizer.Endpoint, "audio", audioPath, nil, &out); err != nil {
		return capability.DiarizeResult{}, err
	}
	result := capability.DiarizeResult{Utterances: make([]capability.Utterance, 0, len(out.Utterances))}
	for _, u := range out.Utterances {
		result.Utterances = append(result.Utterances, capability.Utterance{
			SpeakerTag: u.SpeakerTag,
			StartMs:    u.StartMs,
			EndMs:      u.EndMs,
			Text:       u.Text,
		})
	}
	return result, nil
}

// EmbedderClient uploads a short clip to a voice-embedding endpoint
// over HTTP (spec.md §6.4 Embedder, §4.5 "192-dimensional unit
// embedding").
type EmbedderClient struct {
	Settings   *conf.Settings
	HTTPClient *http.Client
}

func NewEmbedderClient(settings *conf.Settings) *EmbedderClient {
	return &EmbedderClient{Settings: settings, HTTPClient: &http.Client{Timeout: defaultTimeout}}
}

type embedResponseWire struct {
	Embedding []float32 `json:"embedding"`
}

func (c *EmbedderClient) Embed(ctx context.Context, wavPath string) ([]float32, error) {
	var out embedResponseWire
	if err := postFile(ctx, c.HTTPClient, errors.CategoryEmbedder, c.Settings.Embedder.Endpoint, "audio", wavPath, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) != capability.EmbeddingDimension {
		return nil, errors.Malformed(fmt.Errorf("embedding has %d dimensions, want %d", len(out.Embedding), capability.EmbeddingDimension), errors.CategoryEmbedder)
	}
	return out.Embedding, nil
}
