package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/echoscribe/echoscribe/internal/domain"
)

// HTTPEngine talks to the inference service over its JSON REST API.
//
// Endpoints:
//
//	POST {baseURL}/api/v1/probe       {media_ref}                          -> MediaInfo
//	POST {baseURL}/api/v1/cut         {media_ref, start, end}              -> {chunk_ref}
//	POST {baseURL}/api/v1/transcribe  {chunk_ref, options...}              -> ChunkTranscript
//	POST {baseURL}/api/v1/diarize     {media_ref, speaker_threshold}       -> {diarized_segments}
//	POST {baseURL}/api/v1/embeddings  {chunk_ref, segments}                -> {embeddings}
//	GET  {baseURL}/api/v1/health
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPEngine creates a client for the inference service. The HTTP
// client timeout is a backstop only; per-call deadlines come from the
// caller's context.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPEngine{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type probeRequest struct {
	MediaRef string `json:"media_ref"`
}

type cutRequest struct {
	MediaRef string  `json:"media_ref"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
}

type cutResponse struct {
	ChunkRef string `json:"chunk_ref"`
}

type transcribeRequest struct {
	ChunkRef           string  `json:"chunk_ref"`
	DiarizationEnabled bool    `json:"diarization_enabled"`
	TimestampsEnabled  bool    `json:"timestamps_enabled"`
	SpeakerThreshold   float64 `json:"speaker_threshold,omitempty"`
	Language           string  `json:"language,omitempty"`
}

type diarizeRequest struct {
	MediaRef           string  `json:"media_ref"`
	DiarizationEnabled bool    `json:"diarization_enabled"`
	SpeakerThreshold   float64 `json:"speaker_threshold,omitempty"`
}

type diarizeResponse struct {
	DiarizedSegments []domain.DiarizedSegment `json:"diarized_segments"`
}

type embeddingsRequest struct {
	ChunkRef string                   `json:"chunk_ref"`
	Segments []domain.DiarizedSegment `json:"segments"`
}

type embeddingsResponse struct {
	Embeddings []domain.SpeakerEmbedding `json:"embeddings"`
}

// Probe implements Engine. A 4xx answer means the media itself is bad and
// maps to ValidationError.
func (e *HTTPEngine) Probe(ctx context.Context, mediaRef string) (*MediaInfo, error) {
	var info MediaInfo
	if err := e.post(ctx, "probe", probeRequest{MediaRef: mediaRef}, &info); err != nil {
		var he *httpStatusError
		if errors.As(err, &he) && he.status >= 400 && he.status < 500 {
			return nil, domain.NewValidationError(fmt.Sprintf("media %q rejected by engine", mediaRef), err)
		}
		return nil, err
	}
	if info.Duration <= 0 {
		return nil, domain.NewValidationError(fmt.Sprintf("media %q has no audio duration", mediaRef), nil)
	}
	return &info, nil
}

// Cut implements Engine.
func (e *HTTPEngine) Cut(ctx context.Context, mediaRef string, start, end float64) (string, error) {
	var resp cutResponse
	if err := e.post(ctx, "cut", cutRequest{MediaRef: mediaRef, Start: start, End: end}, &resp); err != nil {
		return "", err
	}
	if resp.ChunkRef == "" {
		return "", fmt.Errorf("engine cut returned empty chunk_ref for %q [%g,%g)", mediaRef, start, end)
	}
	return resp.ChunkRef, nil
}

// Transcribe implements Engine. An empty transcript is a valid result, not
// an error.
func (e *HTTPEngine) Transcribe(ctx context.Context, chunkRef string, opts TranscribeOptions) (*domain.ChunkTranscript, error) {
	req := transcribeRequest{
		ChunkRef:           chunkRef,
		DiarizationEnabled: opts.DiarizationEnabled,
		TimestampsEnabled:  opts.TimestampsEnabled,
		SpeakerThreshold:   opts.SpeakerThreshold,
		Language:           opts.Language,
	}
	var tr domain.ChunkTranscript
	if err := e.post(ctx, "transcribe", req, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// Diarize implements Engine.
func (e *HTTPEngine) Diarize(ctx context.Context, mediaRef string, speakerThreshold float64) ([]domain.DiarizedSegment, error) {
	req := diarizeRequest{MediaRef: mediaRef, DiarizationEnabled: true, SpeakerThreshold: speakerThreshold}
	var resp diarizeResponse
	if err := e.post(ctx, "diarize", req, &resp); err != nil {
		return nil, err
	}
	return resp.DiarizedSegments, nil
}

// Embeddings implements Engine.
func (e *HTTPEngine) Embeddings(ctx context.Context, chunkRef string, segments []domain.DiarizedSegment) ([]domain.SpeakerEmbedding, error) {
	var resp embeddingsResponse
	if err := e.post(ctx, "embeddings", embeddingsRequest{ChunkRef: chunkRef, Segments: segments}, &resp); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

// HealthCheck implements Engine via GET /api/v1/health.
func (e *HTTPEngine) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/v1/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Name implements Engine.
func (e *HTTPEngine) Name() string { return "http-engine" }

// httpStatusError carries a non-200 engine answer.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("engine returned HTTP %d: %s", e.status, e.body)
}

// post sends one JSON request and decodes the answer into out. Transport
// failures, deadline hits and 5xx answers are wrapped as transient so the
// dispatcher retries them; 4xx answers are permanent for the call.
func (e *HTTPEngine) post(ctx context.Context, op string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	url := fmt.Sprintf("%s/api/v1/%s", e.baseURL, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return &domain.TransientWorkerError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &httpStatusError{status: resp.StatusCode, body: string(body)}
		if resp.StatusCode >= 500 {
			return &domain.TransientWorkerError{Op: op, Cause: statusErr}
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse %s response: %w", op, err)
	}
	return nil
}
