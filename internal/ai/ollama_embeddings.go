package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// OllamaEmbClient embeds through a local Ollama runtime. It uses the batch
// /api/embed endpoint and falls back to the per-prompt /api/embeddings
// endpoint on runtimes that predate it.
type OllamaEmbClient struct {
	httpClient *http.Client
	host       string
	retry      retryPolicy
	legacy     atomic.Bool
}

func NewOllamaEmbClient(host string, timeout time.Duration, retryMax int, baseDelay, maxDelay time.Duration) *OllamaEmbClient {
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if retryMax <= 0 {
		retryMax = 2
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = time.Second
	}
	return &OllamaEmbClient{
		httpClient: &http.Client{Timeout: timeout},
		host:       strings.TrimRight(host, "/"),
		retry:      newRetryPolicy(retryMax, baseDelay, maxDelay),
	}
}

var errLegacyEndpoint = errors.New("ollama: /api/embed not available")

func (c *OllamaEmbClient) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if model == "" {
		return nil, errors.New("embedding model cannot be empty")
	}
	if len(inputs) == 0 {
		return nil, errors.New("inputs cannot be empty")
	}
	if !c.legacy.Load() {
		out, err := c.embedBatch(ctx, model, inputs)
		if !errors.Is(err, errLegacyEndpoint) {
			return out, err
		}
		log.Debug().Str("host", c.host).Msg("ollama lacks /api/embed, using /api/embeddings")
		c.legacy.Store(true)
	}
	out := make([][]float32, 0, len(inputs))
	for _, s := range inputs {
		var rb struct {
			Embedding []float64 `json:"embedding"`
		}
		if err := c.post(ctx, "/api/embeddings", map[string]any{"model": model, "prompt": s}, &rb); err != nil {
			return nil, err
		}
		out = append(out, toFloat32(rb.Embedding))
	}
	return out, nil
}

func (c *OllamaEmbClient) embedBatch(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	var rb struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := c.post(ctx, "/api/embed", map[string]any{"model": model, "input": inputs}, &rb); err != nil {
		return nil, err
	}
	if len(rb.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(rb.Embeddings), len(inputs))
	}
	out := make([][]float32, len(rb.Embeddings))
	for i, e := range rb.Embeddings {
		out[i] = toFloat32(e)
	}
	return out, nil
}

// post sends body to path with retries and decodes a 2xx response into dst.
func (c *OllamaEmbClient) post(ctx context.Context, path string, body any, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	var lastErr error
	for attempt := 1; attempt <= c.retry.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		final, err := c.postOnce(ctx, path, payload, dst)
		if err == nil {
			return nil
		}
		lastErr = err
		if final || attempt == c.retry.maxAttempts {
			break
		}
		if err := sleepCtx(ctx, c.retry.backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func (c *OllamaEmbClient) postOnce(ctx context.Context, path string, payload []byte, dst any) (final bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return true, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return !isRetryableNetErr(err), &UnreachableError{Host: c.host, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp)
		if resp.StatusCode == http.StatusNotFound {
			if containsFold(apiErr.Message, "model") {
				return true, &ModelNotFoundError{APIError: apiErr}
			}
			if path == "/api/embed" {
				return true, errLegacyEndpoint
			}
		}
		return !isRetryableStatus(resp.StatusCode), classifyAPIError(apiErr, resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256<<20)).Decode(dst); err != nil {
		return true, fmt.Errorf("decode: %w", err)
	}
	return false, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, f := range in {
		out[i] = float32(f)
	}
	return out
}
