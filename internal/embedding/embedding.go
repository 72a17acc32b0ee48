// Package embedding generates vector embeddings for memory content, caching
// results in an embedcache.Cache and falling back to a local hash-based
// generator when the remote provider is unreachable and the fallback is
// enabled.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/memcore/memcore/internal/contenthash"
	"github.com/memcore/memcore/internal/errs"
)

const (
	voyageAPIURL    = "https://api.voyageai.com/v1/embeddings"
	maxBatchSize    = 128
	maxRetries      = 3
	baseRetryDelay  = time.Second
	maxRetryDelay   = 30 * time.Second
)

// InputType hints to the provider whether text is being embedded for
// storage ("document") or for a query ("query"); Voyage's asymmetric models
// use this to pick the right projection.
type InputType string

const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// Generator produces embedding vectors for text.
type Generator interface {
	Generate(ctx context.Context, text string, kind InputType) ([]float32, error)
	GenerateBatch(ctx context.Context, texts []string, kind InputType) ([][]float32, error)
	Dimensions() int
}

// VoyageClient calls the Voyage AI embeddings endpoint, honoring batch size
// limits, Retry-After on 429, and exponential backoff on 5xx/connection
// errors. It is wrapped in a content-hash-keyed cache by Service.
type VoyageClient struct {
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewVoyageClient builds a client rate-limited to rps requests/second with a
// burst of the same size.
func NewVoyageClient(apiKey, model string, dimensions int, rps float64) *VoyageClient {
	if rps <= 0 {
		rps = 5
	}
	return &VoyageClient{
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(math.Ceil(rps))),
	}
}

func (c *VoyageClient) Dimensions() int { return c.dimensions }

func (c *VoyageClient) Generate(ctx context.Context, text string, kind InputType) ([]float32, error) {
	vecs, err := c.GenerateBatch(ctx, []string{text}, kind)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: provider returned no embeddings", errs.ErrInternal)
	}
	return vecs[0], nil
}

func (c *VoyageClient) GenerateBatch(ctx context.Context, texts []string, kind InputType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedBatchWithRetry(ctx, texts[i:end], kind)
		if err != nil {
			return nil, err
		}
		all = append(all, vecs...)
	}
	return all, nil
}

func (c *VoyageClient) embedBatchWithRetry(ctx context.Context, texts []string, kind InputType) ([][]float32, error) {
	delay := baseRetryDelay
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vecs, retryAfter, status, err := c.embedBatchRequest(ctx, texts, kind)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		switch {
		case status == http.StatusTooManyRequests:
			if retryAfter > 0 {
				delay = retryAfter
			} else {
				delay *= 2
			}
		case status >= 500:
			// server error, exponential backoff
		case status == 0:
			// connection/timeout error, exponential backoff
		default:
			// client error: don't retry
			return nil, err
		}

		if attempt == maxRetries-1 {
			break
		}
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("%w: %v", errs.ErrEmbeddingExhausted, lastErr)
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// embedBatchRequest returns (vectors, retryAfter, httpStatus, err). status
// is 0 for a transport-level failure (timeout/connection refused).
func (c *VoyageClient) embedBatchRequest(ctx context.Context, texts []string, kind InputType) ([][]float32, time.Duration, int, error) {
	reqBody := voyageRequest{Input: texts, Model: c.model, InputType: string(kind)}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, voyageAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, retryAfter, resp.StatusCode, fmt.Errorf("embedding: provider status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, resp.StatusCode, fmt.Errorf("embedding: decode response: %w", err)
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) != c.dimensions {
			return nil, 0, resp.StatusCode, fmt.Errorf("%w: expected %d dims, got %d", errs.ErrValidation, c.dimensions, len(d.Embedding))
		}
		out[i] = d.Embedding
	}
	return out, 0, resp.StatusCode, nil
}

// LocalFallback is a deterministic hash-based embedding generator used when
// the remote provider is unavailable and fallback is enabled. It produces
// vectors in the same vector space across calls but carries no semantic
// relationship to the remote provider's embeddings; normalize() callers must
// not mix fallback and remote vectors in the same similarity comparison
// without accounting for that.
type LocalFallback struct {
	dimensions int
}

func NewLocalFallback(dimensions int) *LocalFallback {
	return &LocalFallback{dimensions: dimensions}
}

func (f *LocalFallback) Dimensions() int { return f.dimensions }

func (f *LocalFallback) Generate(_ context.Context, text string, _ InputType) ([]float32, error) {
	words := strings.Fields(strings.ToLower(contenthash.Normalize(text)))
	vec := make([]float32, f.dimensions)

	for i, w := range words {
		h := hashWord(w)
		position := float32(i) / float32(maxInt(len(words), 1))
		weight := 1.0 / (1.0 + position)
		for j := 0; j < f.dimensions; j++ {
			idx := (h + uint32(j)) % uint32(f.dimensions)
			vec[idx] += weight
		}
	}

	var mag float32
	for _, v := range vec {
		mag += v * v
	}
	mag = float32(math.Sqrt(float64(mag)))
	if mag > 0 {
		for i := range vec {
			vec[i] /= mag
		}
	}
	return vec, nil
}

func (f *LocalFallback) GenerateBatch(ctx context.Context, texts []string, kind InputType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Generate(ctx, t, kind)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func hashWord(s string) uint32 {
	var h uint32
	for _, r := range s {
		h = h*31 + uint32(r)
	}
	return h
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
