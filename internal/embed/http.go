package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 64 << 20

// httpProvider is the transport shared by the HTTP embedding providers.
type httpProvider struct {
	name      string
	client    *http.Client
	transport *http.Transport
	timeout   time.Duration
	retry     shelferrors.RetryConfig
	headers   map[string]string
}

func newHTTPProvider(name string, timeout time.Duration, maxRetries int) *httpProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	// IdleConnTimeout is short because CLI runs are short-lived.
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}

	retry := shelferrors.DefaultRetryConfig()
	retry.MaxRetries = maxRetries
	retry.ShouldRetry = shelferrors.IsRetryable

	return &httpProvider{
		name:      name,
		client:    &http.Client{Transport: transport},
		transport: transport,
		timeout:   timeout,
		retry:     retry,
		headers:   map[string]string{},
	}
}

// postJSON sends body to url and decodes the response into out, retrying
// transient failures. Each attempt gets its own timeout; the parent context
// is never extended.
func (p *httpProvider) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return shelferrors.InternalError("failed to marshal embedding request", err)
	}

	attempt := 0
	return shelferrors.Retry(ctx, p.retry, func() error {
		attempt++
		err := p.do(ctx, url, payload, out)
		if err != nil && ctx.Err() == nil {
			slog.Debug("embedding_attempt_failed",
				slog.String("provider", p.name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return err
	})
}

func (p *httpProvider) do(ctx context.Context, url string, payload []byte, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return shelferrors.InternalError("failed to create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return p.classifyTransport(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return p.classifyTransport(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p.classifyStatus(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return shelferrors.New(shelferrors.ErrCodeEmbedderRejected,
			fmt.Sprintf("%s returned an unreadable response", p.name), err)
	}
	return nil
}

// classifyTransport maps a failed round trip onto the embedder error codes.
// Cancellation of the parent context is returned unchanged.
func (p *httpProvider) classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return shelferrors.New(shelferrors.ErrCodeEmbedderTimeout,
			fmt.Sprintf("%s did not answer within %s", p.name, p.timeout), err)
	}
	return shelferrors.New(shelferrors.ErrCodeEmbedderUnavailable,
		fmt.Sprintf("cannot reach %s", p.name), err).
		WithSuggestion("check that the embedding service is running")
}

func (p *httpProvider) classifyStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	cause := fmt.Errorf("HTTP %d: %s", status, msg)

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return shelferrors.New(shelferrors.ErrCodeEmbedderUnavailable,
			fmt.Sprintf("%s is unavailable", p.name), cause)
	case status == http.StatusRequestTimeout:
		return shelferrors.New(shelferrors.ErrCodeEmbedderTimeout,
			fmt.Sprintf("%s timed out", p.name), cause)
	default:
		return shelferrors.New(shelferrors.ErrCodeEmbedderRejected,
			fmt.Sprintf("%s rejected the request", p.name), cause)
	}
}

func (p *httpProvider) close() {
	p.transport.CloseIdleConnections()
}

// nonEmpty returns the indices of texts that carry content. Blank texts
// embed to the zero vector without a provider call.
func nonEmpty(texts []string) []int {
	idx := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			idx = append(idx, i)
		}
	}
	return idx
}

// embedInBatches calls fn on slices of at most size texts and stitches the
// results back in input order.
func embedInBatches(ctx context.Context, texts []string, size, dims int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	results := make([][]float32, len(texts))
	idx := nonEmpty(texts)
	for _, i := range complement(idx, len(texts)) {
		results[i] = make([]float32, dims)
	}

	if size <= 0 {
		size = DefaultBatchSize
	}
	for start := 0; start < len(idx); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(idx))

		batch := make([]string, end-start)
		for j, i := range idx[start:end] {
			batch[j] = texts[i]
		}

		vecs, err := fn(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, shelferrors.Newf(shelferrors.ErrCodeEmbedderRejected,
				"expected %d embeddings, got %d", len(batch), len(vecs))
		}
		for j, i := range idx[start:end] {
			results[i] = vecs[j]
		}
	}
	return results, nil
}

func complement(idx []int, n int) []int {
	seen := make(map[int]bool, len(idx))
	for _, i := range idx {
		seen[i] = true
	}
	var out []int
	for i := 0; i < n; i++ {
		if !seen[i] {
			out = append(out, i)
		}
	}
	return out
}
