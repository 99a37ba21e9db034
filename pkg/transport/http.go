package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mlfoundry/foundry-go/pkg/errors"
)

const (
	ctJSON = "application/json"

	headerTrafficClass = "X-Traffic-Class"
	headerIdempotency  = "X-Idempotency-Key"
	headerIteration    = "X-Request-Iteration"
	headerRetryAfter   = "Retry-After"
	headerRetryAfterMs = "Retry-After-Ms"

	retrievePath = "futures/retrieve"
)

type Config struct {
	BaseURL         string
	APIKey          string
	AttemptTimeout  time.Duration
	TLSVerification bool
	Categorize      errors.Categorizer
}

// HTTP is the production Transport. It keeps one http.Client with its
// own connection pool per traffic class so that, for example, a burst
// of polling traffic cannot exhaust the connections control calls
// need.
type HTTP struct {
	baseURL    string
	apiKey     string
	clients    map[Class]*http.Client
	categorize errors.Categorizer
}

func NewHTTP(cfg Config) *HTTP {
	categorize := cfg.Categorize
	if categorize == nil {
		categorize = errors.DefaultCategorizer
	}

	clients := make(map[Class]*http.Client, 4)
	for _, class := range []Class{ClassControl, ClassBulkOrdered, ClassBulkConcurrent, ClassPolling} {
		clients[class] = &http.Client{
			Timeout: cfg.AttemptTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		}
	}

	return &HTTP{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		clients:    clients,
		categorize: categorize,
	}
}

func (t *HTTP) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	payload := req.Payload
	if req.SeqID != nil {
		payload = make(map[string]any, len(req.Payload)+1)
		for k, v := range req.Payload {
			payload[k] = v
		}
		payload["seq_id"] = *req.SeqID
	}

	headers := map[string]string{
		headerIdempotency: uuid.NewString(),
	}

	body, err := t.processRequest(ctx, http.MethodPost, t.url("v1/"+req.Path), req.Class, headers, payload)
	if err != nil {
		return SubmitResponse{}, err
	}

	var resp SubmitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return SubmitResponse{}, fmt.Errorf("failed to decode submit response: %w", err)
	}

	return resp, nil
}

func (t *HTTP) Retrieve(ctx context.Context, requestID string, iteration uint64) (RetrieveResponse, error) {
	headers := map[string]string{
		headerIteration: strconv.FormatUint(iteration, 10),
	}
	payload := map[string]any{"request_id": requestID}

	body, err := t.processRequest(ctx, http.MethodPost, t.url("v1/"+retrievePath), ClassPolling, headers, payload)
	if err != nil {
		return RetrieveResponse{}, err
	}

	var resp RetrieveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return RetrieveResponse{}, fmt.Errorf("failed to decode retrieve response: %w", err)
	}
	if resp.Error != nil {
		resp.Error.Category = errors.ParseCategory(string(resp.Error.Category))
	}

	return resp, nil
}

func (t *HTTP) Control(ctx context.Context, method, path string, body, out any) error {
	var payload any
	if body != nil {
		payload = body
	}

	respBody, err := t.processRequest(ctx, method, t.url("v1/"+path), ClassControl, nil, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode control response: %w", err)
	}

	return nil
}

func (t *HTTP) url(path string) string {
	return t.baseURL + "/" + path
}

func (t *HTTP) processRequest(ctx context.Context, method, reqURL string, class Class, headers map[string]string, payload any) ([]byte, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	req.Header.Add("Content-Type", ctJSON)
	req.Header.Add(headerTrafficClass, string(class))
	if t.apiKey != "" {
		req.Header.Add("Authorization", "Bearer "+t.apiKey)
	}
	for k, v := range headers {
		req.Header.Add(k, v)
	}

	client, ok := t.clients[class]
	if !ok {
		client = t.clients[ClassControl]
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{RetryAfter: retryAfterHint(resp.Header)}
	}

	return nil, t.apiError(resp.StatusCode, body)
}

func (t *HTTP) apiError(status int, body []byte) error {
	apiErr := &errors.API{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("unexpected response code: %d", status)
	}
	if errors.ParseCategory(string(apiErr.Category)) == errors.CategoryUnknown {
		apiErr.Category = t.categorize(status)
	}

	return apiErr
}

// retryAfterHint parses the server backoff hint, preferring the
// millisecond header over the whole-second one. Zero means no hint.
func retryAfterHint(h http.Header) time.Duration {
	if ms := h.Get(headerRetryAfterMs); ms != "" {
		if v, err := strconv.ParseInt(ms, 10, 64); err == nil && v > 0 {
			return time.Duration(v) * time.Millisecond
		}
	}
	if s := h.Get(headerRetryAfter); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v > 0 {
			return time.Duration(v) * time.Second
		}
	}

	return 0
}
