package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlfoundry/foundry-go/pkg/errors"
	"github.com/mlfoundry/foundry-go/pkg/transport"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) *transport.HTTP {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return transport.NewHTTP(transport.Config{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		AttemptTimeout: 5 * time.Second,
	})
}

func TestSubmitTagsRequest(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	var gotHeader http.Header
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "/v1/sessions/s1/forward-backward", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"request_id":"req-1"}`))
	})

	seq := uint64(7)
	resp, err := tr.Submit(context.Background(), transport.SubmitRequest{
		Path:    "sessions/s1/forward-backward",
		Class:   transport.ClassBulkOrdered,
		SeqID:   &seq,
		Payload: map[string]any{"loss_fn": "xent"},
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestID)

	assert.Equal(t, "bulk-ordered", gotHeader.Get("X-Traffic-Class"))
	assert.NotEmpty(t, gotHeader.Get("X-Idempotency-Key"))
	assert.Equal(t, "Bearer test-key", gotHeader.Get("Authorization"))
	assert.Equal(t, float64(7), gotBody["seq_id"])
	assert.Equal(t, "xent", gotBody["loss_fn"])
}

func TestSubmitDoesNotMutatePayload(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"request_id":"req-1"}`))
	})

	payload := map[string]any{"a": 1}
	seq := uint64(0)
	_, err := tr.Submit(context.Background(), transport.SubmitRequest{
		Path:    "sample",
		Class:   transport.ClassBulkConcurrent,
		SeqID:   &seq,
		Payload: payload,
	})
	require.NoError(t, err)

	_, leaked := payload["seq_id"]
	assert.False(t, leaked)
}

func TestRetrieveIterationHeader(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/futures/retrieve", r.URL.Path)
		assert.Equal(t, "3", r.Header.Get("X-Request-Iteration"))
		assert.Equal(t, "polling", r.Header.Get("X-Traffic-Class"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "req-9", body["request_id"])

		_, _ = w.Write([]byte(`{"status":"completed","result":{"loss:sum":1.5}}`))
	})

	resp, err := tr.Retrieve(context.Background(), "req-9", 3)
	require.NoError(t, err)
	assert.Equal(t, transport.StatusCompleted, resp.Status)
	assert.Equal(t, 1.5, resp.Result["loss:sum"])
}

func TestRetrieveTryAgainQueueState(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"try_again","queue_state":"paused_capacity"}`))
	})

	resp, err := tr.Retrieve(context.Background(), "req-9", 0)
	require.NoError(t, err)
	assert.Equal(t, transport.StatusTryAgain, resp.Status)
	assert.Equal(t, transport.QueuePausedCapacity, resp.QueueState)
	assert.True(t, resp.QueueState.Paused())
}

func TestRateLimitedHints(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		headers map[string]string
		want    time.Duration
	}{
		{
			name:    "millisecond hint preferred",
			headers: map[string]string{"Retry-After-Ms": "250", "Retry-After": "5"},
			want:    250 * time.Millisecond,
		},
		{
			name:    "seconds hint",
			headers: map[string]string{"Retry-After": "2"},
			want:    2 * time.Second,
		},
		{
			name:    "no hint",
			headers: nil,
			want:    0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			})

			_, err := tr.Submit(context.Background(), transport.SubmitRequest{
				Path:  "sample",
				Class: transport.ClassBulkConcurrent,
			})
			var rl *transport.RateLimitedError
			require.ErrorAs(t, err, &rl)
			assert.Equal(t, tc.want, rl.RetryAfter)
		})
	}
}

func TestErrorCategoryFromBody(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad shape","category":"user"}`))
	})

	_, err := tr.Submit(context.Background(), transport.SubmitRequest{Path: "sample", Class: transport.ClassBulkConcurrent})
	var api *errors.API
	require.ErrorAs(t, err, &api)
	assert.Equal(t, errors.CategoryUser, api.Category)
	assert.Equal(t, "bad shape", api.Message)
	assert.Equal(t, http.StatusBadRequest, api.Status)
	assert.False(t, errors.Retryable(err))
}

func TestErrorCategoryFromStatus(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := tr.Submit(context.Background(), transport.SubmitRequest{Path: "sample", Class: transport.ClassBulkConcurrent})
	var api *errors.API
	require.ErrorAs(t, err, &api)
	assert.Equal(t, errors.CategoryServer, api.Category)
	assert.True(t, errors.Retryable(err))
}

func TestControlRoundTrip(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "control", r.Header.Get("X-Traffic-Class"))
		_, _ = w.Write([]byte(`{"session_id":"sess-1"}`))
	})

	var out struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, tr.Control(context.Background(), http.MethodPost, "sessions", map[string]any{"model": "base"}, &out))
	assert.Equal(t, "sess-1", out.SessionID)
}
