package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg-warden/warden/internal/config"
	"github.com/tg-warden/warden/internal/detection"
)

// fakeProvider is a scripted chat-completions endpoint.
type fakeProvider struct {
	status   int
	content  string
	requests atomic.Int32
}

func (p *fakeProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.requests.Add(1)

		if p.status != http.StatusOK {
			w.WriteHeader(p.status)
			fmt.Fprintf(w, `{"error": {"message": "scripted failure", "type": "server_error"}}`)
			return
		}

		body := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": p.content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

func newTestCheck(t *testing.T, provider *fakeProvider, cache *detection.Cache) *Check {
	t.Helper()

	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)

	cfg := config.OpenAIConfig{
		Token:   "test-token",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	}
	return New(cfg, cache, nil, 8, nil)
}

func TestCheckEvaluate(t *testing.T) {
	t.Parallel()

	t.Run("missing token fails open", func(t *testing.T) {
		t.Parallel()
		c := New(config.OpenAIConfig{}, nil, nil, 8, nil)

		resp := c.Evaluate(context.Background(), detection.Request{Text: "some message text"})

		assert.Equal(t, detection.ResultClean, resp.Result)
		assert.ErrorIs(t, resp.Err, detection.ErrConfigurationMissing)
	})

	t.Run("spam verdict", func(t *testing.T) {
		t.Parallel()
		provider := &fakeProvider{
			status:  http.StatusOK,
			content: `{"result": "spam", "reason": "crypto scam", "confidence": 0.95}`,
		}
		c := newTestCheck(t, provider, nil)

		resp := c.Evaluate(context.Background(), detection.Request{Text: "buy my coin now"})

		require.NoError(t, resp.Err)
		assert.Equal(t, detection.ResultSpam, resp.Result)
		assert.Equal(t, 95, resp.Confidence)
		assert.Equal(t, "detected spam: crypto scam", resp.Details)
	})

	t.Run("code-fenced verdict is accepted", func(t *testing.T) {
		t.Parallel()
		provider := &fakeProvider{
			status:  http.StatusOK,
			content: "```json\n{\"result\": \"clean\", \"reason\": \"normal chat\", \"confidence\": 0.2}\n```",
		}
		c := newTestCheck(t, provider, nil)

		resp := c.Evaluate(context.Background(), detection.Request{Text: "hello there friends"})

		require.NoError(t, resp.Err)
		assert.Equal(t, detection.ResultClean, resp.Result)
	})

	t.Run("omitted confidence defaults", func(t *testing.T) {
		t.Parallel()
		provider := &fakeProvider{
			status:  http.StatusOK,
			content: `{"result": "review", "reason": "possibly promotional", "confidence": null}`,
		}
		c := newTestCheck(t, provider, nil)

		resp := c.Evaluate(context.Background(), detection.Request{Text: "check out this thing"})

		require.NoError(t, resp.Err)
		assert.Equal(t, detection.ResultReview, resp.Result)
		assert.Equal(t, detection.DefaultConfidencePercent, resp.Confidence)
	})

	t.Run("legacy marker fallback", func(t *testing.T) {
		t.Parallel()
		provider := &fakeProvider{
			status:  http.StatusOK,
			content: "Analysis complete: SPAM_DETECTED, this is an advertisement.",
		}
		c := newTestCheck(t, provider, nil)

		resp := c.Evaluate(context.Background(), detection.Request{Text: "advertisement text here"})

		require.NoError(t, resp.Err)
		assert.Equal(t, detection.ResultSpam, resp.Result)
		assert.Equal(t, legacyConfidencePercent, resp.Confidence)
	})

	t.Run("unparseable response fails open", func(t *testing.T) {
		t.Parallel()
		provider := &fakeProvider{status: http.StatusOK, content: "I cannot comply with that."}
		c := newTestCheck(t, provider, nil)

		resp := c.Evaluate(context.Background(), detection.Request{Text: "whatever text this is"})

		assert.Equal(t, detection.ResultClean, resp.Result)
		assert.ErrorIs(t, resp.Err, detection.ErrMalformedResponse)
	})

	t.Run("rate limit fails open", func(t *testing.T) {
		t.Parallel()
		provider := &fakeProvider{status: http.StatusTooManyRequests}
		c := newTestCheck(t, provider, nil)

		resp := c.Evaluate(context.Background(), detection.Request{Text: "some message text"})

		assert.Equal(t, detection.ResultClean, resp.Result)
		assert.ErrorIs(t, resp.Err, detection.ErrProviderRateLimited)
	})

	t.Run("server error fails open", func(t *testing.T) {
		t.Parallel()
		provider := &fakeProvider{status: http.StatusInternalServerError}
		c := newTestCheck(t, provider, nil)

		resp := c.Evaluate(context.Background(), detection.Request{Text: "some message text"})

		assert.Equal(t, detection.ResultClean, resp.Result)
		assert.ErrorIs(t, resp.Err, detection.ErrProviderServerError)
	})
}

func TestCheckCaching(t *testing.T) {
	t.Parallel()

	t.Run("identical message hits the cache", func(t *testing.T) {
		t.Parallel()
		provider := &fakeProvider{
			status:  http.StatusOK,
			content: `{"result": "spam", "reason": "scam", "confidence": 0.9}`,
		}
		c := newTestCheck(t, provider, detection.NewCache(16, time.Minute))

		first := c.Evaluate(context.Background(), detection.Request{Text: "Free Money Click Here"})
		second := c.Evaluate(context.Background(), detection.Request{Text: "free   money CLICK here"})

		assert.Equal(t, int32(1), provider.requests.Load(), "second evaluation must not call the provider")
		assert.Equal(t, first.Result, second.Result)
		assert.Contains(t, second.Details, "(cached)")
	})

	t.Run("distinct messages miss the cache", func(t *testing.T) {
		t.Parallel()
		provider := &fakeProvider{
			status:  http.StatusOK,
			content: `{"result": "clean", "reason": "fine", "confidence": 0.1}`,
		}
		c := newTestCheck(t, provider, detection.NewCache(16, time.Minute))

		c.Evaluate(context.Background(), detection.Request{Text: "first unique message"})
		c.Evaluate(context.Background(), detection.Request{Text: "second unique message"})

		assert.Equal(t, int32(2), provider.requests.Load())
	})

	t.Run("failures are not cached", func(t *testing.T) {
		t.Parallel()
		provider := &fakeProvider{status: http.StatusInternalServerError}
		c := newTestCheck(t, provider, detection.NewCache(16, time.Minute))

		c.Evaluate(context.Background(), detection.Request{Text: "some message text"})
		c.Evaluate(context.Background(), detection.Request{Text: "some message text"})

		assert.Equal(t, int32(2), provider.requests.Load(), "fail-open responses must not be reused")
	})
}

func TestCheckShouldRun(t *testing.T) {
	t.Parallel()

	c := New(config.OpenAIConfig{}, nil, nil, 8, nil)

	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{name: "empty text", text: "", expected: false},
		{name: "below minimum length", text: "hi", expected: false},
		{name: "whitespace only", text: "          ", expected: false},
		{name: "long enough", text: "buy cheap pills", expected: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, c.ShouldRun(detection.Request{Text: tc.text}))
		})
	}
}
