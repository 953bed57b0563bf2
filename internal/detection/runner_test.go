package detection

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg-warden/warden/internal/config"
)

// fakeCheck is a scriptable check that counts its Evaluate invocations.
type fakeCheck struct {
	name   string
	veto   bool
	skip   bool
	resp   Response
	panics bool
	calls  atomic.Int32
}

func (c *fakeCheck) Name() string             { return c.name }
func (c *fakeCheck) Veto() bool               { return c.veto }
func (c *fakeCheck) ShouldRun(_ Request) bool { return !c.skip }
func (c *fakeCheck) Evaluate(_ context.Context, _ Request) Response {
	c.calls.Add(1)
	if c.panics {
		panic("scripted panic")
	}
	resp := c.resp
	resp.CheckName = c.name
	return resp
}

func testConfig() config.DetectionConfig {
	return config.DetectionConfig{
		AutoBanThreshold: 85,
		ReviewThreshold:  70,
		Timeout:          time.Second,
	}
}

func TestRunnerFailOpen(t *testing.T) {
	t.Parallel()

	t.Run("erroring check never flags spam", func(t *testing.T) {
		t.Parallel()
		broken := &fakeCheck{
			name: "broken",
			resp: Response{Result: ResultSpam, Confidence: 99, Err: ErrProviderServerError},
		}
		r := NewRunner([]Check{broken}, testConfig(), nil)

		outcome := r.Run(context.Background(), Request{Text: "anything"})

		require.Len(t, outcome.Checks, 1)
		assert.Equal(t, ResultClean, outcome.Checks[0].Result)
		assert.Equal(t, 0, outcome.Checks[0].Confidence)
		assert.Equal(t, ClassificationPass, outcome.Classification)
	})

	t.Run("panicking check fails open", func(t *testing.T) {
		t.Parallel()
		r := NewRunner([]Check{&fakeCheck{name: "panicky", panics: true}}, testConfig(), nil)

		outcome := r.Run(context.Background(), Request{Text: "anything"})

		require.Len(t, outcome.Checks, 1)
		assert.Equal(t, ResultClean, outcome.Checks[0].Result)
		assert.ErrorIs(t, outcome.Checks[0].Err, ErrProviderServerError)
		assert.Equal(t, ClassificationPass, outcome.Classification)
	})

	t.Run("cancelled context turns checks into timeouts", func(t *testing.T) {
		t.Parallel()
		check := &fakeCheck{name: "slow", resp: Response{Result: ResultSpam, Confidence: 99}}
		r := NewRunner([]Check{check}, testConfig(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		outcome := r.Run(ctx, Request{Text: "anything"})

		require.Len(t, outcome.Checks, 1)
		assert.Equal(t, ResultClean, outcome.Checks[0].Result)
		assert.ErrorIs(t, outcome.Checks[0].Err, ErrProviderTimeout)
		assert.Equal(t, int32(0), check.calls.Load())
	})
}

func TestRunnerVetoGating(t *testing.T) {
	t.Parallel()

	t.Run("veto check skipped when no flags", func(t *testing.T) {
		t.Parallel()
		clean := &fakeCheck{name: "cheap", resp: Response{Result: ResultClean}}
		veto := &fakeCheck{name: "expensive", veto: true, resp: Response{Result: ResultSpam, Confidence: 99}}
		r := NewRunner([]Check{clean, veto}, testConfig(), nil)

		outcome := r.Run(context.Background(), Request{Text: "a perfectly fine message"})

		assert.Equal(t, int32(0), veto.calls.Load(), "veto check must not execute without prior flags")
		require.Len(t, outcome.Checks, 2)
		skipped := outcome.Checks[1]
		assert.Equal(t, "expensive", skipped.CheckName)
		assert.True(t, skipped.Skipped)
		assert.Equal(t, ResultClean, skipped.Result)
		assert.Equal(t, VetoSkippedDetails, skipped.Details)
		assert.Equal(t, ClassificationPass, outcome.Classification)
	})

	t.Run("veto check runs when a cheaper check flagged", func(t *testing.T) {
		t.Parallel()
		flagger := &fakeCheck{name: "cheap", resp: Response{Result: ResultSpam, Confidence: 90}}
		veto := &fakeCheck{name: "expensive", veto: true, resp: Response{Result: ResultSpam, Confidence: 95}}
		r := NewRunner([]Check{flagger, veto}, testConfig(), nil)

		outcome := r.Run(context.Background(), Request{Text: "free crypto click here"})

		assert.Equal(t, int32(1), veto.calls.Load())
		assert.Equal(t, ClassificationAutoBan, outcome.Classification)
		assert.False(t, outcome.Vetoed)
	})

	t.Run("veto clean verdict overrides spam flags", func(t *testing.T) {
		t.Parallel()
		flagger := &fakeCheck{name: "cheap", resp: Response{Result: ResultSpam, Confidence: 90}}
		veto := &fakeCheck{name: "expensive", veto: true, resp: Response{Result: ResultClean, Confidence: 10}}
		r := NewRunner([]Check{flagger, veto}, testConfig(), nil)

		outcome := r.Run(context.Background(), Request{Text: "borderline but fine"})

		assert.True(t, outcome.Vetoed)
		assert.Equal(t, ClassificationPass, outcome.Classification)
	})

	t.Run("erroring veto check does not override", func(t *testing.T) {
		t.Parallel()
		flagger := &fakeCheck{name: "cheap", resp: Response{Result: ResultSpam, Confidence: 90}}
		veto := &fakeCheck{
			name: "expensive", veto: true,
			resp: Response{Result: ResultClean, Err: ErrProviderRateLimited},
		}
		r := NewRunner([]Check{flagger, veto}, testConfig(), nil)

		outcome := r.Run(context.Background(), Request{Text: "free crypto click here"})

		assert.False(t, outcome.Vetoed)
		assert.Equal(t, ClassificationAutoBan, outcome.Classification)
	})
}

func TestRunnerAggregation(t *testing.T) {
	t.Parallel()

	t.Run("weighted average over flagging checks", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Weights = map[string]float64{"heavy": 3.0}
		checks := []Check{
			&fakeCheck{name: "heavy", resp: Response{Result: ResultSpam, Confidence: 90}},
			&fakeCheck{name: "light", resp: Response{Result: ResultReview, Confidence: 50}},
			&fakeCheck{name: "quiet", resp: Response{Result: ResultClean, Confidence: 100}},
		}
		r := NewRunner(checks, cfg, nil)

		outcome := r.Run(context.Background(), Request{Text: "suspicious"})

		// (3*90 + 1*50) / 4 = 80; clean checks do not vote.
		assert.Equal(t, 80, outcome.NetConfidence)
		assert.Equal(t, ClassificationReview, outcome.Classification)
	})

	t.Run("band boundaries are inclusive", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name       string
			confidence int
			expected   Classification
		}{
			{name: "below review", confidence: 69, expected: ClassificationPass},
			{name: "at review threshold", confidence: 70, expected: ClassificationReview},
			{name: "at autoban threshold", confidence: 85, expected: ClassificationAutoBan},
			{name: "above autoban", confidence: 99, expected: ClassificationAutoBan},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				check := &fakeCheck{name: "only", resp: Response{Result: ResultSpam, Confidence: tc.confidence}}
				r := NewRunner([]Check{check}, testConfig(), nil)

				outcome := r.Run(context.Background(), Request{Text: "msg"})
				assert.Equal(t, tc.expected, outcome.Classification)
				assert.Equal(t, tc.confidence, outcome.NetConfidence)
			})
		}
	})

	t.Run("training mode demotes autoban to review", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.TrainingMode = true
		check := &fakeCheck{name: "only", resp: Response{Result: ResultSpam, Confidence: 99}}
		r := NewRunner([]Check{check}, cfg, nil)

		outcome := r.Run(context.Background(), Request{Text: "msg"})

		assert.Equal(t, ClassificationReview, outcome.Classification)
		assert.Equal(t, 99, outcome.NetConfidence)
	})

	t.Run("training mode leaves review untouched", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.TrainingMode = true
		check := &fakeCheck{name: "only", resp: Response{Result: ResultSpam, Confidence: 75}}
		r := NewRunner([]Check{check}, cfg, nil)

		outcome := r.Run(context.Background(), Request{Text: "msg"})
		assert.Equal(t, ClassificationReview, outcome.Classification)
	})

	t.Run("inapplicable checks are excluded entirely", func(t *testing.T) {
		t.Parallel()
		skipped := &fakeCheck{name: "photo_only", skip: true, resp: Response{Result: ResultSpam, Confidence: 99}}
		r := NewRunner([]Check{skipped}, testConfig(), nil)

		outcome := r.Run(context.Background(), Request{Text: "text message"})

		assert.Equal(t, int32(0), skipped.calls.Load())
		assert.Empty(t, outcome.Checks)
		assert.Equal(t, ClassificationPass, outcome.Classification)
	})
}
