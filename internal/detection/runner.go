package detection

import (
	"context"
	"io"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/tg-warden/warden/internal/config"
)

// VetoSkippedDetails is the details text of a veto-mode check that never ran
// because no cheaper check raised a flag.
const VetoSkippedDetails = "no spam flags from other checks"

// Runner executes the active check set for one message and reduces the
// results to an Outcome. Runner itself holds no per-message state; one Runner
// serves all messages concurrently.
type Runner struct {
	checks []Check
	cfg    config.DetectionConfig
	logger *slog.Logger
}

// NewRunner creates a Runner over the given checks.
func NewRunner(checks []Check, cfg config.DetectionConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		checks: checks,
		cfg:    cfg,
		logger: logger.With("component", "detection_runner"),
	}
}

// Run evaluates the message against every applicable check and aggregates
// the responses. Non-veto checks run concurrently first under one shared
// deadline; veto-mode checks run afterwards, gated on the flags the first
// wave produced. A cancelled or expired context turns still-pending checks
// into fail-open timeouts, never into spam verdicts.
func (r *Runner) Run(ctx context.Context, req Request) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var primary, vetoed []Check
	for _, c := range r.checks {
		if !c.ShouldRun(req) {
			continue
		}
		if c.Veto() {
			vetoed = append(vetoed, c)
		} else {
			primary = append(primary, c)
		}
	}

	responses := r.evaluateAll(ctx, primary, req)

	req.HasSpamFlags = hasFlags(responses)

	for _, c := range vetoed {
		if !req.HasSpamFlags {
			responses = append(responses, Response{
				CheckName:  c.Name(),
				Result:     ResultClean,
				Confidence: 0,
				Details:    VetoSkippedDetails,
				Skipped:    true,
			})
			continue
		}
		responses = append(responses, r.evaluate(ctx, c, req))
	}

	return r.aggregate(ctx, responses)
}

// evaluateAll fans the checks out on one errgroup and collects responses by
// index, so there is no shared mutable state between check goroutines.
func (r *Runner) evaluateAll(ctx context.Context, checks []Check, req Request) []Response {
	responses := make([]Response, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			responses[i] = r.evaluate(gctx, c, req)
			return nil
		})
	}
	_ = g.Wait() // checks never return errors, they fail open

	return responses
}

// evaluate runs a single check, converting context expiry and panics into
// fail-open responses.
func (r *Runner) evaluate(ctx context.Context, c Check, req Request) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "Check panicked", "check", c.Name(), "panic", rec)
			resp = FailOpen(c.Name(), "check panicked", ErrProviderServerError)
		}
	}()

	if ctx.Err() != nil {
		return FailOpen(c.Name(), "check timed out before execution", ErrProviderTimeout)
	}

	resp = c.Evaluate(ctx, req)

	// Fail-open invariant: an erroring check never flags spam.
	if resp.Err != nil && resp.Result != ResultClean {
		r.logger.WarnContext(ctx, "Check returned error with non-clean result, forcing clean",
			"check", c.Name(), "result", string(resp.Result), "error", resp.Err)
		resp.Result = ResultClean
		resp.Confidence = 0
	}
	return resp
}

// aggregate reduces check responses to the final outcome. A veto-mode check
// that ran and returned a clean verdict overrides every other score; it is
// authoritative, not one more vote.
func (r *Runner) aggregate(ctx context.Context, responses []Response) Outcome {
	outcome := Outcome{Checks: responses}

	vetoIndex := make(map[string]bool, len(r.checks))
	for _, c := range r.checks {
		if c.Veto() {
			vetoIndex[c.Name()] = true
		}
	}

	var weightedSum, weightTotal float64
	vetoOverride := false
	for _, resp := range responses {
		if vetoIndex[resp.CheckName] && resp.Result == ResultClean &&
			resp.Err == nil && !resp.Skipped {
			vetoOverride = true
		}
		if resp.Result != ResultSpam && resp.Result != ResultReview {
			continue
		}
		w := r.cfg.Weight(resp.CheckName)
		weightedSum += w * float64(resp.Confidence)
		weightTotal += w
	}

	if weightTotal > 0 {
		outcome.NetConfidence = int(math.Round(weightedSum / weightTotal))
	}

	switch {
	case vetoOverride:
		outcome.Vetoed = true
		outcome.Classification = ClassificationPass
	case outcome.NetConfidence >= r.cfg.AutoBanThreshold:
		outcome.Classification = ClassificationAutoBan
	case outcome.NetConfidence >= r.cfg.ReviewThreshold:
		outcome.Classification = ClassificationReview
	default:
		outcome.Classification = ClassificationPass
	}

	// Training mode validates thresholds without enforcement: would-be
	// auto-bans are demoted to review.
	if r.cfg.TrainingMode && outcome.Classification == ClassificationAutoBan {
		outcome.Classification = ClassificationReview
	}

	r.logger.DebugContext(ctx, "Aggregated detection outcome",
		"net_confidence", outcome.NetConfidence,
		"classification", string(outcome.Classification),
		"vetoed", outcome.Vetoed,
		"checks", len(responses))

	return outcome
}

func hasFlags(responses []Response) bool {
	for _, resp := range responses {
		if resp.Result == ResultSpam || resp.Result == ResultReview {
			return true
		}
	}
	return false
}
