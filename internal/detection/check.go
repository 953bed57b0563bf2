// Package detection implements the content-risk detection engine: a set of
// independent checks executed concurrently under one deadline, a shared
// verdict cache, and a weighted aggregator that reduces check results to a
// single classification.
package detection

import (
	"context"
	"errors"
)

// Result is a single check's verdict on a message.
type Result string

const (
	ResultSpam   Result = "spam"
	ResultClean  Result = "clean"
	ResultReview Result = "review"
)

// Classification is the aggregate verdict for a message.
type Classification string

const (
	ClassificationPass    Classification = "pass"
	ClassificationReview  Classification = "review"
	ClassificationAutoBan Classification = "autoban"
)

// Provider failure taxonomy. Every one of these fails open: the check returns
// Clean with the cause attached, never Spam.
var (
	ErrProviderRateLimited  = errors.New("provider rate limited")
	ErrProviderServerError  = errors.New("provider server error")
	ErrProviderTimeout      = errors.New("provider timeout")
	ErrMalformedResponse    = errors.New("malformed provider response")
	ErrConfigurationMissing = errors.New("check configuration missing")
)

// Request carries one message through the check set. It is built once per
// message and passed read-only to every check.
type Request struct {
	ChatID    int64
	ChatTitle string
	MessageID int64
	UserID    int64
	UserName  string

	// Text is the message text, empty for photo-only messages.
	Text string

	// PhotoFileID references the message photo, empty for text-only messages.
	PhotoFileID string

	// HasSpamFlags is set by the runner after the cheap checks ran; a
	// veto-mode check only executes when it is true.
	HasSpamFlags bool
}

// Response is one check's result. Invariant: if Err is non-nil, Result is
// ResultClean (fail-open).
type Response struct {
	CheckName  string
	Result     Result
	Confidence int
	Details    string
	Err        error

	// Skipped marks a check that never executed (veto gate closed).
	Skipped bool
}

// Check is the capability contract every detector implements. ShouldRun is a
// cheap precondition; Evaluate may call external providers and must honor ctx.
type Check interface {
	Name() string

	// Veto reports whether the check runs in veto mode: gated on prior spam
	// flags, and authoritative when it returns Clean.
	Veto() bool

	ShouldRun(req Request) bool

	Evaluate(ctx context.Context, req Request) Response
}

// FailOpen builds the mandatory fail-open response for a malfunctioning
// check: Clean, zero confidence, the cause preserved.
func FailOpen(checkName, details string, err error) Response {
	return Response{
		CheckName:  checkName,
		Result:     ResultClean,
		Confidence: 0,
		Details:    details,
		Err:        err,
	}
}

// Outcome is the aggregate produced once per message.
type Outcome struct {
	NetConfidence  int
	Classification Classification

	// Vetoed is set when a veto-mode check overrode the other checks.
	Vetoed bool

	// Checks holds every contributing response, including skipped and
	// failed checks, for audit and review surfaces.
	Checks []Response
}
