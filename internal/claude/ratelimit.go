package claude

import (
	"context"
	"regexp"
	"strconv"
	"time"
)

// RateLimit describes a detected usage limit in CLI output.
type RateLimit struct {
	ResetAt    time.Time
	RawMessage string
}

var (
	// Claude AI usage limit reached|<unix_timestamp>
	unixTimestampPattern = regexp.MustCompile(`Claude AI usage limit reached\|(\d+)`)

	// retry in 300 seconds / retry after 300s
	retrySecondsPattern = regexp.MustCompile(`retry (?:in|after)\s+(\d+)\s*(?:seconds?|s)`)

	rateLimitIndicator = regexp.MustCompile(`(?i)(out of.*usage|rate.?limit|usage.?limit|429|too.?many.?requests)`)

	// Displayed or quoted text mentioning rate limits, not actual errors
	falsePositivePattern = regexp.MustCompile(`(?i)(\[RATE.?LIMIT\]|` +
		"`rate.?limit|" +
		`"rate.?limit|` +
		`'rate.?limit)`)
)

// DefaultRateLimitBackoff is the wait used when a limit is detected
// without an explicit reset time.
const DefaultRateLimitBackoff = 60 * time.Second

// ParseRateLimit detects a rate limit message in CLI output.
// Returns nil when the output does not look like a rate limit error.
func ParseRateLimit(output string, now time.Time) *RateLimit {
	if output == "" || !rateLimitIndicator.MatchString(output) {
		return nil
	}
	if falsePositivePattern.MatchString(output) {
		return nil
	}

	info := &RateLimit{RawMessage: output}

	if m := unixTimestampPattern.FindStringSubmatch(output); len(m) > 1 {
		if ts, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info.ResetAt = time.Unix(ts, 0)
			return info
		}
	}

	if m := retrySecondsPattern.FindStringSubmatch(output); len(m) > 1 {
		if seconds, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info.ResetAt = now.Add(time.Duration(seconds) * time.Second)
			return info
		}
	}

	info.ResetAt = now.Add(DefaultRateLimitBackoff)
	return info
}

// WaitLogger receives notifications while waiting out a rate limit.
type WaitLogger interface {
	LogRateLimitWait(remaining time.Duration)
}

// rateLimitWaiter waits for a rate limit to reset, bounded by maxWait.
type rateLimitWaiter struct {
	maxWait      time.Duration
	safetyBuffer time.Duration
	logger       WaitLogger
}

// ShouldWait returns false if info is nil or the reset is beyond maxWait.
func (w *rateLimitWaiter) ShouldWait(info *RateLimit, now time.Time) bool {
	if info == nil {
		return false
	}
	return info.ResetAt.Sub(now) <= w.maxWait
}

// Wait blocks until the reset time plus the safety buffer, or ctx is done.
func (w *rateLimitWaiter) Wait(ctx context.Context, info *RateLimit, now time.Time) error {
	wait := info.ResetAt.Sub(now)
	if wait < 0 {
		wait = 0
	}
	wait += w.safetyBuffer

	if w.logger != nil {
		w.logger.LogRateLimitWait(wait)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
