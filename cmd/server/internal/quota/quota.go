// Package quota enforces per-user submission limits before a job enters
// the queue. Limits are tiered; higher tiers also get higher dispatch
// priority when the queue is contended.
package quota

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/echoscribe/echoscribe/internal/domain"
)

// Tier is a user's service level.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Limits bounds one tier's usage.
type Limits struct {
	// MaxActive is the number of simultaneously queued or processing jobs.
	MaxActive int `json:"max_active" yaml:"max_active"`

	// MaxPerHour is the number of submissions per rolling hour.
	MaxPerHour int `json:"max_per_hour" yaml:"max_per_hour"`

	// MaxDurationSeconds caps the length of a single media file. Zero
	// means unlimited.
	MaxDurationSeconds float64 `json:"max_duration_seconds" yaml:"max_duration_seconds"`
}

// DefaultLimits returns the built-in per-tier limits.
func DefaultLimits() map[Tier]Limits {
	return map[Tier]Limits{
		TierFree:       {MaxActive: 1, MaxPerHour: 3, MaxDurationSeconds: 2 * 3600},
		TierPro:        {MaxActive: 3, MaxPerHour: 20, MaxDurationSeconds: 8 * 3600},
		TierEnterprise: {MaxActive: 10, MaxPerHour: 200},
	}
}

// Priority returns the dispatch priority of a tier; larger runs earlier.
func Priority(t Tier) int {
	switch t {
	case TierEnterprise:
		return 2
	case TierPro:
		return 1
	default:
		return 0
	}
}

// UsageSource reports a user's current consumption. *jobs.FileStore
// satisfies it.
type UsageSource interface {
	CountActive(userID string) int
	CountCreatedSince(userID string, cutoff time.Time) int
}

// Checker validates submissions against the configured limits.
type Checker struct {
	limits map[Tier]Limits
	usage  UsageSource
	logger *slog.Logger
}

// NewChecker creates a checker. Nil limits use DefaultLimits; a nil
// logger uses slog's default.
func NewChecker(limits map[Tier]Limits, usage UsageSource, logger *slog.Logger) *Checker {
	if limits == nil {
		limits = DefaultLimits()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{limits: limits, usage: usage, logger: logger}
}

// Check returns nil when the user may submit a job of the given media
// duration, or QuotaExceededError naming the exhausted limit. Unknown
// tiers get free-tier limits.
func (c *Checker) Check(userID string, tier Tier, mediaDuration float64) error {
	limits, ok := c.limits[tier]
	if !ok {
		limits = c.limits[TierFree]
	}

	if limits.MaxDurationSeconds > 0 && mediaDuration > limits.MaxDurationSeconds {
		return c.deny(userID, fmt.Sprintf(
			"media duration %.0fs exceeds the %s tier limit of %.0fs",
			mediaDuration, tier, limits.MaxDurationSeconds))
	}

	if active := c.usage.CountActive(userID); active >= limits.MaxActive {
		return c.deny(userID, fmt.Sprintf(
			"%d active jobs, the %s tier allows %d", active, tier, limits.MaxActive))
	}

	cutoff := time.Now().Add(-time.Hour)
	if recent := c.usage.CountCreatedSince(userID, cutoff); recent >= limits.MaxPerHour {
		return c.deny(userID, fmt.Sprintf(
			"%d submissions in the last hour, the %s tier allows %d",
			recent, tier, limits.MaxPerHour))
	}

	return nil
}

func (c *Checker) deny(userID, reason string) error {
	c.logger.Warn("submission denied by quota", "user_id", userID, "reason", reason)
	return &domain.QuotaExceededError{UserID: userID, Reason: reason}
}
