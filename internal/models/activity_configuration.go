package models

import "time"

// ActivityConfiguration is the per-activity-type scheduling policy. An empty
// ActivityType denotes the default queue, which is unbounded and never
// suspends jobs to the store.
type ActivityConfiguration struct {
	ActivityType       string        `toml:"activity_type" json:"activity_type"`
	MaxQueueLength     int           `toml:"max_queue_length" json:"max_queue_length" validate:"gte=0"`
	MaxRetries         int           `toml:"max_retries" json:"max_retries" validate:"gte=0"`
	RetryDelay         time.Duration `toml:"retry_delay" json:"retry_delay"`
	MaxPoisonedRetries int           `toml:"max_poisoned_retries" json:"max_poisoned_retries" validate:"gte=0"`
}

// DefaultActivityConfiguration returns the policy applied to activity types
// without an explicit configuration entry
func DefaultActivityConfiguration(activityType string) ActivityConfiguration {
	return ActivityConfiguration{
		ActivityType:       activityType,
		MaxQueueLength:     0, // unbounded
		MaxRetries:         3,
		RetryDelay:         5 * time.Second,
		MaxPoisonedRetries: 0, // unset: the scheduler's recovery_attempts applies
	}
}

// IsDefault reports whether this configuration describes the default queue
func (c ActivityConfiguration) IsDefault() bool {
	return c.ActivityType == ""
}

// Bounded reports whether the in-memory buffer has a length bound
func (c ActivityConfiguration) Bounded() bool {
	return !c.IsDefault() && c.MaxQueueLength > 0
}
