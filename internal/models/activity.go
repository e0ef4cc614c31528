// -----------------------------------------------------------------------
// Activity - declarative description of work returned by user code
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
)

// ErrInvalidActivity is returned when user code produced an activity graph
// that cannot be converted into jobs
var ErrInvalidActivity = errors.New("invalid activity graph")

// ActivityKind distinguishes a single callable target from a composition
type ActivityKind string

const (
	ActivityKindSingle   ActivityKind = "single"
	ActivityKindParallel ActivityKind = "parallel"
	ActivityKindSequence ActivityKind = "sequence"
	ActivityKindAny      ActivityKind = "any"
)

// Activity describes work to perform: either one call on an activity type, or
// a composition of further activities. Compositions nest arbitrarily. An
// Activity carries no execution state; the converter turns it into durable
// jobs plus a continuation tree.
type Activity struct {
	Kind ActivityKind `json:"kind"`

	// Single target
	ActivityType string        `json:"activity_type,omitempty"`
	Method       string        `json:"method,omitempty"`
	Arguments    []interface{} `json:"arguments,omitempty"`

	// Composition
	Items []*Activity `json:"items,omitempty"`

	// Failure policy, carried onto the resulting continuation node
	OnAnyFailed bool `json:"on_any_failed,omitempty"`
	OnAllFailed bool `json:"on_all_failed,omitempty"`
}

// NewActivity creates a single callable activity
func NewActivity(activityType, method string, arguments ...interface{}) *Activity {
	return &Activity{
		Kind:         ActivityKindSingle,
		ActivityType: activityType,
		Method:       method,
		Arguments:    arguments,
	}
}

// Parallel composes activities that run concurrently; the wait is satisfied
// when all of them complete
func Parallel(items ...*Activity) *Activity {
	return &Activity{Kind: ActivityKindParallel, Items: items}
}

// Sequence composes activities that run one after another
func Sequence(items ...*Activity) *Activity {
	return &Activity{Kind: ActivityKindSequence, Items: items}
}

// AnyOf composes activities where the first completion satisfies the wait
func AnyOf(items ...*Activity) *Activity {
	return &Activity{Kind: ActivityKindAny, Items: items}
}

// Then appends a follow-up activity, wrapping into a sequence when needed
func (a *Activity) Then(next *Activity) *Activity {
	if a.Kind == ActivityKindSequence {
		a.Items = append(a.Items, next)
		return a
	}
	return Sequence(a, next)
}

// WithAnyFailed fails the composite wait as soon as one branch fails
func (a *Activity) WithAnyFailed() *Activity {
	a.OnAnyFailed = true
	return a
}

// WithAllFailed tolerates partial failure: the wait fails only when every
// branch failed
func (a *Activity) WithAllFailed() *Activity {
	a.OnAllFailed = true
	return a
}

// Validate checks the graph is convertible: single nodes name a target,
// composites have at least one item, and nesting is well-formed
func (a *Activity) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil activity", ErrInvalidActivity)
	}
	switch a.Kind {
	case ActivityKindSingle:
		if a.ActivityType == "" {
			return fmt.Errorf("%w: single activity requires an activity type", ErrInvalidActivity)
		}
		if a.Method == "" {
			return fmt.Errorf("%w: single activity requires a method", ErrInvalidActivity)
		}
		if len(a.Items) > 0 {
			return fmt.Errorf("%w: single activity cannot have items", ErrInvalidActivity)
		}
	case ActivityKindParallel, ActivityKindSequence, ActivityKindAny:
		if len(a.Items) == 0 {
			return fmt.Errorf("%w: %s composition requires at least one item", ErrInvalidActivity, a.Kind)
		}
		for _, item := range a.Items {
			if err := item.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown activity kind %q", ErrInvalidActivity, a.Kind)
	}
	return nil
}
