package scheduler

import (
	"github.com/ternarybob/conductor/internal/models"
)

// ConvertedActivity is the converter's output: the flat list of
// newly-constructed child jobs and the continuation tree describing the
// parent's wait on them
type ConvertedActivity struct {
	Continuation *models.Continuation
	Jobs         []*models.Job
}

// Converter turns an activity graph returned by user code into child jobs
// plus a continuation tree rooted at the parent. It is a pure transformer:
// no persistence, no dispatch.
type Converter struct{}

// NewConverter creates an activity-to-continuation converter
func NewConverter() *Converter {
	return &Converter{}
}

// Convert builds Created child jobs (parent and correlation ids inherited)
// and the matching continuation node for each activity in the graph. An
// invalid graph fails with models.ErrInvalidActivity.
func (c *Converter) Convert(parent *models.Job, activity *models.Activity) (*ConvertedActivity, error) {
	if err := activity.Validate(); err != nil {
		return nil, err
	}

	converted := &ConvertedActivity{}
	converted.Continuation = c.convertNode(parent, activity, &converted.Jobs)
	return converted, nil
}

func (c *Converter) convertNode(parent *models.Job, activity *models.Activity, jobs *[]*models.Job) *models.Continuation {
	if activity.Kind == models.ActivityKindSingle {
		child := models.NewChildJob(parent, activity.ActivityType, activity.Method, activity.Arguments...)
		*jobs = append(*jobs, child)
		return models.NewSingle(child.ID)
	}

	children := make([]*models.Continuation, len(activity.Items))
	for i, item := range activity.Items {
		children[i] = c.convertNode(parent, item, jobs)
	}

	var node *models.Continuation
	switch activity.Kind {
	case models.ActivityKindSequence:
		node = models.NewSequence(children...)
	case models.ActivityKindAny:
		node = models.NewAny(children...)
	default:
		node = models.NewAll(children...)
	}
	node.OnAnyFailed = activity.OnAnyFailed
	node.OnAllFailed = activity.OnAllFailed
	return node
}
