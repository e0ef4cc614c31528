package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivity_Builders(t *testing.T) {
	single := NewActivity("worker", "Process", 1, "two")
	assert.Equal(t, ActivityKindSingle, single.Kind)
	assert.Len(t, single.Arguments, 2)
	require.NoError(t, single.Validate())

	parallel := Parallel(single, NewActivity("worker", "Other"))
	assert.Equal(t, ActivityKindParallel, parallel.Kind)
	require.NoError(t, parallel.Validate())

	seq := Sequence(single, parallel)
	assert.Equal(t, ActivityKindSequence, seq.Kind)
	require.NoError(t, seq.Validate())

	any := AnyOf(single, parallel)
	assert.Equal(t, ActivityKindAny, any.Kind)
	require.NoError(t, any.Validate())
}

func TestActivity_ThenComposesSequences(t *testing.T) {
	a := NewActivity("worker", "A")
	b := NewActivity("worker", "B")
	c := NewActivity("worker", "C")

	seq := a.Then(b)
	assert.Equal(t, ActivityKindSequence, seq.Kind)
	require.Len(t, seq.Items, 2)

	// Appending onto an existing sequence extends it in place
	seq = seq.Then(c)
	require.Len(t, seq.Items, 3)
	assert.Equal(t, "C", seq.Items[2].Method)
}

func TestActivity_FailurePolicyFlags(t *testing.T) {
	parallel := Parallel(
		NewActivity("worker", "A"),
		NewActivity("worker", "B"),
	).WithAnyFailed()
	assert.True(t, parallel.OnAnyFailed)

	tolerant := Parallel(
		NewActivity("worker", "A"),
		NewActivity("worker", "B"),
	).WithAllFailed()
	assert.True(t, tolerant.OnAllFailed)
}

func TestActivity_ValidateRejectsBadGraphs(t *testing.T) {
	assert.ErrorIs(t, Parallel().Validate(), ErrInvalidActivity)
	assert.ErrorIs(t, NewActivity("", "Process").Validate(), ErrInvalidActivity)
	assert.ErrorIs(t, NewActivity("worker", "").Validate(), ErrInvalidActivity)

	nested := Sequence(NewActivity("worker", "A"), Parallel())
	assert.ErrorIs(t, nested.Validate(), ErrInvalidActivity)

	malformed := &Activity{Kind: ActivityKindSingle, ActivityType: "worker", Method: "X", Items: []*Activity{NewActivity("worker", "Y")}}
	assert.ErrorIs(t, malformed.Validate(), ErrInvalidActivity)
}
