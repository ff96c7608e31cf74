package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyChain_Valid(t *testing.T) {
	events := chainOf(t, EventCaseCreated, EventDataNormalized, EventRulesEvaluated)

	result := VerifyChain("CASE-1", events)

	assert.True(t, result.IsValid)
	assert.Equal(t, 3, result.EventsVerified)
	assert.Empty(t, result.ChainBreaks)
	assert.Equal(t, int64(1), result.StartSequence)
	assert.Equal(t, int64(3), result.EndSequence)
	assert.Len(t, result.AggregateHash, 64)
}

func TestVerifyChain_Empty(t *testing.T) {
	result := VerifyChain("CASE-1", nil)
	assert.True(t, result.IsValid)
	assert.Zero(t, result.EventsVerified)
}

func TestVerifyChain_DetectsTamperedContent(t *testing.T) {
	events := chainOf(t, EventCaseCreated, EventDataNormalized, EventRulesEvaluated)
	events[1].Data["step"] = 42.0

	result := VerifyChain("CASE-1", events)

	assert.False(t, result.IsValid)
	require.Len(t, result.ChainBreaks, 1)
	assert.Equal(t, BreakTypeHashMismatch, result.ChainBreaks[0].BreakType)
	assert.Equal(t, int64(2), result.ChainBreaks[0].Sequence)
}

func TestVerifyChain_DetectsMissingEvent(t *testing.T) {
	events := chainOf(t, EventCaseCreated, EventDataNormalized, EventRulesEvaluated)
	trail := []*Event{events[0], events[2]}

	result := VerifyChain("CASE-1", trail)

	assert.False(t, result.IsValid)
	types := make([]BreakType, 0, len(result.ChainBreaks))
	for _, b := range result.ChainBreaks {
		types = append(types, b.BreakType)
	}
	assert.Contains(t, types, BreakTypeSequenceGap)
	assert.Contains(t, types, BreakTypeBrokenLink)
}

func TestVerifyChain_DetectsTimestampReversal(t *testing.T) {
	first, err := NewEvent("CASE-1", EventCaseCreated, nil, "system", t0)
	require.NoError(t, err)
	require.NoError(t, first.Chain(1, ""))

	second, err := NewEvent("CASE-1", EventDataNormalized, nil, "system", t0.Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, second.Chain(2, first.EventHash))

	result := VerifyChain("CASE-1", []*Event{second, first})

	assert.False(t, result.IsValid)
	require.Len(t, result.ChainBreaks, 1)
	assert.Equal(t, BreakTypeTimestampReverse, result.ChainBreaks[0].BreakType)
}
