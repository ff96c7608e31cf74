package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 123456789, time.UTC)

func chainOf(t *testing.T, types ...EventType) []*Event {
	t.Helper()
	events := make([]*Event, 0, len(types))
	prev := ""
	for i, typ := range types {
		e, err := NewEvent("CASE-1", typ, map[string]any{"step": i}, "system", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, e.Chain(int64(i+1), prev))
		prev = e.EventHash
		events = append(events, e)
	}
	return events
}

func TestNewEvent_Validation(t *testing.T) {
	_, err := NewEvent("", EventCaseCreated, nil, "u", t0)
	assert.Error(t, err)

	_, err = NewEvent("CASE-1", "SOMETHING_ELSE", nil, "u", t0)
	assert.Error(t, err)

	_, err = NewEvent("CASE-1", EventCaseCreated, nil, "", t0)
	assert.Error(t, err)

	_, err = NewEvent("CASE-1", EventCaseCreated, map[string]any{"ch": make(chan int)}, "u", t0)
	assert.Error(t, err)
}

func TestNewEvent_NormalizesDataAndTime(t *testing.T) {
	e, err := NewEvent("CASE-1", EventRulesEvaluated, map[string]any{
		DataTriggeredRules: []string{"threshold_check"},
		DataEvidenceCount:  3,
	}, "system", t0)
	require.NoError(t, err)

	assert.Equal(t, []any{"threshold_check"}, e.Data[DataTriggeredRules])
	assert.Equal(t, 3.0, e.Data[DataEvidenceCount])
	assert.Equal(t, 123456000, e.Timestamp.Nanosecond())
	assert.False(t, e.IsChained())
}

func TestChain_SealsOnce(t *testing.T) {
	e, err := NewEvent("CASE-1", EventCaseCreated, nil, "system", t0)
	require.NoError(t, err)

	require.NoError(t, e.Chain(1, ""))
	assert.Len(t, e.EventHash, 64)
	assert.True(t, e.IsChained())

	assert.Error(t, e.Chain(2, e.EventHash))
}

func TestChain_RejectsNonPositiveSequence(t *testing.T) {
	e, err := NewEvent("CASE-1", EventCaseCreated, nil, "system", t0)
	require.NoError(t, err)
	assert.Error(t, e.Chain(0, ""))
}

func TestComputeHash_CoversContent(t *testing.T) {
	e := chainOf(t, EventCaseCreated)[0]

	same, err := e.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, e.EventHash, same)

	e.Data["step"] = 99.0
	changed, err := e.ComputeHash()
	require.NoError(t, err)
	assert.NotEqual(t, e.EventHash, changed)

	e.Data["step"] = 0.0
	e.CausedBy = append(e.CausedBy, uuid.New())
	changed, err = e.ComputeHash()
	require.NoError(t, err)
	assert.NotEqual(t, e.EventHash, changed)
}

func TestEventTypeSummary(t *testing.T) {
	assert.Equal(t, "Case ingested with raw input data", EventCaseCreated.Summary())
	assert.True(t, strings.HasPrefix(EventType("NOPE").Summary(), "Unknown event"))
	assert.True(t, EventIntegrityViolation.Valid())
}
