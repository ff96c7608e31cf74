package audit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/hashchain"
)

// ChainVerificationResult contains the results of verifying one case trail
type ChainVerificationResult struct {
	CaseID            string        `json:"case_id"`
	IsValid           bool          `json:"is_valid"`
	EventsVerified    int           `json:"events_verified"`
	ChainBreaks       []*ChainBreak `json:"chain_breaks"`
	AggregateHash     string        `json:"aggregate_hash"`
	StartSequence     int64         `json:"start_sequence,omitempty"`
	EndSequence       int64         `json:"end_sequence,omitempty"`
	ErrorsEncountered []string      `json:"errors_encountered,omitempty"`
}

// ChainBreak represents a detected break in the hash chain
type ChainBreak struct {
	EventID         string    `json:"event_id"`
	Sequence        int64     `json:"sequence"`
	ExpectedHash    string    `json:"expected_hash,omitempty"`
	ActualHash      string    `json:"actual_hash,omitempty"`
	BreakType       BreakType `json:"break_type"`
	Description     string    `json:"description"`
	PreviousEventID string    `json:"previous_event_id,omitempty"`
}

// BreakType categorizes the type of chain break
type BreakType string

const (
	BreakTypeHashMismatch     BreakType = "hash_mismatch"
	BreakTypeBrokenLink       BreakType = "broken_link"
	BreakTypeSequenceGap      BreakType = "sequence_gap"
	BreakTypeTimestampReverse BreakType = "timestamp_reverse"
)

// VerifyChain checks a case trail event by event: sequence continuity from
// 1, non-decreasing timestamps, the previous-hash link and each event's own
// hash. Every break is reported; verification does not stop at the first.
func VerifyChain(caseID string, events []*Event) *ChainVerificationResult {
	result := &ChainVerificationResult{
		CaseID:      caseID,
		IsValid:     true,
		ChainBreaks: make([]*ChainBreak, 0),
	}
	if len(events) == 0 {
		return result
	}

	sorted := make([]*Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sequence < sorted[j].Sequence
	})

	result.StartSequence = sorted[0].Sequence
	result.EndSequence = sorted[len(sorted)-1].Sequence

	previousHash := ""
	for i, event := range sorted {
		result.EventsVerified++
		brk := func(t BreakType, desc string) *ChainBreak {
			b := &ChainBreak{
				EventID:     event.ID.String(),
				Sequence:    event.Sequence,
				BreakType:   t,
				Description: desc,
			}
			if i > 0 {
				b.PreviousEventID = sorted[i-1].ID.String()
			}
			result.IsValid = false
			result.ChainBreaks = append(result.ChainBreaks, b)
			return b
		}

		if expected := int64(i + 1); event.Sequence != expected {
			brk(BreakTypeSequenceGap, fmt.Sprintf("Expected sequence %d, got %d", expected, event.Sequence))
		}

		if i > 0 && event.Timestamp.Before(sorted[i-1].Timestamp) {
			brk(BreakTypeTimestampReverse, "Event timestamp is before previous event")
		}

		if event.PreviousHash != previousHash {
			b := brk(BreakTypeBrokenLink, "Previous hash does not match preceding event")
			b.ExpectedHash = previousHash
			b.ActualHash = event.PreviousHash
		}

		computed, err := event.ComputeHash()
		if err != nil {
			result.IsValid = false
			result.ErrorsEncountered = append(result.ErrorsEncountered,
				fmt.Sprintf("Hash verification error for event %s: %v", event.ID, err))
		} else if computed != event.EventHash {
			b := brk(BreakTypeHashMismatch, "Event content does not match its hash")
			b.ExpectedHash = event.EventHash
			b.ActualHash = computed
		}

		previousHash = event.EventHash
	}

	result.AggregateHash = aggregateHash(sorted)
	return result
}

// aggregateHash summarises a whole trail in one digest.
func aggregateHash(events []*Event) string {
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = fmt.Sprintf("%d:%s:%s", e.Sequence, e.ID, e.EventHash)
	}
	return hashchain.SumHex([]byte(strings.Join(parts, "|")))
}
