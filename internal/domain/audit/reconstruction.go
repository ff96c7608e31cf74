package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event data keys read by reconstruction. Writers use the same keys.
const (
	DataPrompt         = "prompt"
	DataProvider       = "provider"
	DataNarrative      = "narrative"
	DataResults        = "results"
	DataTriggeredRules = "triggered_rules"
	DataEvidenceCount  = "evidence_count"
	DataSourceFile     = "source_file"
	DataMetadata       = "metadata"
)

// PromptPreviewLength bounds the prompt excerpt shown for narrative steps.
const PromptPreviewLength = 500

// Step is one line of a reconstructed reasoning chain.
type Step struct {
	Sequence  int64          `json:"sequence"`
	EventID   uuid.UUID      `json:"event_id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
	CausedBy  []uuid.UUID    `json:"caused_by"`
}

// Reconstruction explains how a narrative fragment came to be.
type Reconstruction struct {
	CaseID        string `json:"case_id"`
	Fragment      string `json:"fragment"`
	FragmentFound bool   `json:"fragment_found"`
	Steps         []Step `json:"steps"`
}

// Reconstruct walks a trail in order and emits one step per event. The walk
// is linear: pipeline stages for a case are sequential, so trail order is
// causal order. CausedBy links are carried through for callers that need
// the explicit graph.
func Reconstruct(caseID, fragment string, trail []*Event) *Reconstruction {
	r := &Reconstruction{
		CaseID:   caseID,
		Fragment: fragment,
		Steps:    make([]Step, 0, len(trail)),
	}

	for _, e := range trail {
		causedBy := make([]uuid.UUID, len(e.CausedBy))
		copy(causedBy, e.CausedBy)

		r.Steps = append(r.Steps, Step{
			Sequence:  e.Sequence,
			EventID:   e.ID,
			EventType: e.Type,
			Timestamp: e.Timestamp,
			UserID:    e.UserID,
			Summary:   e.Summary(),
			Details:   stepDetails(e),
			CausedBy:  causedBy,
		})

		if fragment != "" && mentionsFragment(e, fragment) {
			r.FragmentFound = true
		}
	}
	return r
}

func stepDetails(e *Event) map[string]any {
	switch e.Type {
	case EventNarrativeGenerated, EventNarrativeEdited:
		details := map[string]any{"prompt_preview": PromptPreview(stringValue(e.Data[DataPrompt]))}
		if provider := stringValue(e.Data[DataProvider]); provider != "" {
			details["provider"] = provider
		}
		return details

	case EventRAGRetrieved:
		return map[string]any{"sources": retrievedSources(e.Data[DataResults])}

	case EventRulesEvaluated:
		return map[string]any{"rules_triggered": stringList(e.Data[DataTriggeredRules])}

	case EventDataNormalized:
		return map[string]any{"evidence_count": intValue(e.Data[DataEvidenceCount])}
	}
	return nil
}

// PromptPreview returns at most PromptPreviewLength characters of a prompt,
// with "..." appended when it was cut.
func PromptPreview(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= PromptPreviewLength {
		return prompt
	}
	return string(runes[:PromptPreviewLength]) + "..."
}

// retrievedSources lists metadata.source_file per category, categories in
// name order.
func retrievedSources(v any) map[string][]string {
	out := make(map[string][]string)
	categories, ok := v.(map[string]any)
	if !ok {
		return out
	}

	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		files := []string{}
		hits, _ := categories[name].([]any)
		for _, hit := range hits {
			m, ok := hit.(map[string]any)
			if !ok {
				continue
			}
			meta, _ := m[DataMetadata].(map[string]any)
			if f := stringValue(meta[DataSourceFile]); f != "" {
				files = append(files, f)
			}
		}
		out[name] = files
	}
	return out
}

func mentionsFragment(e *Event, fragment string) bool {
	switch e.Type {
	case EventNarrativeGenerated, EventNarrativeEdited, EventNarrativeApproved:
		return strings.Contains(stringValue(e.Data[DataNarrative]), fragment)
	}
	return false
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func stringList(v any) []string {
	out := []string{}
	switch list := v.(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			out = append(out, stringValue(item))
		}
	}
	return out
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
