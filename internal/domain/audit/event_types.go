package audit

// EventType identifies the pipeline step an audit event records
type EventType string

// Case lifecycle events
const (
	EventCaseCreated       EventType = "CASE_CREATED"
	EventCaseStatusChanged EventType = "CASE_STATUS_CHANGED"
	EventAlertCreated      EventType = "ALERT_CREATED"
)

// Detection events
const (
	EventDataNormalized EventType = "DATA_NORMALIZED"
	EventRulesEvaluated EventType = "RULES_EVALUATED"
	EventMLScored       EventType = "ML_SCORED"
	EventRAGRetrieved   EventType = "RAG_RETRIEVED"
)

// Claim and narrative events
const (
	EventClaimGenerated     EventType = "CLAIM_GENERATED"
	EventClaimStatusChanged EventType = "CLAIM_STATUS_CHANGED"
	EventNarrativeGenerated EventType = "NARRATIVE_GENERATED"
	EventNarrativeEdited    EventType = "NARRATIVE_EDITED"
	EventNarrativeApproved  EventType = "NARRATIVE_APPROVED"
	EventNarrativeRejected  EventType = "NARRATIVE_REJECTED"
)

// Regulatory events
const (
	EventValidationCompleted EventType = "VALIDATION_COMPLETED"
	EventFilingCreated       EventType = "FILING_CREATED"
	EventFilingSubmitted     EventType = "FILING_SUBMITTED"
)

// Security events
const (
	EventIntegrityViolation EventType = "INTEGRITY_VIOLATION"
)

var summaries = map[EventType]string{
	EventCaseCreated:         "Case ingested with raw input data",
	EventCaseStatusChanged:   "Case status changed",
	EventAlertCreated:        "High-risk alert raised for the case",
	EventDataNormalized:      "Raw data normalized into evidence objects",
	EventRulesEvaluated:      "Detection rules evaluated against evidence",
	EventMLScored:            "Risk model scored the case",
	EventRAGRetrieved:        "Regulatory references retrieved",
	EventClaimGenerated:      "Claim object assembled and hash-chained",
	EventClaimStatusChanged:  "Claim status changed",
	EventNarrativeGenerated:  "Narrative generated from the claim",
	EventNarrativeEdited:     "Narrative edited by an analyst",
	EventNarrativeApproved:   "Narrative approved",
	EventNarrativeRejected:   "Narrative rejected",
	EventValidationCompleted: "Regulatory validation checklist completed",
	EventFilingCreated:       "Final filing record created",
	EventFilingSubmitted:     "Filing submitted to the regulator",
	EventIntegrityViolation:  "Integrity verification failed",
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := summaries[t]
	return ok
}

// Summary is a one-line human description of the step.
func (t EventType) Summary() string {
	if s, ok := summaries[t]; ok {
		return s
	}
	return "Unknown event: " + string(t)
}

func (t EventType) String() string {
	return string(t)
}
