package pipeline

import (
	"context"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claimgen"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/omega"
)

// Retriever fetches regulatory context for a case. Hits are cited in the
// claim, never interpreted.
type Retriever interface {
	Retrieve(ctx context.Context, data *evidence.NormalizedData, eval *rules.Evaluation) (claimgen.Retrieval, error)
}

// Narrative is text produced by a Narrator plus its trace metadata.
type Narrative struct {
	Text         string `json:"text"`
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Narrator writes the SAR narrative for a sealed claim. The pipeline treats
// the text as opaque.
type Narrator interface {
	Narrate(ctx context.Context, obj *claim.Object, retrieval claimgen.Retrieval) (*Narrative, error)
}

// StaticNarrator returns caller-supplied text.
type StaticNarrator struct {
	Text string
}

func (n StaticNarrator) Narrate(_ context.Context, obj *claim.Object, _ claimgen.Retrieval) (*Narrative, error) {
	return &Narrative{
		Text:     n.Text,
		Provider: "static",
		Prompt:   "caller supplied narrative for case " + obj.CaseID,
	}, nil
}

// NoopRetriever returns no hits.
type NoopRetriever struct{}

func (NoopRetriever) Retrieve(context.Context, *evidence.NormalizedData, *rules.Evaluation) (claimgen.Retrieval, error) {
	return claimgen.Retrieval{}, nil
}

// AuditLogger records pipeline steps on the case trail.
type AuditLogger interface {
	Log(ctx context.Context, entry auditsvc.Entry) (*audit.Event, error)
}

// ClaimStore persists sealed claims.
type ClaimStore interface {
	Save(ctx context.Context, obj *claim.Object) error
}

// Finalizer validates and files a claim with its narrative.
type Finalizer interface {
	Finalize(ctx context.Context, req omega.Request) (*omega.Outcome, error)
}
