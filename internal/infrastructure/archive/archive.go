// Package archive writes tamper-evident case bundles to object storage for
// long-term retention and verifies them on the way back.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/filing"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/telemetry"
)

const (
	bundleFile   = "bundle.json.gz"
	manifestFile = "manifest.json"

	// FormatVersion is bumped whenever the bundle layout changes.
	FormatVersion = "1"
)

// ObjectStore is a flat key/value blob store. Get reports a missing key as a
// not-found AppError.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type TrailReader interface {
	GetTrail(ctx context.Context, caseID string) ([]*audit.Event, error)
}

type ClaimLister interface {
	ListByCase(ctx context.Context, caseID string) ([]*claim.Object, error)
}

type FilingLister interface {
	ListByCase(ctx context.Context, caseID string) ([]*filing.Filing, error)
}

// Bundle is everything recorded for one case.
type Bundle struct {
	FormatVersion string           `json:"format_version"`
	CaseID        string           `json:"case_id"`
	Events        []*audit.Event   `json:"events"`
	Claims        []*claim.Object  `json:"claims"`
	Filings       []*filing.Filing `json:"filings"`
}

// Manifest describes a stored bundle. It is written next to the bundle and
// is what verification compares against.
type Manifest struct {
	ArchiveID        string    `json:"archive_id"`
	CaseID           string    `json:"case_id"`
	FormatVersion    string    `json:"format_version"`
	BundleKey        string    `json:"bundle_key"`
	EventCount       int       `json:"event_count"`
	StartSequence    int64     `json:"start_sequence"`
	EndSequence      int64     `json:"end_sequence"`
	LastEventHash    string    `json:"last_event_hash"`
	AggregateHash    string    `json:"aggregate_hash"`
	ClaimIDs         []string  `json:"claim_ids"`
	FilingNumbers    []string  `json:"filing_numbers"`
	SHA256           string    `json:"sha256"`
	CompressedSize   int64     `json:"compressed_size"`
	UncompressedSize int64     `json:"uncompressed_size"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	RetainUntil      time.Time `json:"retain_until"`
}

// IntegrityResult is the outcome of re-reading an archive.
type IntegrityResult struct {
	ArchiveID     string    `json:"archive_id"`
	CaseID        string    `json:"case_id"`
	IsValid       bool      `json:"is_valid"`
	EventCount    int       `json:"event_count"`
	ChecksumValid bool      `json:"checksum_valid"`
	ChainValid    bool      `json:"chain_valid"`
	ClaimsValid   bool      `json:"claims_valid"`
	Errors        []string  `json:"errors,omitempty"`
	VerifiedAt    time.Time `json:"verified_at"`
}

type Config struct {
	Prefix        string
	RetentionDays int
}

// Archiver bundles a case's audit trail, claims and filings.
type Archiver struct {
	store   ObjectStore
	trail   TrailReader
	claims  ClaimLister
	filings FilingLister
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

type Option func(*Archiver)

func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

func WithIDSource(newID func() string) Option {
	return func(a *Archiver) { a.newID = newID }
}

func NewArchiver(store ObjectStore, trail TrailReader, claims ClaimLister, filings FilingLister, cfg Config, logger *zap.Logger, opts ...Option) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 5 * 365
	}
	a := &Archiver{
		store:   store,
		trail:   trail,
		claims:  claims,
		filings: filings,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("archive"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ArchiveCase writes the case bundle and its manifest. A case whose audit
// chain or claims fail verification is not archived.
func (a *Archiver) ArchiveCase(ctx context.Context, caseID, actor string) (*Manifest, error) {
	ctx, span := a.tracer.Start(ctx, "archive.archive_case",
		trace.WithAttributes(telemetry.CaseID(caseID)))
	defer span.End()

	m, err := a.archiveCase(ctx, caseID, actor)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	a.logger.Info("Case archived",
		zap.String("case_id", caseID),
		zap.String("archive_id", m.ArchiveID),
		zap.Int("events", m.EventCount),
		zap.Int64("compressed_size", m.CompressedSize),
	)
	return m, nil
}

func (a *Archiver) archiveCase(ctx context.Context, caseID, actor string) (*Manifest, error) {
	if caseID == "" {
		return nil, errors.NewFieldError("INVALID_CASE_ID", "case_id", "case_id is required")
	}
	if actor == "" {
		actor = "system"
	}

	events, err := a.trail.GetTrail(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errors.NewNotFoundError("case trail")
	}
	chain := audit.VerifyChain(caseID, events)
	if !chain.IsValid {
		return nil, errors.NewIntegrityError("audit_chain", "valid chain",
			fmt.Sprintf("%d chain breaks", len(chain.ChainBreaks)))
	}

	claims, err := a.claims.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	for _, obj := range claims {
		if err := claim.Verify(obj); err != nil {
			return nil, err
		}
	}
	filings, err := a.filings.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(Bundle{
		FormatVersion: FormatVersion,
		CaseID:        caseID,
		Events:        events,
		Claims:        claims,
		Filings:       filings,
	})
	if err != nil {
		return nil, errors.NewInternalError("encode archive bundle").WithCause(err)
	}
	compressed, err := compress(raw)
	if err != nil {
		return nil, errors.NewInternalError("compress archive bundle").WithCause(err)
	}

	id := a.newID()
	now := a.now().UTC()
	m := &Manifest{
		ArchiveID:        id,
		CaseID:           caseID,
		FormatVersion:    FormatVersion,
		BundleKey:        a.key(caseID, id, bundleFile),
		EventCount:       len(events),
		StartSequence:    chain.StartSequence,
		EndSequence:      chain.EndSequence,
		LastEventHash:    events[len(events)-1].EventHash,
		AggregateHash:    chain.AggregateHash,
		ClaimIDs:         make([]string, 0, len(claims)),
		FilingNumbers:    make([]string, 0, len(filings)),
		SHA256:           sum(compressed),
		CompressedSize:   int64(len(compressed)),
		UncompressedSize: int64(len(raw)),
		CreatedBy:        actor,
		CreatedAt:        now,
		RetainUntil:      now.AddDate(0, 0, a.cfg.RetentionDays),
	}
	for _, obj := range claims {
		m.ClaimIDs = append(m.ClaimIDs, obj.ClaimID)
	}
	for _, f := range filings {
		m.FilingNumbers = append(m.FilingNumbers, f.FilingNumber)
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.NewInternalError("encode archive manifest").WithCause(err)
	}

	// The manifest goes last so a listed manifest always has its bundle.
	if err := a.store.Put(ctx, m.BundleKey, compressed, "application/gzip"); err != nil {
		return nil, err
	}
	if err := a.store.Put(ctx, a.key(caseID, id, manifestFile), manifest, "application/json"); err != nil {
		return nil, err
	}
	return m, nil
}

// VerifyArchive re-reads an archive and checks its checksum, audit chain and
// claim hashes against the manifest. Integrity failures are reported in the
// result; only read failures are errors.
func (a *Archiver) VerifyArchive(ctx context.Context, caseID, archiveID string) (*IntegrityResult, error) {
	ctx, span := a.tracer.Start(ctx, "archive.verify",
		trace.WithAttributes(
			telemetry.CaseID(caseID),
			attribute.String("archive_id", archiveID),
		))
	defer span.End()

	manifestRaw, err := a.store.Get(ctx, a.key(caseID, archiveID, manifestFile))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(manifestRaw, &m); err != nil {
		return nil, errors.NewIntegrityError("manifest", "valid json", err.Error())
	}

	res := &IntegrityResult{ArchiveID: archiveID, CaseID: caseID, VerifiedAt: a.now().UTC()}
	fail := func(format string, args ...any) {
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	compressed, err := a.store.Get(ctx, m.BundleKey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	res.ChecksumValid = sum(compressed) == m.SHA256
	if !res.ChecksumValid {
		fail("bundle checksum mismatch")
	}

	var b Bundle
	raw, err := decompress(compressed)
	if err == nil {
		err = json.Unmarshal(raw, &b)
	}
	if err != nil {
		fail("bundle unreadable: %v", err)
		a.logVerification(res)
		return res, nil
	}
	res.EventCount = len(b.Events)

	chain := audit.VerifyChain(caseID, b.Events)
	res.ChainValid = chain.IsValid && chain.AggregateHash == m.AggregateHash && len(b.Events) == m.EventCount
	if !res.ChainValid {
		fail("audit chain does not match manifest: %d breaks", len(chain.ChainBreaks))
	}

	res.ClaimsValid = len(b.Claims) == len(m.ClaimIDs)
	for _, obj := range b.Claims {
		if err := claim.Verify(obj); err != nil {
			res.ClaimsValid = false
			fail("claim %s: %v", obj.ClaimID, err)
		}
	}
	if len(b.Claims) != len(m.ClaimIDs) {
		fail("expected %d claims, found %d", len(m.ClaimIDs), len(b.Claims))
	}

	res.IsValid = res.ChecksumValid && res.ChainValid && res.ClaimsValid
	a.logVerification(res)
	return res, nil
}

func (a *Archiver) logVerification(res *IntegrityResult) {
	if res.IsValid {
		a.logger.Info("Archive verified", zap.String("archive_id", res.ArchiveID))
		return
	}
	a.logger.Warn("Archive failed verification",
		zap.String("archive_id", res.ArchiveID),
		zap.Strings("errors", res.Errors),
	)
}

func (a *Archiver) key(caseID, archiveID, file string) string {
	return a.cfg.Prefix + path.Join(caseID, archiveID, file)
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
