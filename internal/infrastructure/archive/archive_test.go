package archive_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/archive"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/config"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/memory"
	"github.com/davidleathers/sar-claim-pipeline/internal/service"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/pipeline"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil/fixtures"
)

var t0 = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

type harness struct {
	bucket   *fakeS3
	archiver *archive.Archiver
	svcs     *service.Services
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	svcs := service.NewServiceFactories(config.Defaults(), memory.NewStore(), logger).Build()

	bucket := newFakeS3()
	a := archive.NewArchiver(archive.NewS3StoreWithClient(bucket, "sar-archive"),
		svcs.Trail, svcs.Claims, svcs.Finalizer,
		archive.Config{Prefix: "archives/", RetentionDays: 30},
		logger,
		archive.WithClock(testutil.FixedClock(t0)),
		archive.WithIDSource(func() string { return "ARCH-1" }),
	)
	return &harness{bucket: bucket, archiver: a, svcs: svcs}
}

func (h *harness) process(t *testing.T, caseID string) *pipeline.Result {
	t.Helper()
	res, err := h.svcs.Pipeline.ProcessCase(testutil.TestContext(t), pipeline.CaseRequest{
		Case:      fixtures.NewCaseBuilder(caseID).Build(),
		UserID:    "analyst-2",
		Narrative: fixtures.Narrative(600),
	})
	require.NoError(t, err)
	return res
}

func TestArchiveCase_WritesBundleAndManifest(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	res := h.process(t, "CASE-A1")

	m, err := h.archiver.ArchiveCase(ctx, "CASE-A1", "auditor-1")
	require.NoError(t, err)

	assert.Equal(t, "ARCH-1", m.ArchiveID)
	assert.Equal(t, "archives/CASE-A1/ARCH-1/bundle.json.gz", m.BundleKey)
	assert.Equal(t, len(res.AuditTrail), m.EventCount)
	assert.Equal(t, int64(1), m.StartSequence)
	assert.Equal(t, int64(m.EventCount), m.EndSequence)
	assert.Equal(t, []string{res.Claim.ClaimID}, m.ClaimIDs)
	assert.Equal(t, []string{res.Filing.FilingID}, m.FilingNumbers)
	assert.Equal(t, t0.AddDate(0, 0, 30), m.RetainUntil)
	assert.Len(t, m.SHA256, 64)

	require.Len(t, h.bucket.puts, 2)
	assert.Equal(t, "archives/CASE-A1/ARCH-1/bundle.json.gz", aws.ToString(h.bucket.puts[0].Key))
	assert.Equal(t, "archives/CASE-A1/ARCH-1/manifest.json", aws.ToString(h.bucket.puts[1].Key))
	assert.Equal(t, types.ServerSideEncryptionAes256, h.bucket.puts[0].ServerSideEncryption)

	check, err := h.archiver.VerifyArchive(ctx, "CASE-A1", "ARCH-1")
	require.NoError(t, err)
	assert.True(t, check.IsValid, check.Errors)
	assert.Equal(t, m.EventCount, check.EventCount)
}

func TestVerifyArchive_DetectsTamperedBundle(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	h.process(t, "CASE-A2")

	m, err := h.archiver.ArchiveCase(ctx, "CASE-A2", "")
	require.NoError(t, err)

	var bundle map[string]any
	zr, err := gzip.NewReader(bytes.NewReader(h.bucket.objects[m.BundleKey]))
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(zr).Decode(&bundle))

	events := bundle["events"].([]any)
	first := events[0].(map[string]any)
	first["user_id"] = "someone-else"

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	require.NoError(t, json.NewEncoder(zw).Encode(bundle))
	require.NoError(t, zw.Close())
	h.bucket.objects[m.BundleKey] = buf.Bytes()

	check, err := h.archiver.VerifyArchive(ctx, "CASE-A2", m.ArchiveID)
	require.NoError(t, err)
	assert.False(t, check.IsValid)
	assert.False(t, check.ChecksumValid)
	assert.False(t, check.ChainValid)
	assert.True(t, check.ClaimsValid)
}

func TestVerifyArchive_UnreadableBundle(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	h.process(t, "CASE-A3")

	m, err := h.archiver.ArchiveCase(ctx, "CASE-A3", "")
	require.NoError(t, err)
	h.bucket.objects[m.BundleKey] = []byte("not gzip")

	check, err := h.archiver.VerifyArchive(ctx, "CASE-A3", m.ArchiveID)
	require.NoError(t, err)
	assert.False(t, check.IsValid)
	require.NotEmpty(t, check.Errors)
	assert.True(t, strings.HasPrefix(check.Errors[len(check.Errors)-1], "bundle unreadable"))
}

func TestArchiveCase_UnknownCase(t *testing.T) {
	h := newHarness(t)

	_, err := h.archiver.ArchiveCase(testutil.TestContext(t), "CASE-NONE", "")
	require.Error(t, err)
	assert.Equal(t, 404, errors.GetStatusCode(err))
	assert.Empty(t, h.bucket.objects)

	_, err = h.archiver.ArchiveCase(testutil.TestContext(t), "", "")
	assert.Equal(t, "INVALID_CASE_ID", errors.CodeOf(err))
}

func TestVerifyArchive_MissingArchive(t *testing.T) {
	h := newHarness(t)

	_, err := h.archiver.VerifyArchive(testutil.TestContext(t), "CASE-A1", "nope")
	require.Error(t, err)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errors.CodeOf(err))
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	cfg := config.Defaults().Archive
	_, err := archive.NewS3Store(context.Background(), &cfg)
	require.Error(t, err)
	assert.Equal(t, "INVALID_ARCHIVE_CONFIG", errors.CodeOf(err))
}
