package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

func TestDictHash_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 2, "a": "x", "nested": map[string]any{"z": true, "y": []int{3, 1}}}
	b := map[string]any{"nested": map[string]any{"y": []int{3, 1}, "z": true}, "a": "x", "b": 2}

	ha, err := DictHash(a)
	require.NoError(t, err)
	hb, err := DictHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, HexLength)
	assert.True(t, IsHexDigest(ha))
}

func TestDictHash_LeafChangeChangesHash(t *testing.T) {
	base := map[string]any{"amount": 100, "country": "IN"}
	changed := map[string]any{"amount": 101, "country": "IN"}

	h1, err := DictHash(base)
	require.NoError(t, err)
	h2, err := DictHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestDictHash_StructAndMapAgree(t *testing.T) {
	type pair struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	hs, err := DictHash(pair{B: 1, A: "v"})
	require.NoError(t, err)
	hm, err := DictHash(map[string]any{"a": "v", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, hs, hm)
}

func TestDictHash_RejectsNaN(t *testing.T) {
	_, err := DictHash(map[string]any{"x": math.NaN()})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestPipelineChainHash(t *testing.T) {
	empty := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(empty[:]), PipelineChainHash(nil))

	s1 := SumHex([]byte("stage-1"))
	s2 := SumHex([]byte("stage-2"))
	joined := sha256.Sum256([]byte(s1 + s2))
	assert.Equal(t, hex.EncodeToString(joined[:]), PipelineChainHash([]string{s1, s2}))
	assert.NotEqual(t, PipelineChainHash([]string{s1, s2}), PipelineChainHash([]string{s2, s1}))
}

func TestLineageAndInputHash_AlertOrderIndependent(t *testing.T) {
	customer := map[string]any{"customer_id": "C-1"}

	l1, err := DataLineageHash("CASE-1", []string{"A2", "A1"}, customer)
	require.NoError(t, err)
	l2, err := DataLineageHash("CASE-1", []string{"A1", "A2"}, customer)
	require.NoError(t, err)
	assert.Equal(t, l1, l2)

	rules := []map[string]any{{"rule_name": "threshold_check", "triggered": true}}
	fraud := map[string]any{"confidence": 0.4}
	i1, err := ClaimInputHash("CASE-1", []string{"A2", "A1"}, customer, rules, fraud)
	require.NoError(t, err)
	i2, err := ClaimInputHash("CASE-1", []string{"A1", "A2"}, customer, rules, fraud)
	require.NoError(t, err)
	assert.Equal(t, i1, i2)
	assert.NotEqual(t, l1, i1)

	i3, err := ClaimInputHash("CASE-1", []string{"A1", "A2"}, customer, rules, map[string]any{"confidence": 0.5})
	require.NoError(t, err)
	assert.NotEqual(t, i1, i3)
}

func TestClaimOutputHash_IgnoresIntegritySection(t *testing.T) {
	withEmpty := map[string]any{
		"claim_id":     "c-1",
		"risk":         0.25,
		IntegrityField: map[string]any{"input_hash": "", "output_hash": "", "full_chain_hash": ""},
	}
	withFilled := map[string]any{
		"claim_id":     "c-1",
		"risk":         0.25,
		IntegrityField: map[string]any{"input_hash": "aa", "output_hash": "bb", "full_chain_hash": "cc"},
	}
	without := map[string]any{"claim_id": "c-1", "risk": 0.25}

	h1, err := ClaimOutputHash(withEmpty)
	require.NoError(t, err)
	h2, err := ClaimOutputHash(withFilled)
	require.NoError(t, err)
	h3, err := ClaimOutputHash(without)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, h1, h3)
}

func TestClaimOutputHash_RejectsNonObject(t *testing.T) {
	_, err := ClaimOutputHash([]string{"a"})
	require.Error(t, err)
}

func TestFullChainHash(t *testing.T) {
	sum := sha256.Sum256([]byte("in" + "out" + "pipe"))
	assert.Equal(t, hex.EncodeToString(sum[:]), FullChainHash("in", "out", "pipe"))
}

func TestVerify(t *testing.T) {
	record := map[string]any{"case_id": "CASE-9", "alerts": []string{"A"}}
	h, err := DictHash(record)
	require.NoError(t, err)

	ok, err := Verify(record, h)
	require.NoError(t, err)
	assert.True(t, ok)

	record["case_id"] = "CASE-10"
	ok, err = Verify(record, h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsHexDigest(t *testing.T) {
	assert.False(t, IsHexDigest(""))
	assert.False(t, IsHexDigest("abc"))
	assert.False(t, IsHexDigest(string(make([]byte, HexLength))))
	assert.True(t, IsHexDigest(SumHex([]byte("x"))))
}
