// Package hashchain computes the SHA-256 digests that bind a claim to its
// inputs. Every digest is taken over RFC 8785 canonical JSON, so logically
// equal content hashes identically regardless of key order.
package hashchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

// IntegrityField is the claim section excluded from the output hash.
const IntegrityField = "integrity_hashes"

// HexLength is the length of a hex-encoded SHA-256 digest.
const HexLength = 64

// Canonicalize returns the canonical JSON encoding of v. Values with their own
// MarshalJSON (time.Time, decimal.Decimal, uuid.UUID) serialize through it.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewValidationError("UNSERIALIZABLE_VALUE",
			"value cannot be encoded as JSON").WithCause(err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, errors.NewValidationError("CANONICALIZATION_FAILED",
			"value cannot be canonicalized").WithCause(err)
	}
	return out, nil
}

// SumHex returns the hex SHA-256 of data.
func SumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DictHash hashes the canonical encoding of v.
func DictHash(v any) (string, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return SumHex(data), nil
}

// PipelineChainHash hashes the ordered concatenation of per-stage hashes.
// An empty pipeline hashes the empty string.
func PipelineChainHash(stageHashes []string) string {
	return SumHex([]byte(strings.Join(stageHashes, "")))
}

// DataLineageHash binds a case to its alerts and customer record.
func DataLineageHash(caseID string, alertIDs []string, customer any) (string, error) {
	customerHash, err := DictHash(customer)
	if err != nil {
		return "", err
	}
	return DictHash(map[string]any{
		"case_id":       caseID,
		"alert_ids":     sortedCopy(alertIDs),
		"customer_hash": customerHash,
	})
}

// ClaimInputHash covers the raw detection inputs of a claim.
func ClaimInputHash(caseID string, alertIDs []string, customer, ruleResults, fraudScores any) (string, error) {
	customerHash, err := DictHash(customer)
	if err != nil {
		return "", err
	}
	rulesHash, err := DictHash(ruleResults)
	if err != nil {
		return "", err
	}
	fraudHash, err := DictHash(fraudScores)
	if err != nil {
		return "", err
	}
	return DictHash(map[string]any{
		"case_id":       caseID,
		"alert_ids":     sortedCopy(alertIDs),
		"customer_hash": customerHash,
		"rules_hash":    rulesHash,
		"fraud_hash":    fraudHash,
	})
}

// ClaimOutputHash hashes an assembled claim with its integrity_hashes field
// removed. The result never depends on what that field held.
func ClaimOutputHash(claim any) (string, error) {
	data, err := json.Marshal(claim)
	if err != nil {
		return "", errors.NewValidationError("UNSERIALIZABLE_VALUE",
			"claim cannot be encoded as JSON").WithCause(err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return "", errors.NewValidationError("INVALID_CLAIM_SHAPE",
			"claim must encode as a JSON object").WithCause(err)
	}
	delete(doc, IntegrityField)

	return DictHash(doc)
}

// FullChainHash = SHA256(input ∥ output ∥ pipeline).
func FullChainHash(inputHash, outputHash, pipelineHash string) string {
	return SumHex([]byte(inputHash + outputHash + pipelineHash))
}

// Verify re-derives the hash of v and compares it with expected. It is meant
// for stored records; a mismatch signals tampering.
func Verify(v any, expected string) (bool, error) {
	actual, err := DictHash(v)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

// IsHexDigest reports whether s looks like a SHA-256 hex digest.
func IsHexDigest(s string) bool {
	if len(s) != HexLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// VerifyClaim re-derives the output and full-chain hashes of a stored claim
// and compares them with the recorded values.
func VerifyClaim(claim any, inputHash, outputHash, fullChainHash string, stageHashes []string) error {
	actualOutput, err := ClaimOutputHash(claim)
	if err != nil {
		return err
	}
	if actualOutput != outputHash {
		return errors.NewIntegrityError("output_hash", outputHash, actualOutput)
	}
	actualFull := FullChainHash(inputHash, actualOutput, PipelineChainHash(stageHashes))
	if actualFull != fullChainHash {
		return errors.NewIntegrityError("full_chain_hash", fullChainHash, actualFull)
	}
	return nil
}
