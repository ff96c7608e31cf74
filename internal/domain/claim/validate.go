package claim

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/hashchain"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/validation"
)

const schemaURL = "https://sar-claim-pipeline.local/schemas/claim.schema.json"

//go:embed claim.schema.json
var schemaDocument string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error

	structValidator = validation.New()
)

func claimSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaDocument)); err != nil {
			schemaErr = fmt.Errorf("claim schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Validate checks a sealed claim against its struct tags, its cross-field
// invariants and the embedded JSON Schema. The first failing layer wins.
func Validate(obj *Object) error {
	if obj == nil {
		return errors.NewSchemaError("claim object is required")
	}

	if err := validation.Struct(structValidator, errors.CodeSchema, &obj.PreHash); err != nil {
		return err
	}
	if err := validation.Struct(structValidator, errors.CodeSchema, sealed{obj.IntegrityHashes}); err != nil {
		return err
	}

	if err := checkInvariants(obj); err != nil {
		return err
	}

	return validateSchema(obj)
}

// sealed keeps the integrity_hashes prefix on field errors.
type sealed struct {
	IntegrityHashes IntegrityHashes `json:"integrity_hashes"`
}

func checkInvariants(obj *Object) error {
	sc := obj.SecurityControls
	if sc.PIIRedacted > sc.PIIDetected {
		return errors.NewFieldError(errors.CodeSchema, "security_controls.pii_redacted",
			fmt.Sprintf("pii_redacted (%d) cannot exceed pii_detected (%d)", sc.PIIRedacted, sc.PIIDetected))
	}
	if obj.TimestampLastUpdated.Before(obj.TimestampCreated) {
		return errors.NewFieldError(errors.CodeSchema, "timestamp_last_updated",
			"timestamp_last_updated cannot precede timestamp_created")
	}
	return nil
}

func validateSchema(obj *Object) error {
	schema, err := claimSchema()
	if err != nil {
		return errors.NewInternalError("claim schema unavailable").WithCause(err)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return errors.NewSchemaError("claim cannot be encoded as JSON").WithCause(err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return errors.NewSchemaError("claim cannot be decoded as JSON").WithCause(err)
	}

	if err := schema.Validate(doc); err != nil {
		return errors.NewSchemaError("claim violates schema").WithCause(err).
			WithDetails(map[string]interface{}{"schema_error": err.Error()})
	}
	return nil
}

// Verify re-derives the stored claim's output and full-chain hashes.
func Verify(obj *Object) error {
	if obj == nil {
		return errors.NewSchemaError("claim object is required")
	}
	h := obj.IntegrityHashes
	return hashchain.VerifyClaim(obj, h.InputHash, h.OutputHash, h.FullChainHash, obj.PipelineHashes())
}
