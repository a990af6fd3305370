// Package schema validates event payloads against their declared CUE
// schemas before they reach the log.
//
// Each versioned event name maps to a closed CUE definition in
// schemas.cue. Validation happens at commit time: a payload with a type
// mismatch, a missing required field, or an undeclared extra field fails
// with event.ValidationError, and the whole commit batch is rejected.
package schema

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/tempolog/tempolog/internal/event"
)

//go:embed schemas.cue
var schemasCUE string

// Validator checks event payloads against the embedded schema set.
// Safe for concurrent use after construction.
type Validator struct {
	cuectx  *cue.Context
	schemas cue.Value
}

// NewValidator compiles the embedded schema file.
// Fails only if the schema file itself is broken, which is a build defect.
func NewValidator() (*Validator, error) {
	cuectx := cuecontext.New()
	schemas := cuectx.CompileString(schemasCUE, cue.Filename("schemas.cue"))
	if err := schemas.Err(); err != nil {
		return nil, fmt.Errorf("compile event schemas: %w", err)
	}
	return &Validator{cuectx: cuectx, schemas: schemas}, nil
}

// ValidateEvent checks a stamped or unstamped event: the id must be set,
// the name must be in the closed taxonomy, and the payload must conform
// to the name's schema.
func (v *Validator) ValidateEvent(e event.Event) error {
	if e.ID == "" {
		return &event.ValidationError{Name: e.Name, Detail: "missing event id"}
	}
	if e.Payload == nil {
		return &event.ValidationError{Name: e.Name, EventID: e.ID, Detail: "missing payload"}
	}
	if e.Name != e.Payload.EventName() {
		return &event.ValidationError{
			Name:    e.Name,
			EventID: e.ID,
			Detail:  fmt.Sprintf("name does not match payload type %s", e.Payload.EventName()),
		}
	}
	raw, err := event.MarshalPayload(e.Payload)
	if err != nil {
		return &event.ValidationError{Name: e.Name, EventID: e.ID, Detail: err.Error()}
	}
	if err := v.Validate(e.Name, raw); err != nil {
		return err
	}
	return nil
}

// Validate checks a raw payload (wire JSON) against the schema for name.
// Returns event.ValidationError on schema violations and
// event.UnknownNameError for names outside the taxonomy.
func (v *Validator) Validate(name string, payload []byte) error {
	schema := v.schemas.LookupPath(cue.MakePath(cue.Str(name)))
	if !schema.Exists() {
		return &event.UnknownNameError{Name: name}
	}

	expr, err := cuejson.Extract(name, payload)
	if err != nil {
		return &event.ValidationError{Name: name, Detail: fmt.Sprintf("payload is not valid JSON: %v", err)}
	}
	val := v.cuectx.BuildExpr(expr)
	if err := val.Err(); err != nil {
		return &event.ValidationError{Name: name, Detail: cueerrors.Details(err, nil)}
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return &event.ValidationError{Name: name, Detail: cueerrors.Details(err, nil)}
	}
	return nil
}

// ValidateBatch checks every event in a commit batch, returning the first
// violation. Callers must treat any error as rejecting the whole batch.
func (v *Validator) ValidateBatch(events []event.Event) error {
	for _, e := range events {
		if err := v.ValidateEvent(e); err != nil {
			return err
		}
	}
	return nil
}
