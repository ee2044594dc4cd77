// Package envelope defines the JSON response envelope exchanged between AJAX
// functions and the pages that consume them.
package envelope

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Wire property names. They are fixed by contract with every consumer.
const (
	PropertySuccess      = "success"
	PropertyValue        = "value"
	PropertyErrorMessage = "errormessage"
	PropertyExternalCSS  = "externalcss"
	PropertyInlineCSS    = "inlinecss"
	PropertyExternalJS   = "externaljs"
	PropertyInlineJS     = "inlinejs"
)

// GenericErrorMessage is shown for failed envelopes.
const GenericErrorMessage = "Error invoking AJAX function!"

var (
	// ErrEnvelopeFailure marks an envelope whose success flag is false.
	ErrEnvelopeFailure = errors.New("envelope reports failure")
	// ErrMalformedEnvelope marks a payload that is not a valid envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// Envelope is a decoded server response. It is treated as immutable once
// received.
type Envelope struct {
	Success      bool            `json:"success"`
	Value        json.RawMessage `json:"value,omitempty"`
	ErrorMessage string          `json:"errormessage,omitempty"`
	ExternalJS   []string        `json:"externaljs,omitempty"`
	ExternalCSS  []string        `json:"externalcss,omitempty"`
	InlineCSS    string          `json:"inlinecss,omitempty"`
	InlineJS     string          `json:"inlinejs,omitempty"`
}

// HasInlineJS reports whether an inline script body is present.
func (e *Envelope) HasInlineJS() bool {
	return e != nil && e.InlineJS != ""
}

// FailureMessage returns the user-visible text for a failed envelope.
func (e *Envelope) FailureMessage() string {
	if e == nil || e.ErrorMessage == "" {
		return GenericErrorMessage
	}
	return GenericErrorMessage + " " + e.ErrorMessage
}

// Err returns ErrEnvelopeFailure for failed envelopes and nil otherwise.
func (e *Envelope) Err() error {
	if e == nil || !e.Success {
		return fmt.Errorf("%w: %s", ErrEnvelopeFailure, e.FailureMessage())
	}
	return nil
}

// MarshalJSON emits only the properties that belong to the envelope's
// outcome: externals and inline code on success, the error message on failure.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if !e.Success {
		return json.Marshal(struct {
			Success      bool   `json:"success"`
			ErrorMessage string `json:"errormessage"`
		}{false, e.ErrorMessage})
	}
	type wire Envelope
	w := wire(e)
	w.ErrorMessage = ""
	return json.Marshal(w)
}

// Decode parses and validates a wire envelope. Invalid payloads, including
// ones without a boolean success property, decode to a failure envelope and
// an error wrapping ErrMalformedEnvelope, so callers can always run the
// failure path.
func Decode(data []byte) (*Envelope, error) {
	malformed := &Envelope{Success: false}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return malformed, fmt.Errorf("%w: empty payload", ErrMalformedEnvelope)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return malformed, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return malformed, fmt.Errorf("%w: %s", ErrMalformedEnvelope, strings.Join(msgs, "; "))
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return malformed, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if !env.Success {
		// Only the error message is meaningful on failure.
		return &Envelope{Success: false, ErrorMessage: env.ErrorMessage}, nil
	}
	return &env, nil
}
