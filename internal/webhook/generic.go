package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// GenericName is the registered name of the generic JSON adapter.
const GenericName = "generic"

const genericSchemaURL = "savecodenow://webhook/generic.json"

const genericSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["visit_type", "origin_url"],
  "properties": {
    "visit_type": {"type": "string", "minLength": 1, "maxLength": 64},
    "origin_url": {"type": "string", "minLength": 1, "maxLength": 4096},
    "event": {"type": "string"}
  }
}`

// GenericAdapter accepts {"visit_type": "...", "origin_url": "..."} bodies.
// An optional "event" field other than "push" marks the delivery as ignored.
type GenericAdapter struct {
	schema *jsonschema.Schema
}

// NewGenericAdapter compiles the payload schema.
func NewGenericAdapter() (*GenericAdapter, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(genericSchema))
	if err != nil {
		return nil, fmt.Errorf("parse generic webhook schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(genericSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add generic webhook schema: %w", err)
	}
	schema, err := c.Compile(genericSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile generic webhook schema: %w", err)
	}
	return &GenericAdapter{schema: schema}, nil
}

// Name implements Adapter.
func (a *GenericAdapter) Name() string { return GenericName }

// Parse implements Adapter.
func (a *GenericAdapter) Parse(_ http.Header, body []byte) (Origin, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return Origin{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := a.schema.Validate(inst); err != nil {
		return Origin{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var payload struct {
		VisitType string `json:"visit_type"`
		OriginURL string `json:"origin_url"`
		Event     string `json:"event"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Origin{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.Event != "" && payload.Event != "push" {
		return Origin{}, fmt.Errorf("%w: event %q", ErrIgnoredEvent, payload.Event)
	}
	return Origin{
		VisitType: strings.TrimSpace(payload.VisitType),
		OriginURL: strings.TrimSpace(payload.OriginURL),
	}, nil
}
