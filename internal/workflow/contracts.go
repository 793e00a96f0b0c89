package workflow

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/appraisal_requested.json
var requestedSchemaJSON string

//go:embed schemas/appraisal_callback.json
var callbackSchemaJSON string

var (
	requestedSchema = jsonschema.MustCompileString("appraisal_requested.json", requestedSchemaJSON)
	callbackSchema  = jsonschema.MustCompileString("appraisal_callback.json", callbackSchemaJSON)
)

// EncodePayload marshals the payload and checks it against the
// appraisal_requested contract.
func EncodePayload(p Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	if err := validate(requestedSchema, body); err != nil {
		return nil, fmt.Errorf("workflow payload violates contract: %w", err)
	}
	return body, nil
}

// ValidateCallback checks a callback body against the appraisal_callback contract.
func ValidateCallback(body []byte) error {
	return validate(callbackSchema, body)
}

func validate(schema *jsonschema.Schema, body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("body is not valid JSON: %w", err)
	}
	return schema.Validate(doc)
}
