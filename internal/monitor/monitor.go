// Package monitor validates inbound payment requests against a JSON schema
// before they are bound, so malformed payloads are rejected with precise
// field-level errors and never reach the orchestrator.
package monitor

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// paymentRequestSchema is the contract for the process-payment operation.
// Amounts travel as decimal strings so no precision is lost in transit.
const paymentRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["amount", "currency_code", "provider_name", "merchant_id", "order_id", "idempotency_key"],
  "properties": {
    "amount": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
    "currency_code": {"type": "string", "minLength": 3, "maxLength": 3},
    "payment_method": {"type": "string"},
    "provider_name": {"type": "string", "minLength": 1},
    "merchant_id": {"type": "string", "minLength": 1},
    "order_id": {"type": "string", "minLength": 1},
    "project_code": {"type": "string"},
    "idempotency_key": {"type": "string", "minLength": 1, "maxLength": 255},
    "fee_percent": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
    "country_code": {"type": "string", "minLength": 2, "maxLength": 2},
    "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
  },
  "additionalProperties": false
}`

// ContractMonitor validates incoming request bodies against the payment
// request schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles the embedded schema.
func NewContractMonitor() (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(paymentRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling payment request schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate checks the request body against the schema. It returns true if
// valid, or false and a list of validation errors if invalid.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("validating request: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return false, errs, nil
}

// FormatErrors formats a slice of validation error strings into one message.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
