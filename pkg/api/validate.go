package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request-body schemas, compiled once at startup. Validation failures map to
// ValidationError (HTTP 400 with a localized message); they never panic.
var (
	SubmitSlipSchema  = mustCompile("submit-slip", submitSlipSchemaJSON)
	MonitorTxSchema   = mustCompile("monitor-transaction", monitorTxSchemaJSON)
	LoginEventSchema  = mustCompile("login-attempt", loginEventSchemaJSON)
	APIUsageSchema    = mustCompile("api-usage", apiUsageSchemaJSON)
	BlockTargetSchema = mustCompile("block-target", blockTargetSchemaJSON)
)

const submitSlipSchemaJSON = `{
	"type": "object",
	"required": ["userId", "depositId", "slipImageData"],
	"properties": {
		"userId": {"type": "string", "minLength": 1},
		"depositId": {"type": "string", "minLength": 1},
		"slipImageData": {"type": "string", "minLength": 1},
		"lang": {"type": "string"}
	}
}`

const monitorTxSchemaJSON = `{
	"type": "object",
	"required": ["userId", "amount", "type"],
	"properties": {
		"userId": {"type": "string", "minLength": 1},
		"amount": {"type": ["number", "string"]},
		"type": {"type": "string", "enum": ["transfer", "fiat_deposit", "crypto_withdrawal"]},
		"toAddress": {"type": "string"},
		"depositsLast24h": {"type": "integer", "minimum": 0}
	}
}`

const loginEventSchemaJSON = `{
	"type": "object",
	"required": ["ip"],
	"properties": {
		"userId": {"type": "string"},
		"ip": {"type": "string", "minLength": 1},
		"userAgent": {"type": "string"},
		"country": {"type": "string"},
		"success": {"type": "boolean"},
		"totpFailed": {"type": "boolean"},
		"totpCode": {"type": "string"},
		"totpSecret": {"type": "string"}
	}
}`

const apiUsageSchemaJSON = `{
	"type": "object",
	"required": ["ip"],
	"properties": {
		"ip": {"type": "string", "minLength": 1},
		"userAgent": {"type": "string"},
		"intervalsMillis": {"type": "array", "items": {"type": "number", "minimum": 0}},
		"requestsPerMinute": {"type": "number", "minimum": 0}
	}
}`

const blockTargetSchemaJSON = `{
	"type": "object",
	"required": ["target"],
	"properties": {
		"target": {"type": "string", "minLength": 1},
		"reason": {"type": "string"},
		"durationMinutes": {"type": "integer", "minimum": 1}
	}
}`

func mustCompile(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://wallet.chaiya88.dev/schemas/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return c.MustCompile(url)
}

// ValidateBody unmarshals body into a generic document and validates it
// against the schema. Returns a human-readable reason on failure.
func ValidateBody(schema *jsonschema.Schema, body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
