package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/branchpad/branchpad/internal/oplog"
)

// operationSchema validates raw pending operations posted by clients.
// Each type requires its matching payload; anything else is rejected
// before it can reach the durable log.
const operationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "id": {"type": "string"},
    "type": {
      "type": "string",
      "enum": [
        "upsert_thread",
        "upsert_message",
        "update_message",
        "delete_message",
        "upsert_draft",
        "delete_draft",
        "upsert_border"
      ]
    },
    "enqueuedAt": {"type": "string"},
    "thread": {
      "type": "object",
      "properties": {"id": {"type": "string", "minLength": 1}},
      "required": ["id"]
    },
    "message": {
      "type": "object",
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "threadId": {"type": "string", "minLength": 1},
        "role": {"type": "string", "enum": ["system", "user", "assistant", "tool"]}
      },
      "required": ["id", "threadId", "role"]
    },
    "messagePatch": {
      "type": "object",
      "properties": {"id": {"type": "string", "minLength": 1}},
      "required": ["id"]
    },
    "draft": {
      "type": "object",
      "properties": {
        "threadId": {"type": "string", "minLength": 1},
        "text": {"type": "string"}
      },
      "required": ["threadId", "text"]
    },
    "border": {
      "type": "object",
      "properties": {"id": {"type": "string", "minLength": 1}},
      "required": ["id"]
    },
    "entityId": {"type": "string", "minLength": 1}
  },
  "required": ["type"],
  "allOf": [
    {"if": {"properties": {"type": {"const": "upsert_thread"}}}, "then": {"required": ["thread"]}},
    {"if": {"properties": {"type": {"const": "upsert_message"}}}, "then": {"required": ["message"]}},
    {"if": {"properties": {"type": {"const": "update_message"}}}, "then": {"required": ["messagePatch"]}},
    {"if": {"properties": {"type": {"const": "delete_message"}}}, "then": {"required": ["entityId"]}},
    {"if": {"properties": {"type": {"const": "upsert_draft"}}}, "then": {"required": ["draft"]}},
    {"if": {"properties": {"type": {"const": "delete_draft"}}}, "then": {"required": ["entityId"]}},
    {"if": {"properties": {"type": {"const": "upsert_border"}}}, "then": {"required": ["border"]}}
  ]
}`

type operationValidator struct {
	schema *jsonschema.Schema
}

func newOperationValidator() *operationValidator {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(operationSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid operation schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("operation.json", doc); err != nil {
		panic(fmt.Sprintf("failed to add operation schema: %v", err))
	}
	schema, err := compiler.Compile("operation.json")
	if err != nil {
		panic(fmt.Sprintf("failed to compile operation schema: %v", err))
	}
	return &operationValidator{schema: schema}
}

// validate checks the raw body against the operation schema and decodes
// it into an Operation.
func (v *operationValidator) validate(body []byte) (oplog.Operation, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return oplog.Operation{}, fmt.Errorf("body must be valid JSON")
	}
	if err := v.schema.Validate(inst); err != nil {
		return oplog.Operation{}, fmt.Errorf("invalid operation: %v", err)
	}
	var op oplog.Operation
	if err := json.Unmarshal(body, &op); err != nil {
		return oplog.Operation{}, fmt.Errorf("failed to decode operation: %v", err)
	}
	return op, nil
}
