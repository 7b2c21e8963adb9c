package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const decisionEnvelopeSchema = `{
  "type": ["object", "array"],
  "properties": {
    "decisions": {"type": "array", "items": {"type": "object"}},
    "marketAnalysis": {"type": ["string", "null"]}
  }
}`

const analysisSchema = `{
  "type": "object",
  "required": ["summary"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "lessons": {"type": "array", "items": {"type": "string"}},
    "mistakes": {"type": "array", "items": {"type": "string"}},
    "strategies": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	decisionEnvelope = mustCompile("decisions.json", decisionEnvelopeSchema)
	analysisPayload  = mustCompile("analysis.json", analysisSchema)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("oracle schema %s: %v", name, err))
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("oracle schema %s: %v", name, err))
	}
	return compiled
}

func validateAgainst(schema *jsonschema.Schema, raw string) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}
