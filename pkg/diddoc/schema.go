package diddoc

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// didDocumentSchema is the minimal shape a network-fetched DID Document
// must satisfy before any of its fields are trusted: an "id" string,
// and, when present, a "verificationMethod" array of objects each
// carrying "id", "type", "controller".
const didDocumentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "verificationMethod": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "controller"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "controller": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

const didDocumentSchemaURL = "https://sdlp.internal/schemas/did-document.schema.json"

var (
	compileOnce     sync.Once
	compiledSchema  *jsonschema.Schema
	compileErr      error
)

func compiledDocumentSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(didDocumentSchemaURL, strings.NewReader(didDocumentSchema)); err != nil {
			compileErr = fmt.Errorf("diddoc: schema load failed: %w", err)
			return
		}
		compiled, err := c.Compile(didDocumentSchemaURL)
		if err != nil {
			compileErr = fmt.Errorf("diddoc: schema compile failed: %w", err)
			return
		}
		compiledSchema = compiled
	})
	return compiledSchema, compileErr
}

// ValidateFetchedDocument schema-gates a DID Document fetched from the
// network (e.g. by did:web) before any field is read. did:key documents
// are synthesised in-process and bypass this gate -- nothing was
// fetched, so there is nothing an adversarial server could have shaped.
func ValidateFetchedDocument(raw []byte) error {
	schema, err := compiledDocumentSchema()
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("diddoc: document is not valid JSON: %w", err)
	}

	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("diddoc: document failed schema validation: %w", err)
	}
	return nil
}
