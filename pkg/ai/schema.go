package ai

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed classification.schema.json
var classificationSchemaJSON string

//go:embed extraction.schema.json
var extractionSchemaJSON string

var (
	schemaOnce           sync.Once
	compiledClassify     *jsonschema.Schema
	compiledExtract      *jsonschema.Schema
	schemaCompileFailure error
)

func compileSchemas() {
	compile := func(name, source string) (*jsonschema.Schema, error) {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", name, err)
		}
		return compiler.Compile(name)
	}

	var err error
	if compiledClassify, err = compile("classification.schema.json", classificationSchemaJSON); err != nil {
		schemaCompileFailure = err
		return
	}
	compiledExtract, err = compile("extraction.schema.json", extractionSchemaJSON)
	schemaCompileFailure = err
}

// classificationSchema returns the compiled classification response schema.
// The embedded schemas are static; a compile failure is a build defect and
// panics at first use.
func classificationSchema() *jsonschema.Schema {
	schemaOnce.Do(compileSchemas)
	if schemaCompileFailure != nil {
		panic(schemaCompileFailure)
	}
	return compiledClassify
}

func extractionSchema() *jsonschema.Schema {
	schemaOnce.Do(compileSchemas)
	if schemaCompileFailure != nil {
		panic(schemaCompileFailure)
	}
	return compiledExtract
}

// validateResponse strictly decodes raw, validates it against schema, then
// unmarshals it into out. Model output is untrusted input: trailing content,
// unknown shapes, and out-of-range values are all rejected here.
func validateResponse(schema *jsonschema.Schema, raw []byte, out interface{}) error {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	return json.Unmarshal(normalized, out)
}

func decodeStrictJSON(raw []byte) (interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("response is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value interface{}
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("response contains trailing content")
	}
	return value, nil
}
