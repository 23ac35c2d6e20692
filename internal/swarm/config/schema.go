package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaSource string

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func documentSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("swarm.schema.json", strings.NewReader(schemaSource)); err != nil {
			compiledSchemaErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile("swarm.schema.json")
	})
	return compiledSchema, compiledSchemaErr
}

// ValidateDocument checks the structure of a raw YAML or JSON document
// against the embedded schema, reporting every violation.
func ValidateDocument(data []byte, filename string) error {
	doc, err := decodeDocument(data, filename)
	if err != nil {
		return err
	}

	schema, err := documentSchema()
	if err != nil {
		return err
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		errs := &ValidationErrors{}
		collectSchemaErrors(ve, errs)
		if !errs.HasErrors() {
			errs.Add("", ve.Error())
		}
		return errs
	}
	return nil
}

// decodeDocument decodes data into plain JSON values. YAML goes through a
// JSON round trip so that numbers and maps have the types the validator
// expects.
func decodeDocument(data []byte, filename string) (interface{}, error) {
	var doc interface{}
	if isJSON(filename) {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return doc, nil
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	doc = nil
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return doc, nil
}

// collectSchemaErrors flattens the leaf causes of a schema violation.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := strings.TrimPrefix(strings.ReplaceAll(err.InstanceLocation, "/", "."), ".")
		errs.Add(field, err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

func isJSON(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".json")
}
