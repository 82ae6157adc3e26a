// Package schema validates scan output against the published JSON Schema.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const resourceURL = "scan_result.schema.json"

//go:embed scan_result.schema.json
var scanResultSchema []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Source returns the raw schema document.
func Source() []byte {
	return bytes.Clone(scanResultSchema)
}

func scanResult() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(scanResultSchema))
		if err != nil {
			compileErr = fmt.Errorf("parsing schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(resourceURL, doc); err != nil {
			compileErr = fmt.Errorf("loading schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(resourceURL)
	})
	return compiled, compileErr
}

// Validate checks a JSON-encoded scan result.
func Validate(data []byte) error {
	sch, err := scanResult()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("scan result does not match schema: %w", err)
	}
	return nil
}

// ValidateValue encodes v as JSON and validates it.
func ValidateValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return Validate(data)
}
