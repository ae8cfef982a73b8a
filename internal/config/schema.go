package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed settings.schema.json
var settingsSchemaJSON []byte

var (
	settingsSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func compileSchema() error {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(settingsSchemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal settings schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("settings.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add settings schema resource: %w", err)
			return
		}

		settingsSchema, err = compiler.Compile("settings.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile settings schema: %w", err)
		}
	})

	return compileErr
}

// Validate checks a merged settings document against the embedded schema.
func Validate(doc map[string]any) error {
	if err := compileSchema(); err != nil {
		return err
	}

	// Round-trip through JSON so YAML-specific values are normalized.
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("settings are not representable as JSON: %w", err)
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := settingsSchema.Validate(v); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	return nil
}
