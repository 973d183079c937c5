package device

import (
	"embed"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// Schema IDs, matching the $id of each file under schemas/.
const (
	SchemaName       = "name"
	SchemaBrightness = "brightness"
	SchemaBlink      = "blink"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator checks values against the embedded JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles every embedded schema, keyed by its $id.
func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaLoad, err)
	}

	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(entries))}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", ErrSchemaLoad, e.Name(), err)
		}

		var head struct {
			ID string `json:"$id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.ID == "" {
			return nil, fmt.Errorf("%w: %s has no $id", ErrSchemaLoad, e.Name())
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: compiling %s: %w", ErrSchemaLoad, head.ID, err)
		}
		v.schemas[head.ID] = schema
	}
	return v, nil
}

// HasSchema reports whether id was loaded.
func (v *Validator) HasSchema(id string) bool {
	_, ok := v.schemas[id]
	return ok
}

// Validate checks a decoded Go value against schema id.
func (v *Validator) Validate(id string, value any) error {
	return v.validate(id, gojsonschema.NewGoLoader(value))
}

// ValidateJSON checks a raw JSON document against schema id.
func (v *Validator) ValidateJSON(id string, raw []byte) error {
	return v.validate(id, gojsonschema.NewBytesLoader(raw))
}

func (v *Validator) validate(id string, loader gojsonschema.JSONLoader) error {
	schema, ok := v.schemas[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, id)
	}

	result, err := schema.Validate(loader)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidValue, id, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidValue, strings.Join(msgs, "; "))
	}
	return nil
}
