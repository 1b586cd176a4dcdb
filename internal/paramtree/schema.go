package paramtree

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/parameter-metadata-v1.json
var metadataSchemaJSON string

// Validator checks leaf metadata objects against the embedded schema.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("parameter-metadata-v1.json",
		strings.NewReader(metadataSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("parameter-metadata-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

func (v *Validator) ValidateMetadata(metadata map[string]any) error {
	if err := v.schema.Validate(metadata); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
