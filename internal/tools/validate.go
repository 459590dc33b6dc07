package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateArgs checks tool-call arguments against the tool's JSON
// schema. A missing or uncompilable schema skips validation; malformed
// arguments or a schema violation is a tool-level error.
func validateArgs(schema, args json.RawMessage) error {
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if len(schema) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("arguments.json", bytes.NewReader(schema)); err != nil {
		return nil
	}
	compiled, err := compiler.Compile("arguments.json")
	if err != nil {
		return nil
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
