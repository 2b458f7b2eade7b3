package input

import (
	"encoding/json"
	"fmt"
	"sync"

	invopopSchema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// messageShape documents the accepted shape of one element of a messages file.
// It is only used to reflect the validation schema.
type messageShape struct {
	Role    string `json:"role" jsonschema:"enum=system,enum=user,enum=assistant,enum=tool"`
	Content any    `json:"content" jsonschema:"oneof_type=string;array"`
}

// marshalFunc is the JSON marshaler used by MessageSchema. Package-level so
// tests can inject a failing marshaler.
var marshalFunc = func(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// MessageSchema returns the JSON Schema of a single message, reflected from
// messageShape with invopop/jsonschema.
func MessageSchema() (string, error) {
	reflector := invopopSchema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&messageShape{})
	data, err := marshalFunc(schema)
	if err != nil {
		return "", fmt.Errorf("input schema: %w", err)
	}
	return string(data), nil
}

// messageValidator compiles the message schema once per process.
func messageValidator() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		src, err := MessageSchema()
		if err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = jsonschema.CompileString("message.schema.json", src)
	})
	return compiled, compileErr
}

// validateMessage checks one decoded element against the message schema.
func validateMessage(v interface{}) error {
	schema, err := messageValidator()
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	return schema.Validate(v)
}
