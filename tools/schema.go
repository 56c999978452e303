package tools

import (
	"bytes"
	"encoding/json"

	invopop "github.com/invopop/jsonschema"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zanbei/agentx/errors"
)

// SchemaFor reflects the argument struct T into an inline JSON schema.
// Fields tagged jsonschema:"required" are required.
func SchemaFor[T any]() map[string]any {
	r := &invopop.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	b, err := json.Marshal(r.Reflect(new(T)))
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

// ObjectSchema is the permissive schema used when a tool declares none.
func ObjectSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Validate checks args against schema. Schemas that do not compile are not
// enforced.
func Validate(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		log.Debug().Err(err).Msg("Tool schema not enforced")
		return nil
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		log.Debug().Err(err).Msg("Tool schema not enforced")
		return nil
	}

	// Round-trip through JSON so Go numeric types validate as JSON numbers.
	var v any = map[string]any{}
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return errors.Wrapf(err, "arguments are not JSON encodable")
		}
		if err := json.Unmarshal(b, &v); err != nil {
			return errors.Wrapf(err, "arguments are not JSON encodable")
		}
	}
	if err := compiled.Validate(v); err != nil {
		return errors.Wrapf(err, "invalid arguments")
	}
	return nil
}

// decodeArgs converts loosely typed arguments into the tool's argument struct.
func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(args)
	if err != nil {
		return out, errors.Wrapf(err, "failed to encode arguments")
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, errors.Wrapf(err, "failed to decode arguments")
	}
	return out, nil
}
