package tools

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// argumentSchema validates call arguments against a tool's declared
// parameter schema.
type argumentSchema struct {
	schema *gojsonschema.Schema
}

// compileSchema returns nil for tools that declare no parameters.
func compileSchema(params map[string]any) (*argumentSchema, error) {
	if len(params) == 0 {
		return nil, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &argumentSchema{schema: schema}, nil
}

func (s *argumentSchema) validate(args map[string]any) error {
	if s == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
	}
	return nil
}
