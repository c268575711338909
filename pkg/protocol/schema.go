package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaBase = "https://pagesync.local/schemas/"

const requestSchema = `{
	"type": "object",
	"required": ["id", "method", "workspaceId"],
	"properties": {
		"id": {"type": "integer", "minimum": 0},
		"method": {"type": "string"},
		"workspaceId": {"type": "string", "minLength": 1},
		"params": {}
	}
}`

const (
	anySchema = `{"type": ["object", "null"]}`
	idSchema  = `{
	"type": "object",
	"required": ["id"],
	"properties": {"id": {"type": "string", "minLength": 1}}
}`
)

var paramSchemas = map[string]string{
	MethodGetMeta:  anySchema,
	MethodGetPages: anySchema,
	MethodCreateFolder: `{
	"type": "object",
	"required": ["folder"],
	"properties": {
		"folder": {
			"type": "object",
			"required": ["id", "name"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"name": {"type": "string"},
				"parentId": {"type": "string"}
			}
		}
	}
}`,
	MethodUpdateFolder: `{
	"type": "object",
	"required": ["id", "update"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"update": {
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"parentId": {"type": "string"}
			}
		}
	}
}`,
	MethodDeleteFolder: idSchema,
	MethodCreatePage: `{
	"type": "object",
	"required": ["page"],
	"properties": {
		"page": {
			"type": "object",
			"required": ["id", "name", "folderId"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"name": {"type": "string", "minLength": 1},
				"folderId": {"type": "string", "minLength": 1}
			}
		}
	}
}`,
	MethodUpdatePage: `{
	"type": "object",
	"required": ["id", "update"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"update": {
			"type": "object",
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"folderId": {"type": "string", "minLength": 1}
			}
		}
	}
}`,
	MethodDeletePage: idSchema,
	MethodFetchEvents: `{
	"type": "object",
	"required": ["pageId"],
	"properties": {"pageId": {"type": "string", "minLength": 1}}
}`,
	MethodPostNewEvent: `{
	"type": "object",
	"required": ["pageId", "event"],
	"properties": {
		"pageId": {"type": "string", "minLength": 1},
		"event": {}
	}
}`,
	MethodGetNewAlias: `{
	"type": "object",
	"required": ["prefix"],
	"properties": {"prefix": {"type": "string", "minLength": 1}}
}`,
}

type validator struct {
	request *jsonschema.Schema
	params  map[string]*jsonschema.Schema
}

var (
	validatorOnce sync.Once
	validatorInst *validator
	validatorErr  error
)

func loadValidator() (*validator, error) {
	validatorOnce.Do(func() {
		validatorInst, validatorErr = compileValidator()
	})
	return validatorInst, validatorErr
}

func compileValidator() (*validator, error) {
	c := jsonschema.NewCompiler()
	add := func(name, src string) error {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return fmt.Errorf("schema %s: %w", name, err)
		}
		return c.AddResource(schemaBase+name+".json", doc)
	}

	if err := add("request", requestSchema); err != nil {
		return nil, err
	}
	for method, src := range paramSchemas {
		if err := add(method, src); err != nil {
			return nil, err
		}
	}

	v := &validator{params: make(map[string]*jsonschema.Schema, len(paramSchemas))}
	var err error
	if v.request, err = c.Compile(schemaBase + "request.json"); err != nil {
		return nil, err
	}
	for method := range paramSchemas {
		if v.params[method], err = c.Compile(schemaBase + method + ".json"); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func validate(schema *jsonschema.Schema, data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

// DecodeRequest parses and validates an inbound frame. When the frame is valid
// JSON but fails validation the partially decoded request is still returned,
// so the caller can answer it with a failure.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocolFault, err)
	}
	v, err := loadValidator()
	if err != nil {
		return &req, err
	}
	if err := validate(v.request, data); err != nil {
		return &req, fmt.Errorf("%w: %w", ErrProtocolFault, err)
	}
	if _, ok := v.params[req.Method]; !ok {
		return &req, fmt.Errorf("%w: unknown method %q", ErrProtocolFault, req.Method)
	}
	return &req, nil
}

// DecodeParams validates req.Params against the schema of req.Method and
// decodes them into out.
func DecodeParams(req *Request, out any) error {
	v, err := loadValidator()
	if err != nil {
		return err
	}
	schema, ok := v.params[req.Method]
	if !ok {
		return fmt.Errorf("%w: unknown method %q", ErrProtocolFault, req.Method)
	}
	params := []byte(req.Params)
	if len(bytes.TrimSpace(params)) == 0 {
		params = []byte(`{}`)
	}
	if err := validate(schema, params); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProtocolFault, req.Method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProtocolFault, req.Method, err)
	}
	return nil
}
