// Package validation checks FHIR resources before they are persisted.
//
// Each resource kind is checked twice: first by semantic rules that carry
// precise messages, then against an embedded JSON schema that enforces
// structure and formats (ids, dates, enumerations).
package validation

import (
	"bytes"
	"embed"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// DefaultCacheSize holds every embedded schema with room to spare.
const DefaultCacheSize = 16

// Validator validates resources of any supported kind.
type Validator interface {
	Validate(res fhir.Resource) error
}

// ResourceValidator implements Validator using santhosh-tekuri/jsonschema/v6.
// Compiled schemas are cached by resource type.
type ResourceValidator struct {
	schemaCache *lru.Cache[string, *jsonschema.Schema]
}

var _ Validator = (*ResourceValidator)(nil)

// NewResourceValidator creates a validator with LRU caching for compiled schemas
func NewResourceValidator(cacheSize int) (*ResourceValidator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *jsonschema.Schema](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create schema cache: %w", err)
	}
	return &ResourceValidator{schemaCache: cache}, nil
}

// Validate runs the semantic rules and the schema check for res.
func (v *ResourceValidator) Validate(res fhir.Resource) error {
	var err error
	switch r := res.(type) {
	case *fhir.Patient:
		err = ValidatePatient(r)
	case *fhir.Observation:
		err = ValidateObservation(r)
	case *fhir.Condition:
		err = ValidateCondition(r)
	case *fhir.Encounter:
		err = ValidateEncounter(r)
	default:
		return fhirerr.InvalidResourceType("unsupported resource %T", res)
	}
	if err != nil {
		return err
	}
	return v.validateSchema(res)
}

func (v *ResourceValidator) validateSchema(res fhir.Resource) error {
	schema, err := v.schema(res.ResourceType())
	if err != nil {
		return err
	}

	doc, err := json.Marshal(res)
	if err != nil {
		return fhirerr.Serialization(err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return fhirerr.Serialization(err)
	}

	if err := schema.Validate(inst); err != nil {
		return fhirerr.Validation("%s", formatValidationError(err))
	}
	return nil
}

// schema returns the compiled schema for resourceType, compiling on a miss.
func (v *ResourceValidator) schema(resourceType string) (*jsonschema.Schema, error) {
	if s, ok := v.schemaCache.Get(resourceType); ok {
		return s, nil
	}

	s, err := compileSchema(resourceType)
	if err != nil {
		return nil, err
	}
	v.schemaCache.Add(resourceType, s)
	return s, nil
}

// CachedSchemas returns the number of compiled schemas held in the cache.
func (v *ResourceValidator) CachedSchemas() int {
	return v.schemaCache.Len()
}

func compileSchema(resourceType string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + resourceType + ".json")
	if err != nil {
		return nil, fhirerr.InvalidResourceType("no schema for %s", resourceType)
	}

	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s schema: %w", resourceType, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)

	url := resourceType + ".json"
	if err := compiler.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add %s schema: %w", resourceType, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", resourceType, err)
	}
	return schema, nil
}

// formatValidationError reports the deepest failing location, e.g.
// "schema violation at '$.birthDate': ...".
func formatValidationError(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	path := "$"
	var parts []string
	for _, part := range ve.InstanceLocation {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 {
		path = "$." + strings.Join(parts, ".")
	}

	msg := ve.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "... (truncated)"
	}
	return fmt.Sprintf("schema violation at '%s': %s", path, msg)
}
