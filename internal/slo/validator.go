package slo

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed catalog_v1.json
var catalogSchema []byte

const catalogSchemaURL = "https://github.com/AwesomeGRV/ErrorBudget/schemas/catalog_v1.json"

// Validator checks catalog files against the embedded JSON schema and cross-file rules
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded catalog schema
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(catalogSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(catalogSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema: %w", err)
	}

	schema, err := compiler.Compile(catalogSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDirectory loads and validates all catalog files in a directory.
// Only catalogs without errors are returned.
func (v *Validator) ValidateDirectory(dirPath string) ([]CatalogFile, []ValidationError) {
	catalogs, allErrors := LoadFromDirectory(dirPath)

	bad := make(map[string]bool)
	for _, cf := range catalogs {
		errs := v.validateSchema(cf.File)
		errs = append(errs, validateCatalogRules(cf)...)
		if len(errs) > 0 {
			bad[cf.File] = true
			allErrors = append(allErrors, errs...)
		}
	}

	dupErrs := validateUniqueServices(catalogs)
	for _, e := range dupErrs {
		bad[e.File] = true
	}
	allErrors = append(allErrors, dupErrs...)

	valid := make([]CatalogFile, 0, len(catalogs))
	for _, cf := range catalogs {
		if !bad[cf.File] {
			valid = append(valid, cf)
		}
	}

	return valid, allErrors
}

// validateSchema validates the raw document in file against the JSON schema
func (v *Validator) validateSchema(file string) []ValidationError {
	raw, err := os.ReadFile(file)
	if err != nil {
		return []ValidationError{{File: file, Message: fmt.Sprintf("failed to read file: %v", err)}}
	}

	var yamlDoc interface{}
	if err := yaml.Unmarshal(raw, &yamlDoc); err != nil {
		return []ValidationError{{File: file, Message: fmt.Sprintf("failed to parse YAML: %v", err)}}
	}

	// Round-trip through JSON so numbers and maps have the types the schema library expects.
	jsonBytes, err := json.Marshal(yamlDoc)
	if err != nil {
		return []ValidationError{{File: file, Message: fmt.Sprintf("failed to convert to JSON: %v", err)}}
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonBytes))
	if err != nil {
		return []ValidationError{{File: file, Message: fmt.Sprintf("failed to convert to JSON: %v", err)}}
	}

	if err := v.schema.Validate(instance); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return extractSchemaErrors(file, validationErr)
		}
		return []ValidationError{{File: file, Message: err.Error()}}
	}

	return nil
}

// extractSchemaErrors flattens a schema error tree into leaf ValidationErrors
func extractSchemaErrors(file string, err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		path := strings.Join(err.InstanceLocation, ".")
		if path == "" {
			path = "(root)"
		}
		return []ValidationError{{File: file, Path: path, Message: err.Error()}}
	}

	var errors []ValidationError
	for _, cause := range err.Causes {
		errors = append(errors, extractSchemaErrors(file, cause)...)
	}
	return errors
}

// validateCatalogRules applies rules the schema cannot express
func validateCatalogRules(cf CatalogFile) []ValidationError {
	var errors []ValidationError

	seen := make(map[string]int)
	for i, s := range cf.Catalog.SLOs {
		if prev, ok := seen[s.Name]; ok {
			errors = append(errors, ValidationError{
				File:    cf.File,
				Path:    fmt.Sprintf("slos.%d.name", i),
				Message: fmt.Sprintf("duplicate SLO name %q (also slos.%d)", s.Name, prev),
			})
		} else {
			seen[s.Name] = i
		}

		window, err := ParseDuration(s.Window)
		if err != nil {
			errors = append(errors, ValidationError{
				File:    cf.File,
				Path:    fmt.Sprintf("slos.%d.window", i),
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
			continue
		}
		if window < 24*time.Hour {
			errors = append(errors, ValidationError{
				File:    cf.File,
				Path:    fmt.Sprintf("slos.%d.window", i),
				Message: fmt.Sprintf("window (%s) must be at least %s", s.Window, formatDuration(24*time.Hour)),
			})
		}

		if (s.GoodQuery == "") != (s.TotalQuery == "") {
			errors = append(errors, ValidationError{
				File:    cf.File,
				Path:    fmt.Sprintf("slos.%d", i),
				Message: "goodQuery and totalQuery must be set together",
			})
		}
	}

	return errors
}

// validateUniqueServices rejects two files declaring the same service and environment
func validateUniqueServices(catalogs []CatalogFile) []ValidationError {
	var errors []ValidationError

	seen := make(map[string]string)
	for _, cf := range catalogs {
		key := cf.Catalog.Service.Name + "/" + cf.Catalog.Service.Environment
		if prevFile, ok := seen[key]; ok {
			errors = append(errors, ValidationError{
				File:    cf.File,
				Path:    "service",
				Message: fmt.Sprintf("duplicate service %q (also in %s)", key, filepath.Base(prevFile)),
			})
		} else {
			seen[key] = cf.File
		}
	}

	return errors
}
