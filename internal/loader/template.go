// Package loader reads field templates and entity files from YAML.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapcalc/pkg/core"
)

// templateYAML is the on-disk shape of one template. Unknown keys are rejected.
//
//	name: budget_line
//	description: One line of a budget chapter
//	fields:
//	  - key: real_quantity
//	  - key: quantity
//	    role: computed
//	  - key: margin
//	    role: computed
//	    formula: total - total_real
type templateYAML struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Fields      []fieldYAML `yaml:"fields"`
}

type fieldYAML struct {
	Key     string `yaml:"key"`
	Role    string `yaml:"role"`
	Formula string `yaml:"formula"`
}

// TemplateError reports a template file that could not be loaded.
type TemplateError struct {
	File    string
	Message string
	Err     error
}

func (e *TemplateError) Error() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// ParseTemplate decodes one template. When the document has no name, the file
// name without extension is used.
func ParseTemplate(r io.Reader, file string) (*core.FieldSchema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &TemplateError{File: file, Message: "read failed", Err: err}
	}

	var doc templateYAML
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &TemplateError{File: file, Message: "empty template"}
		}
		return nil, &TemplateError{File: file, Message: fmt.Sprintf("invalid YAML: %v", err), Err: err}
	}

	if doc.Name == "" {
		base := filepath.Base(file)
		doc.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if len(doc.Fields) == 0 {
		return nil, &TemplateError{File: file, Message: fmt.Sprintf("template %q has no fields", doc.Name)}
	}

	fields := make([]core.Field, 0, len(doc.Fields))
	for i, f := range doc.Fields {
		role, err := core.ParseFieldRole(f.Role)
		if err != nil {
			return nil, &TemplateError{File: file, Message: fmt.Sprintf("field %d (%s): %v", i+1, f.Key, err), Err: err}
		}
		fields = append(fields, core.Field{
			Key:     core.FieldKey(strings.TrimSpace(f.Key)),
			Role:    role,
			Formula: f.Formula,
		})
	}

	schema, err := core.NewFieldSchemaWithDescription(doc.Name, doc.Description, fields)
	if err != nil {
		return nil, &TemplateError{File: file, Message: err.Error(), Err: err}
	}
	return schema, nil
}
