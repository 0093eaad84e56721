package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
)

// entityYAML is one entity of an import file. JSON files decode the same way.
type entityYAML struct {
	ID         string                `yaml:"id"`
	ParentID   string                `yaml:"parent_id"`
	Template   string                `yaml:"template"`
	Name       string                `yaml:"name"`
	Position   int                   `yaml:"position"`
	Values     map[string]scalarYAML `yaml:"values"`
	Attributes map[string]scalarYAML `yaml:"attributes"`
}

// scalarYAML keeps the raw text of a scalar so numbers reach the decimal parser
// without a float64 round trip. yaml.v3 skips UnmarshalYAML for null nodes, so
// the zero value stands for null.
type scalarYAML struct {
	tag   string
	value string
}

func (s *scalarYAML) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	s.tag = node.ShortTag()
	s.value = node.Value
	return nil
}

// number converts a value scalar. Null and empty strings are zero.
func (s scalarYAML) number() (numeric.Decimal, error) {
	switch s.tag {
	case "", "!!null":
		return numeric.Zero, nil
	case "!!int", "!!float", "!!str":
		if s.value == "" {
			return numeric.Zero, nil
		}
		return numeric.Parse(s.value)
	default:
		return numeric.Zero, fmt.Errorf("%q is not a number", s.value)
	}
}

// attribute converts an attribute scalar.
func (s scalarYAML) attribute() (core.Value, error) {
	switch s.tag {
	case "", "!!null":
		return core.Null(), nil
	case "!!bool":
		var b bool
		if err := yaml.Unmarshal([]byte(s.value), &b); err != nil {
			return core.Null(), err
		}
		return core.Bool(b), nil
	case "!!int", "!!float":
		d, err := numeric.Parse(s.value)
		if err != nil {
			return core.Null(), err
		}
		return core.Number(d), nil
	default:
		return core.String(s.value), nil
	}
}

// ParseEntities decodes a YAML or JSON list of entities. Entity IDs are optional;
// callers assign them on import.
func ParseEntities(r io.Reader) ([]*core.Entity, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var docs []entityYAML
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&docs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid entity file: %w", err)
	}

	entities := make([]*core.Entity, 0, len(docs))
	for i, doc := range docs {
		label := doc.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if doc.Template == "" {
			return nil, fmt.Errorf("entity %s: template is required", label)
		}

		e := &core.Entity{
			ID:         doc.ID,
			ParentID:   doc.ParentID,
			Template:   doc.Template,
			Name:       doc.Name,
			Position:   doc.Position,
			Values:     make(core.EntityValues, len(doc.Values)),
			Attributes: make(core.Record, len(doc.Attributes)),
		}
		for k, v := range doc.Values {
			d, err := v.number()
			if err != nil {
				return nil, fmt.Errorf("entity %s: value %q: %w", label, k, err)
			}
			e.Values[core.FieldKey(k)] = d
		}
		for k, v := range doc.Attributes {
			a, err := v.attribute()
			if err != nil {
				return nil, fmt.Errorf("entity %s: attribute %q: %w", label, k, err)
			}
			e.Attributes[core.FieldKey(k)] = a
		}
		entities = append(entities, e)
	}
	return entities, nil
}
