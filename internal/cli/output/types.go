package output

import "github.com/leapstack-labs/leapcalc/pkg/core"

// JSON output shapes. Decimals are rendered as strings so no precision is lost.

// TemplateInfo describes one loaded template.
type TemplateInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	Fields      int    `json:"fields"`
	Computed    int    `json:"computed"`
	Fingerprint string `json:"fingerprint"`
}

// TemplatesOutput is the JSON output of the templates command.
type TemplatesOutput struct {
	Templates []TemplateInfo `json:"templates"`
	Count     int            `json:"count"`
}

// CheckProblem is one problem found in a template.
type CheckProblem struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Column  int    `json:"column,omitempty"`
}

// CheckTemplate is the check result of one template.
type CheckTemplate struct {
	Name     string         `json:"name"`
	OK       bool           `json:"ok"`
	Problems []CheckProblem `json:"problems,omitempty"`
}

// CheckOutput is the JSON output of the check command.
type CheckOutput struct {
	Templates    []CheckTemplate `json:"templates"`
	ProblemCount int             `json:"problem_count"`
}

// OrderField describes one field of an evaluation order.
type OrderField struct {
	Key          string   `json:"key"`
	Role         string   `json:"role"`
	Formula      string   `json:"formula,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Dependents   []string `json:"dependents,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// OrderOutput is the JSON output of the order command.
type OrderOutput struct {
	Template string       `json:"template"`
	Order    []string     `json:"order"`
	Levels   [][]string   `json:"levels,omitempty"`
	Fields   []OrderField `json:"fields"`
	Cycles   [][]string   `json:"cycles,omitempty"`
}

// ComputeOutput is the JSON output of one recomputed entity.
type ComputeOutput struct {
	EntityID  string            `json:"entity_id"`
	Template  string            `json:"template"`
	Mode      string            `json:"mode"`
	Success   bool              `json:"success"`
	RunID     string            `json:"run_id,omitempty"`
	Status    string            `json:"status,omitempty"`
	Values    map[string]string `json:"values"`
	Evaluated []string          `json:"evaluated,omitempty"`
	Errors    []core.FieldError `json:"errors,omitempty"`
	Ancestors []ComputeOutput   `json:"ancestors,omitempty"`
}

// ImportOutput is the JSON output of the import command.
type ImportOutput struct {
	Imported int      `json:"imported"`
	IDs      []string `json:"ids"`
	Computed int      `json:"computed,omitempty"`
	Failed   int      `json:"failed,omitempty"`
}

// EvalOutput is the JSON output of a single evaluated expression.
type EvalOutput struct {
	Template   string `json:"template"`
	Expression string `json:"expression"`
	Value      string `json:"value"`
}

// ValueStrings renders entity values keyed by field name.
func ValueStrings(values core.EntityValues) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[string(k)] = v.String()
	}
	return out
}

// KeyStrings converts field keys to plain strings.
func KeyStrings(keys []core.FieldKey) []string {
	if keys == nil {
		return nil
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
