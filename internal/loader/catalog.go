package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapcalc/pkg/core"
)

// Catalog is an immutable set of field schemas by template name.
type Catalog struct {
	schemas map[string]*core.FieldSchema
	sources map[string]string
}

// NewCatalog builds a catalog from schemas. Template names must be unique.
func NewCatalog(schemas ...*core.FieldSchema) (*Catalog, error) {
	c := &Catalog{
		schemas: make(map[string]*core.FieldSchema, len(schemas)),
		sources: make(map[string]string),
	}
	for _, s := range schemas {
		if err := c.add(s, ""); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(s *core.FieldSchema, source string) error {
	if prev, exists := c.schemas[s.Name()]; exists {
		where := c.sources[prev.Name()]
		if where == "" {
			where = "another schema"
		}
		return fmt.Errorf("duplicate template %q (already defined in %s)", s.Name(), where)
	}
	c.schemas[s.Name()] = s
	if source != "" {
		c.sources[s.Name()] = source
	}
	return nil
}

// Schema returns the schema of a template.
func (c *Catalog) Schema(name string) (*core.FieldSchema, bool) {
	s, ok := c.schemas[name]
	return s, ok
}

// Names returns the template names in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of templates.
func (c *Catalog) Len() int { return len(c.schemas) }

// Source returns the file a template was loaded from, if any.
func (c *Catalog) Source(name string) string { return c.sources[name] }

// isTemplateFile reports whether path looks like a template file.
func isTemplateFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads every *.yaml and *.yml file under dir, recursively, in lexical order.
// The first invalid file aborts loading.
func Load(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("templates directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("templates directory: %s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isTemplateFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan templates: %w", err)
	}
	sort.Strings(files)

	c, _ := NewCatalog()
	for _, path := range files {
		schema, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if err := c.add(schema, path); err != nil {
			return nil, &TemplateError{File: path, Message: err.Error()}
		}
	}
	return c, nil
}

func loadFile(path string) (*core.FieldSchema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &TemplateError{File: path, Message: "open failed", Err: err}
	}
	defer func() { _ = f.Close() }()
	return ParseTemplate(f, path)
}
