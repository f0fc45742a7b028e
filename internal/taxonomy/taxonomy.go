// Package taxonomy loads the externally maintained set of task/ticket categories.
package taxonomy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/worklog/internal/domain"
)

// Category is one valid classification target.
type Category struct {
	ID          string   `yaml:"id" json:"id"`
	Description string   `yaml:"description" json:"description"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// Taxonomy is an immutable, ordered set of categories.
type Taxonomy struct {
	categories []Category
	index      map[string]int
}

type file struct {
	Categories []Category `yaml:"categories"`
}

// New builds a taxonomy, rejecting empty and duplicate identifiers and the
// reserved uncategorized sentinel.
func New(categories []Category) (*Taxonomy, error) {
	t := &Taxonomy{index: make(map[string]int, len(categories))}
	for _, c := range categories {
		c.ID = strings.TrimSpace(c.ID)
		switch {
		case c.ID == "":
			return nil, fmt.Errorf("taxonomy: category without id")
		case strings.EqualFold(c.ID, domain.Uncategorized):
			return nil, fmt.Errorf("taxonomy: %q is reserved", c.ID)
		}
		if _, dup := t.index[c.ID]; dup {
			return nil, fmt.Errorf("taxonomy: duplicate category %q", c.ID)
		}
		t.index[c.ID] = len(t.categories)
		t.categories = append(t.categories, c)
	}
	return t, nil
}

// Parse decodes the YAML document:
//
//	categories:
//	  - id: PROJ-123
//	    description: Sprint ceremonies for project X
func Parse(data []byte) (*Taxonomy, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("taxonomy: decode: %w", err)
	}
	return New(f.Categories)
}

// Load reads and parses a taxonomy file.
func Load(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Contains reports whether id is a known category. The uncategorized sentinel
// is not a member.
func (t *Taxonomy) Contains(id string) bool {
	if t == nil {
		return false
	}
	_, ok := t.index[id]
	return ok
}

// Get returns the category with the given id.
func (t *Taxonomy) Get(id string) (Category, bool) {
	if t == nil {
		return Category{}, false
	}
	i, ok := t.index[id]
	if !ok {
		return Category{}, false
	}
	return t.categories[i], true
}

// Categories returns a copy of the categories in file order.
func (t *Taxonomy) Categories() []Category {
	if t == nil {
		return nil
	}
	return append([]Category(nil), t.categories...)
}

// IDs returns the sorted category identifiers.
func (t *Taxonomy) IDs() []string {
	ids := make([]string, 0, t.Len())
	for _, c := range t.Categories() {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of categories.
func (t *Taxonomy) Len() int {
	if t == nil {
		return 0
	}
	return len(t.categories)
}
