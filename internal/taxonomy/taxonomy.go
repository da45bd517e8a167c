// Package taxonomy loads the catalogue of categories and subcategories that
// targets are filed under.
package taxonomy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// FileName is the catalogue file in the workspace root.
const FileName = "taxonomy.yml"

type Category struct {
	ID            int64         `yaml:"id" json:"id"`
	Name          string        `yaml:"name" json:"name"`
	Subcategories []Subcategory `yaml:"subcategories" json:"subcategories"`
}

type Subcategory struct {
	ID         int64  `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	CategoryID int64  `yaml:"-" json:"category_id"`
}

// Catalogue is a validated taxonomy with subcategory lookup.
type Catalogue struct {
	Categories []Category `yaml:"categories" json:"categories"`

	subcategories map[int64]Subcategory
	categories    map[int64]Category
}

// Load reads and validates a catalogue file.
func Load(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return Parse(data, path)
}

// Parse unmarshals and validates a catalogue. Every problem is reported,
// not only the first.
func Parse(data []byte, source string) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, ValidationErrors{{File: source, Field: "yaml", Message: err.Error()}}
	}
	if errs := validate(&c, source); len(errs) > 0 {
		return nil, errs
	}
	c.index()
	return &c, nil
}

// Write stores the catalogue as YAML, creating parent directories.
func Write(path string, c *Catalogue) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal taxonomy: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure taxonomy dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write taxonomy: %w", err)
	}
	return nil
}

func (c *Catalogue) index() {
	c.subcategories = make(map[int64]Subcategory)
	c.categories = make(map[int64]Category)
	for _, cat := range c.Categories {
		c.categories[cat.ID] = cat
		for _, sub := range cat.Subcategories {
			sub.CategoryID = cat.ID
			c.subcategories[sub.ID] = sub
		}
	}
}

// Subcategory looks up a subcategory by id.
func (c *Catalogue) Subcategory(id int64) (Subcategory, bool) {
	sub, ok := c.subcategories[id]
	return sub, ok
}

// Label renders "Category / Subcategory", or the bare id when unknown.
func (c *Catalogue) Label(id int64) string {
	sub, ok := c.subcategories[id]
	if !ok {
		return fmt.Sprintf("subcategory %d", id)
	}
	return c.categories[sub.CategoryID].Name + " / " + sub.Name
}

// SubcategoryIDs returns every subcategory id in ascending order.
func (c *Catalogue) SubcategoryIDs() []int64 {
	ids := make([]int64, 0, len(c.subcategories))
	for id := range c.subcategories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Default is the catalogue written by init.
func Default() *Catalogue {
	c := &Catalogue{Categories: []Category{
		{ID: 1, Name: "Academics", Subcategories: []Subcategory{
			{ID: 1, Name: "Mathematics"},
			{ID: 2, Name: "Reading"},
			{ID: 3, Name: "Writing"},
			{ID: 4, Name: "Science"},
			{ID: 5, Name: "Languages"},
		}},
		{ID: 2, Name: "Creative", Subcategories: []Subcategory{
			{ID: 6, Name: "Music"},
			{ID: 7, Name: "Art"},
		}},
		{ID: 3, Name: "Life skills", Subcategories: []Subcategory{
			{ID: 8, Name: "Sport"},
			{ID: 9, Name: "Coding"},
		}},
	}}
	c.index()
	return c
}
