package taxonomy

import (
	"fmt"
	"strings"
)

// ValidationError captures a single field-specific validation issue.
type ValidationError struct {
	File    string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Message)
}

// ValidationErrors aggregates multiple validation problems.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}

func validate(c *Catalogue, source string) ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{File: source, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if len(c.Categories) == 0 {
		add("categories", "must contain at least one category")
	}

	catSeen := make(map[int64]string)
	subSeen := make(map[int64]string)
	for i, cat := range c.Categories {
		path := fmt.Sprintf("categories[%d]", i)
		if cat.ID <= 0 {
			add(path+".id", "must be a positive integer")
		} else if prev, ok := catSeen[cat.ID]; ok {
			add(path+".id", "id %d already used by %s", cat.ID, prev)
		} else {
			catSeen[cat.ID] = path
		}
		if strings.TrimSpace(cat.Name) == "" {
			add(path+".name", "is required")
		}
		if len(cat.Subcategories) == 0 {
			add(path+".subcategories", "must contain at least one subcategory")
		}

		for j, sub := range cat.Subcategories {
			subPath := fmt.Sprintf("%s.subcategories[%d]", path, j)
			if sub.ID <= 0 {
				add(subPath+".id", "must be a positive integer")
			} else if prev, ok := subSeen[sub.ID]; ok {
				add(subPath+".id", "id %d already used by %s", sub.ID, prev)
			} else {
				subSeen[sub.ID] = subPath
			}
			if strings.TrimSpace(sub.Name) == "" {
				add(subPath+".name", "is required")
			}
		}
	}
	return errs
}
