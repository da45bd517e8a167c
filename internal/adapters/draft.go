package adapters

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"gogetter/internal/guardrails"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseDraft decodes a drafter response strictly and validates its fields.
func ParseDraft(data []byte) (*Draft, error) {
	var d Draft
	if err := guardrails.DecodeStrict(data, &d, "title", "weeks"); err != nil {
		return nil, err
	}
	if err := ValidateDraft(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ValidateDraft checks field constraints of a decoded draft.
func ValidateDraft(d *Draft) error {
	if d == nil {
		return fmt.Errorf("draft is nil")
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid draft: %w", err)
	}
	return nil
}
