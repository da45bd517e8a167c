package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"gogetter/internal/goals"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Scope is the input of the scope step. The window is [Start, End).
type Scope struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description,omitempty" validate:"max=2000"`
	Start       time.Time `json:"start_date" validate:"required"`
	End         time.Time `json:"end_date" validate:"required"`
}

// TargetInput names an existing target. Anything else about the target is
// read from storage.
type TargetInput struct {
	TargetID int64 `json:"target_id" validate:"required,gt=0"`
	Priority int   `json:"priority,omitempty" validate:"omitempty,min=1,max=5"`
}

// Patch is a partial update applied by Adjust. Targets are merged by id,
// RemoveTargets drops specs, Constraints entries replace existing ones.
type Patch struct {
	Targets       []TargetInput       `json:"targets,omitempty"`
	RemoveTargets []int64             `json:"remove_targets,omitempty"`
	Constraints   goals.ConstraintMap `json:"constraints,omitempty"`
}

func (p Patch) empty() bool {
	return len(p.Targets) == 0 && len(p.RemoveTargets) == 0 && len(p.Constraints) == 0
}

func validateTargets(op string, inputs []TargetInput) error {
	if len(inputs) == 0 {
		return goals.Validationf(op, "at least one target is required")
	}
	for i, in := range inputs {
		if err := validate.Struct(in); err != nil {
			return invalid(op, fmt.Sprintf("targets[%d]", i), err)
		}
	}
	return nil
}

func validateConstraints(op string, m goals.ConstraintMap) error {
	for _, key := range m.Keys() {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id <= 0 {
			return goals.Validationf(op, "constraint key %q is not a subcategory id", key)
		}
		c := m[key]
		if c.DailyMinutes != nil {
			if err := validate.Var(*c.DailyMinutes, "min=1,max=1440"); err != nil {
				return invalid(op, key+".daily_minutes", err)
			}
		}
		if err := validate.Var(c.PreferredDays, "unique,dive,min=0,max=6"); err != nil {
			return invalid(op, key+".preferred_days", err)
		}
	}
	return nil
}

// invalid renders validator failures as a single validation error.
func invalid(op, field string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return goals.Validationf(op, "%s: %v", field, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := field
		if fe.Field() != "" {
			name = field + "." + fe.Field()
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", name, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", name, fe.Tag()))
		}
	}
	return goals.Validationf(op, "%s", strings.Join(msgs, "; "))
}
