// Package constraints holds the structural rules a proposed goal group is
// checked against. Every function here is pure.
package constraints

import (
	"fmt"
	"time"

	"gogetter/internal/goals"
)

// Limits are the configurable thresholds used by the rules.
type Limits struct {
	DailyMinutesCeiling int `yaml:"daily_minutes_ceiling" validate:"gte=1"`
	MinSpanDays         int `yaml:"min_span_days" validate:"gte=1"`
	MinPreferredDays    int `yaml:"min_preferred_days" validate:"gte=0,lte=7"`
}

// DefaultLimits returns the built-in thresholds.
func DefaultLimits() Limits {
	return Limits{
		DailyMinutesCeiling: 120,
		MinSpanDays:         7,
		MinPreferredDays:    3,
	}
}

// Candidate is a proposed window and set of targets.
type Candidate struct {
	WindowStart *time.Time
	WindowEnd   *time.Time
	Specs       []goals.TargetSpec
	Constraints goals.ConstraintMap
}

// ActivePlan is a live plan already owned by the go getter.
type ActivePlan struct {
	PlanID        int64
	Title         string
	TargetID      int64
	SubcategoryID int64
}

// Snapshot is the read-only live state the rules compare against. Only
// plans on active targets belong in ActivePlans.
type Snapshot struct {
	ActivePlans   []ActivePlan
	ActiveGroupID *int64
}

// Check runs every rule in catalogue order and returns the findings.
func Check(c Candidate, snap Snapshot, lim Limits) []goals.Risk {
	var risks []goals.Risk
	risks = append(risks, spanTooShort(c, lim)...)
	risks = append(risks, duplicateSubcategory(c)...)
	risks = append(risks, existingActiveSubcategory(c, snap)...)
	risks = append(risks, existingActiveGroup(snap)...)
	risks = append(risks, overload(c, lim)...)
	risks = append(risks, singleTargetOverload(c, lim)...)
	risks = append(risks, tooFewDays(c, lim)...)
	return risks
}

// CheckSpan reports a validation error when the window is shorter than the
// minimum span. Used by steps that reject bad windows synchronously.
func CheckSpan(start, end time.Time, lim Limits) error {
	if !end.After(start) {
		return fmt.Errorf("end_date must be after start_date")
	}
	if days := goals.SpanDays(start, end); days < lim.MinSpanDays {
		return fmt.Errorf("end_date must be at least %d days after start_date (got %d days)", lim.MinSpanDays, days)
	}
	return nil
}

func spanTooShort(c Candidate, lim Limits) []goals.Risk {
	if c.WindowStart == nil || c.WindowEnd == nil {
		return nil
	}
	span := goals.SpanDays(*c.WindowStart, *c.WindowEnd)
	if span >= lim.MinSpanDays {
		return nil
	}
	return []goals.Risk{{
		Code:    goals.RiskSpanTooShort,
		Level:   goals.LevelBlocker,
		Message: fmt.Sprintf("Plan span is %d days, minimum %d days required.", span, lim.MinSpanDays),
	}}
}

func duplicateSubcategory(c Candidate) []goals.Risk {
	var risks []goals.Risk
	seen := make(map[int64]bool, len(c.Specs))
	for _, spec := range c.Specs {
		if seen[spec.SubcategoryID] {
			risks = append(risks, goals.Risk{
				Code:          goals.RiskDuplicateSubcategory,
				Level:         goals.LevelBlocker,
				SubcategoryID: subcategory(spec.SubcategoryID),
				Message:       fmt.Sprintf("Subcategory %d appears more than once in target specs.", spec.SubcategoryID),
			})
		}
		seen[spec.SubcategoryID] = true
	}
	return risks
}

func existingActiveSubcategory(c Candidate, snap Snapshot) []goals.Risk {
	var risks []goals.Risk
	for _, spec := range c.Specs {
		for _, p := range snap.ActivePlans {
			if p.SubcategoryID != spec.SubcategoryID || p.TargetID == spec.TargetID {
				continue
			}
			risks = append(risks, goals.Risk{
				Code:          goals.RiskExistingActiveSubcategory,
				Level:         goals.LevelBlocker,
				SubcategoryID: subcategory(spec.SubcategoryID),
				Message: fmt.Sprintf(
					"Subcategory %d already has active plan #%d (%q) on another target. "+
						"It will not be replaced automatically; cancel or complete it first.",
					spec.SubcategoryID, p.PlanID, p.Title),
			})
			break
		}
	}
	return risks
}

func existingActiveGroup(snap Snapshot) []goals.Risk {
	if snap.ActiveGroupID == nil {
		return nil
	}
	return []goals.Risk{{
		Code:  goals.RiskExistingActiveGroup,
		Level: goals.LevelWarning,
		Message: fmt.Sprintf(
			"This go getter already has active goal group #%d. Confirming will attempt to create another one.",
			*snap.ActiveGroupID),
	}}
}

func overload(c Candidate, lim Limits) []goals.Risk {
	if len(c.Specs) < 2 {
		return nil
	}
	total := 0
	for _, spec := range c.Specs {
		total += c.Constraints.For(spec.SubcategoryID).Minutes()
	}
	if total <= lim.DailyMinutesCeiling {
		return nil
	}
	return []goals.Risk{{
		Code:  goals.RiskOverload,
		Level: goals.LevelWarning,
		Message: fmt.Sprintf(
			"Total daily study time across all targets is %d minutes, above the recommended %d.",
			total, lim.DailyMinutesCeiling),
	}}
}

func singleTargetOverload(c Candidate, lim Limits) []goals.Risk {
	var risks []goals.Risk
	for _, spec := range c.Specs {
		minutes := c.Constraints.For(spec.SubcategoryID).Minutes()
		if minutes <= lim.DailyMinutesCeiling {
			continue
		}
		risks = append(risks, goals.Risk{
			Code:          goals.RiskSingleTargetOverload,
			Level:         goals.LevelWarning,
			SubcategoryID: subcategory(spec.SubcategoryID),
			Message: fmt.Sprintf(
				"Target with subcategory %d has %d daily minutes, above the recommended %d.",
				spec.SubcategoryID, minutes, lim.DailyMinutesCeiling),
		})
	}
	return risks
}

func tooFewDays(c Candidate, lim Limits) []goals.Risk {
	var risks []goals.Risk
	for _, spec := range c.Specs {
		days := len(c.Constraints.For(spec.SubcategoryID).Days())
		if days >= lim.MinPreferredDays {
			continue
		}
		risks = append(risks, goals.Risk{
			Code:          goals.RiskTooFewDays,
			Level:         goals.LevelWarning,
			SubcategoryID: subcategory(spec.SubcategoryID),
			Message: fmt.Sprintf(
				"Target with subcategory %d has only %d preferred study day(s), at least %d recommended.",
				spec.SubcategoryID, days, lim.MinPreferredDays),
		})
	}
	return risks
}

func subcategory(id int64) *int64 {
	return &id
}
