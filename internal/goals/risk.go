package goals

import "time"

type RiskCode string

const (
	RiskSpanTooShort              RiskCode = "SPAN_TOO_SHORT"
	RiskDuplicateSubcategory      RiskCode = "DUPLICATE_SUBCATEGORY"
	RiskExistingActiveSubcategory RiskCode = "EXISTING_ACTIVE_SUBCATEGORY"
	RiskExistingActiveGroup       RiskCode = "EXISTING_ACTIVE_GROUP"
	RiskOverload                  RiskCode = "OVERLOAD"
	RiskSingleTargetOverload      RiskCode = "SINGLE_TARGET_OVERLOAD"
	RiskTooFewDays                RiskCode = "TOO_FEW_DAYS"
)

type RiskLevel string

const (
	LevelBlocker RiskLevel = "blocker"
	LevelWarning RiskLevel = "warning"
)

// Risk is one finding of the feasibility rules. Explanation is optional
// human-readable text and never affects the verdict.
type Risk struct {
	Code          RiskCode  `json:"code"`
	Level         RiskLevel `json:"level"`
	SubcategoryID *int64    `json:"subcategory_id,omitempty"`
	Message       string    `json:"message"`
	Explanation   string    `json:"explanation,omitempty"`
}

func (r Risk) Blocker() bool {
	return r.Level == LevelBlocker
}

type FeasibilityResult struct {
	Risks     []Risk    `json:"risks"`
	Passed    bool      `json:"passed"`
	CheckedAt time.Time `json:"checked_at"`
}

// NewFeasibilityResult derives the verdict from risks.
func NewFeasibilityResult(risks []Risk, at time.Time) FeasibilityResult {
	if risks == nil {
		risks = []Risk{}
	}
	passed := true
	for _, r := range risks {
		if r.Blocker() {
			passed = false
			break
		}
	}
	return FeasibilityResult{Risks: risks, Passed: passed, CheckedAt: at.UTC()}
}

// Blockers returns only the blocking risks.
func (f FeasibilityResult) Blockers() []Risk {
	var out []Risk
	for _, r := range f.Risks {
		if r.Blocker() {
			out = append(out, r)
		}
	}
	return out
}

// Codes returns the risk codes in order.
func (f FeasibilityResult) Codes() []RiskCode {
	codes := make([]RiskCode, 0, len(f.Risks))
	for _, r := range f.Risks {
		codes = append(codes, r.Code)
	}
	return codes
}
