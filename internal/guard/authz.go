package guard

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"gogetter/internal/goals"
)

// Capability names an operation class checked once per public operation.
type Capability string

const (
	CapWizardRead  Capability = "wizard.read"
	CapWizardWrite Capability = "wizard.write"
	CapGroupRead   Capability = "group.read"
	CapGroupWrite  Capability = "group.write"
	CapTargetWrite Capability = "target.write"
	CapPlanRead    Capability = "plan.read"
	CapCheckIn     Capability = "plan.checkin"
)

// Policy mirrors permissions.yml.
type Policy struct {
	// Roles maps a role to its capabilities. "*" grants everything.
	Roles map[goals.Role][]Capability `yaml:"roles"`

	// Rules lists ownership rules: owner_match, delegated_explicitly.
	Rules []string `yaml:"rules"`

	// Delegations maps a best pal id to extra go getter ids it may act for.
	Delegations map[string][]int64 `yaml:"delegations"`
}

// DefaultPolicy lets best pals manage the go getters they own and lets go
// getters read their own records.
func DefaultPolicy() *Policy {
	return &Policy{
		Roles: map[goals.Role][]Capability{
			goals.RoleAdmin:    {"*"},
			goals.RoleBestPal:  {CapWizardRead, CapWizardWrite, CapGroupRead, CapGroupWrite, CapTargetWrite, CapPlanRead, CapCheckIn},
			goals.RoleGoGetter: {CapWizardRead, CapGroupRead, CapPlanRead, CapCheckIn},
		},
		Rules: []string{"owner_match"},
	}
}

// LoadPolicy reads a permissions YAML file. A missing file yields the
// default policy.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read permissions file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse permissions file: %w", err)
	}
	if len(p.Roles) == 0 {
		p.Roles = DefaultPolicy().Roles
	}
	return &p, nil
}

// Authorize is the single authorization gate for an operation on behalf of
// gg. Admins always pass.
func (p *Policy) Authorize(actor goals.Actor, gg *goals.GoGetter, capability Capability) error {
	op := string(capability)
	if actor.Role == goals.RoleAdmin {
		return nil
	}
	if p == nil || gg == nil {
		return goals.Forbiddenf(op, "%s is not allowed", actor)
	}
	if !p.grants(actor.Role, capability) {
		return goals.Forbiddenf(op, "%s may not %s", actor, capability)
	}
	switch actor.Role {
	case goals.RoleBestPal:
		if p.hasRule("owner_match") && gg.BestPalID != nil && *gg.BestPalID == actor.ID {
			return nil
		}
		if p.hasRule("delegated_explicitly") && p.isDelegated(actor.ID, gg.ID) {
			return nil
		}
	case goals.RoleGoGetter:
		if actor.ID == gg.ID {
			return nil
		}
	}
	return goals.Forbiddenf(op, "%s may not act for go getter %d", actor, gg.ID)
}

func (p *Policy) grants(role goals.Role, capability Capability) bool {
	for _, c := range p.Roles[role] {
		if c == "*" || c == capability {
			return true
		}
	}
	return false
}

func (p *Policy) hasRule(rule string) bool {
	for _, r := range p.Rules {
		if strings.TrimSpace(r) == rule {
			return true
		}
	}
	return false
}

func (p *Policy) isDelegated(bestPalID, goGetterID int64) bool {
	for _, id := range p.Delegations[strconv.FormatInt(bestPalID, 10)] {
		if id == goGetterID {
			return true
		}
	}
	return false
}
