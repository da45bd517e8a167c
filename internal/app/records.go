package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"gogetter/internal/goals"
	"gogetter/internal/guard"
	"gogetter/internal/metrics"
	"gogetter/internal/planner"
	"gogetter/internal/store"
	"gogetter/internal/taxonomy"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Records manages the people, targets and plan views around the
// orchestration services.
type Records struct {
	store    *store.Store
	policy   *guard.Policy
	taxonomy *taxonomy.Catalogue
}

// NewRecords builds a Records over an existing store.
func NewRecords(s *store.Store, policy *guard.Policy, catalogue *taxonomy.Catalogue) *Records {
	return &Records{store: s, policy: policy, taxonomy: catalogue}
}

type NewGoGetter struct {
	Name      string `json:"name" validate:"required,max=100"`
	Grade     string `json:"grade" validate:"required,max=20"`
	BestPalID *int64 `json:"best_pal_id,omitempty" validate:"omitempty,gt=0"`
}

type NewTarget struct {
	GoGetterID    int64  `json:"go_getter_id" validate:"required,gt=0"`
	SubcategoryID int64  `json:"subcategory_id" validate:"required,gt=0"`
	Title         string `json:"title" validate:"required,max=200"`
	Subject       string `json:"subject" validate:"required,max=100"`
	Description   string `json:"description" validate:"max=2000"`
	Priority      int    `json:"priority,omitempty" validate:"omitempty,min=1,max=5"`
}

// PlanDiff is a unified diff between two versions of a target's plan.
type PlanDiff struct {
	FromID int64  `json:"from_id"`
	ToID   int64  `json:"to_id"`
	Diff   string `json:"diff"`
}

// AddBestPal is reserved to admins.
func (r *Records) AddBestPal(ctx context.Context, actor goals.Actor, name string) (*goals.BestPal, error) {
	const op = "records.add_best_pal"
	if actor.Role != goals.RoleAdmin {
		return nil, goals.Forbiddenf(op, "%s may not create best pals", actor)
	}
	name = strings.TrimSpace(name)
	if err := validate.Var(name, "required,max=100"); err != nil {
		return nil, goals.Validationf(op, "name: %v", err)
	}
	return r.store.CreateBestPal(ctx, name)
}

// AddGoGetter creates a learner. Best pals always own the learners they
// create.
func (r *Records) AddGoGetter(ctx context.Context, actor goals.Actor, in NewGoGetter) (*goals.GoGetter, error) {
	const op = "records.add_go_getter"
	switch actor.Role {
	case goals.RoleAdmin:
	case goals.RoleBestPal:
		id := actor.ID
		in.BestPalID = &id
	default:
		return nil, goals.Forbiddenf(op, "%s may not create go getters", actor)
	}
	if err := validate.Struct(in); err != nil {
		return nil, goals.Validationf(op, "%v", err)
	}
	if in.BestPalID != nil {
		if _, err := r.store.GetBestPal(ctx, *in.BestPalID); err != nil {
			return nil, store.Classify(op, err)
		}
	}
	gg := &goals.GoGetter{BestPalID: in.BestPalID, Name: in.Name, Grade: in.Grade}
	if err := r.store.CreateGoGetter(ctx, gg); err != nil {
		return nil, err
	}
	return gg, nil
}

// ListGoGetters returns the learners visible to actor.
func (r *Records) ListGoGetters(ctx context.Context, actor goals.Actor) ([]goals.GoGetter, error) {
	all, err := r.store.ListGoGetters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]goals.GoGetter, 0, len(all))
	for i := range all {
		if r.policy.Authorize(actor, &all[i], guard.CapPlanRead) == nil {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// AddTarget files a new active target under a known subcategory.
func (r *Records) AddTarget(ctx context.Context, actor goals.Actor, in NewTarget) (*goals.Target, error) {
	const op = "records.add_target"
	if err := validate.Struct(in); err != nil {
		return nil, goals.Validationf(op, "%v", err)
	}
	if _, ok := r.taxonomy.Subcategory(in.SubcategoryID); !ok {
		return nil, goals.Validationf(op, "unknown subcategory %d", in.SubcategoryID)
	}
	if _, err := r.authorized(ctx, actor, op, in.GoGetterID, guard.CapTargetWrite); err != nil {
		return nil, err
	}
	t := &goals.Target{
		GoGetterID:    in.GoGetterID,
		SubcategoryID: in.SubcategoryID,
		Title:         in.Title,
		Subject:       in.Subject,
		Description:   in.Description,
		Priority:      in.Priority,
	}
	if err := r.store.CreateTarget(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Records) ListTargets(ctx context.Context, actor goals.Actor, goGetterID int64) ([]goals.Target, error) {
	if _, err := r.authorized(ctx, actor, "records.list_targets", goGetterID, guard.CapPlanRead); err != nil {
		return nil, err
	}
	return r.store.ListTargets(ctx, goGetterID)
}

// ShowPlan returns a plan with its milestones and tasks.
func (r *Records) ShowPlan(ctx context.Context, actor goals.Actor, planID int64) (*goals.Plan, error) {
	const op = "records.show_plan"
	p, err := r.store.GetPlanDetail(ctx, planID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	if err := r.authorizedForTarget(ctx, actor, op, p.TargetID); err != nil {
		return nil, err
	}
	return p, nil
}

// DiffPlan compares a plan with another version of the same target. A
// zero against picks the version it superseded, or the next older one.
func (r *Records) DiffPlan(ctx context.Context, actor goals.Actor, planID, against int64) (*PlanDiff, error) {
	const op = "records.diff_plan"
	to, err := r.ShowPlan(ctx, actor, planID)
	if err != nil {
		return nil, err
	}
	if against == 0 {
		if against, err = r.predecessor(ctx, to); err != nil {
			return nil, err
		}
		if against == 0 {
			return nil, goals.NotFoundf(op, "plan %d has no earlier version", planID)
		}
	}
	from, err := r.store.GetPlanDetail(ctx, against)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	if from.TargetID != to.TargetID {
		return nil, goals.Validationf(op, "plans %d and %d belong to different targets", from.ID, to.ID)
	}
	text, err := planner.DiffPlans(from, to)
	if err != nil {
		return nil, err
	}
	return &PlanDiff{FromID: from.ID, ToID: to.ID, Diff: text}, nil
}

func (r *Records) predecessor(ctx context.Context, p *goals.Plan) (int64, error) {
	versions, err := r.store.ListPlans(ctx, p.TargetID)
	if err != nil {
		return 0, err
	}
	var older int64
	for _, v := range versions {
		if v.SupersededByID != nil && *v.SupersededByID == p.ID {
			return v.ID, nil
		}
		if older == 0 && v.Version < p.Version {
			older = v.ID
		}
	}
	return older, nil
}

// CheckIn records progress on a task for the task's go getter. Only
// active tasks accept new check-ins.
func (r *Records) CheckIn(ctx context.Context, actor goals.Actor, taskID int64, note string) (*goals.CheckIn, error) {
	const op = "records.check_in"
	if err := validate.Var(note, "max=1000"); err != nil {
		return nil, goals.Validationf(op, "note: %v", err)
	}
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	planID, err := r.store.PlanIDForTask(ctx, taskID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	plan, err := r.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	target, err := r.store.GetTarget(ctx, plan.TargetID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	if _, err := r.authorized(ctx, actor, op, target.GoGetterID, guard.CapCheckIn); err != nil {
		return nil, err
	}
	// A superseded plan keeps its frozen weeks live until they run out.
	if plan.Status != goals.PlanActive && plan.Status != goals.PlanSuperseded {
		return nil, goals.Conflictf(op, "task %d belongs to %s plan %d", task.ID, plan.Status, plan.ID)
	}
	if task.Status != goals.TaskActive {
		return nil, goals.Conflictf(op, "task %d is %s", task.ID, task.Status)
	}
	c := &goals.CheckIn{TaskID: task.ID, GoGetterID: target.GoGetterID, Note: note}
	if err := r.store.AddCheckIn(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Progress scores a plan's check-ins.
func (r *Records) Progress(ctx context.Context, actor goals.Actor, planID int64) (*metrics.PlanProgress, error) {
	p, err := r.ShowPlan(ctx, actor, planID)
	if err != nil {
		return nil, err
	}
	counts, err := r.store.CheckInCounts(ctx, planID)
	if err != nil {
		return nil, err
	}
	return metrics.ScorePlan(p, counts), nil
}

// RiskLabels maps each risk's subcategory to its taxonomy label.
func (r *Records) RiskLabels(res *goals.FeasibilityResult) map[int64]string {
	labels := make(map[int64]string)
	if res == nil {
		return labels
	}
	for _, risk := range res.Risks {
		if risk.SubcategoryID != nil {
			labels[*risk.SubcategoryID] = r.taxonomy.Label(*risk.SubcategoryID)
		}
	}
	return labels
}

func (r *Records) authorized(ctx context.Context, actor goals.Actor, op string, goGetterID int64, capability guard.Capability) (*goals.GoGetter, error) {
	gg, err := r.store.GetGoGetter(ctx, goGetterID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, goals.NotFoundf(op, "go getter %d not found", goGetterID)
	}
	if err != nil {
		return nil, fmt.Errorf("load go getter: %w", err)
	}
	if err := r.policy.Authorize(actor, gg, capability); err != nil {
		return nil, err
	}
	return gg, nil
}

func (r *Records) authorizedForTarget(ctx context.Context, actor goals.Actor, op string, targetID int64) error {
	t, err := r.store.GetTarget(ctx, targetID)
	if err != nil {
		return store.Classify(op, err)
	}
	_, err = r.authorized(ctx, actor, op, t.GoGetterID, guard.CapPlanRead)
	return err
}
