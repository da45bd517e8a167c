package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gogetter/internal/goals"
)

// ErrStateChanged is returned when a conditional transition matched no row
// because the entity was no longer in the expected state.
var ErrStateChanged = errors.New("state changed concurrently")

const planColumns = `id, target_id, group_id, status, version, superseded_by_id, title,
	overview, start_date, end_date, total_weeks, created_at`

// ActivePlanRef is a lightweight view of an active plan and its target.
type ActivePlanRef struct {
	PlanID        int64
	PlanTitle     string
	Version       int
	TargetID      int64
	TargetStatus  goals.TargetStatus
	SubcategoryID int64
}

// InsertPlan writes a plan with its milestones and tasks and assigns IDs.
func (q queries) InsertPlan(ctx context.Context, p *goals.Plan) error {
	now := time.Now().UTC().Truncate(time.Second)
	if p.Status == "" {
		p.Status = goals.PlanDraft
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO plans (target_id, group_id, status, version, superseded_by_id, title, overview,
		                   start_date, end_date, total_weeks, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?)
	`, p.TargetID, nullID(p.GroupID), string(p.Status), p.Version, p.Title, p.Overview,
		formatDay(p.StartDate), formatDay(p.EndDate), p.TotalWeeks, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	planID, err := insertID(res)
	if err != nil {
		return err
	}
	p.ID = planID
	p.CreatedAt = now

	for i := range p.Milestones {
		m := &p.Milestones[i]
		m.PlanID = planID
		res, err := q.q.ExecContext(ctx, `
			INSERT INTO weekly_milestones (plan_id, week_number, title, description, start_date, end_date)
			VALUES (?, ?, ?, ?, ?, ?)
		`, planID, m.WeekNumber, m.Title, m.Description, formatDay(m.StartDate), formatDay(m.EndDate))
		if err != nil {
			return fmt.Errorf("insert milestone %d: %w", m.WeekNumber, err)
		}
		if m.ID, err = insertID(res); err != nil {
			return err
		}
		for j := range m.Tasks {
			task := &m.Tasks[j]
			task.MilestoneID = m.ID
			if task.Status == "" {
				task.Status = goals.TaskActive
			}
			res, err := q.q.ExecContext(ctx, `
				INSERT INTO tasks (milestone_id, day_of_week, sequence_in_day, title, description,
				                   estimated_minutes, task_type, xp_reward, is_optional, status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, m.ID, task.DayOfWeek, task.SequenceInDay, task.Title, task.Description,
				task.EstimatedMinutes, string(task.TaskType), task.XPReward, task.IsOptional, string(task.Status))
			if err != nil {
				return fmt.Errorf("insert task: %w", err)
			}
			if task.ID, err = insertID(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// NextPlanVersion returns one more than the highest version for a target.
func (q queries) NextPlanVersion(ctx context.Context, targetID int64) (int, error) {
	var version int
	err := q.q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM plans WHERE target_id = ?", targetID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("next plan version: %w", err)
	}
	return version, nil
}

// GetPlan retrieves a plan header without milestones.
func (q queries) GetPlan(ctx context.Context, id int64) (*goals.Plan, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// GetPlanDetail retrieves a plan with its milestones and tasks.
func (q queries) GetPlanDetail(ctx context.Context, id int64) (*goals.Plan, error) {
	p, err := q.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := q.q.QueryContext(ctx, `
		SELECT id, plan_id, week_number, title, description, start_date, end_date
		FROM weekly_milestones WHERE plan_id = ? ORDER BY week_number, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query milestones: %w", err)
	}
	index := make(map[int64]int)
	for rows.Next() {
		var m goals.WeeklyMilestone
		var description sql.NullString
		var start, end string
		if err := rows.Scan(&m.ID, &m.PlanID, &m.WeekNumber, &m.Title, &description, &start, &end); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		m.Description = description.String
		m.StartDate = parseDay(start)
		m.EndDate = parseDay(end)
		index[m.ID] = len(p.Milestones)
		p.Milestones = append(p.Milestones, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	rows.Close()

	tasks, err := q.queryTasks(ctx, `
		SELECT t.id, t.milestone_id, t.day_of_week, t.sequence_in_day, t.title, t.description,
		       t.estimated_minutes, t.task_type, t.xp_reward, t.is_optional, t.status
		FROM tasks t JOIN weekly_milestones m ON m.id = t.milestone_id
		WHERE m.plan_id = ?
		ORDER BY m.week_number, t.day_of_week, t.sequence_in_day, t.id
	`, id)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if i, ok := index[task.MilestoneID]; ok {
			p.Milestones[i].Tasks = append(p.Milestones[i].Tasks, task)
		}
	}
	return p, nil
}

// ListPlans returns every version of a target's plans, newest first.
func (q queries) ListPlans(ctx context.Context, targetID int64) ([]goals.Plan, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+planColumns+" FROM plans WHERE target_id = ? ORDER BY version DESC, id DESC", targetID)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var out []goals.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return out, nil
}

// ActivePlanForTarget returns the target's active plan, or nil if none.
// More than one active plan is reported as an error.
func (q queries) ActivePlanForTarget(ctx context.Context, targetID int64) (*goals.Plan, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+planColumns+" FROM plans WHERE target_id = ? AND status = 'active' ORDER BY id", targetID)
	if err != nil {
		return nil, fmt.Errorf("query active plan: %w", err)
	}
	defer rows.Close()

	var found []*goals.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("target %d has %d active plans", targetID, len(found))
	}
}

// CountActivePlans counts active plans for a target.
func (q queries) CountActivePlans(ctx context.Context, targetID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM plans WHERE target_id = ? AND status = 'active'", targetID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active plans: %w", err)
	}
	return n, nil
}

// ActivePlans lists every active plan on any of a go getter's targets.
func (q queries) ActivePlans(ctx context.Context, goGetterID int64) ([]ActivePlanRef, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT p.id, p.title, p.version, t.id, t.status, t.subcategory_id
		FROM plans p JOIN targets t ON t.id = p.target_id
		WHERE t.go_getter_id = ? AND p.status = 'active'
		ORDER BY p.id
	`, goGetterID)
	if err != nil {
		return nil, fmt.Errorf("query active plans: %w", err)
	}
	defer rows.Close()

	var out []ActivePlanRef
	for rows.Next() {
		var ref ActivePlanRef
		var status string
		if err := rows.Scan(&ref.PlanID, &ref.PlanTitle, &ref.Version, &ref.TargetID, &status, &ref.SubcategoryID); err != nil {
			return nil, fmt.Errorf("scan active plan: %w", err)
		}
		ref.TargetStatus = goals.TargetStatus(status)
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active plans: %w", err)
	}
	return out, nil
}

// TransitionPlan moves a plan from one status to another. It returns
// ErrStateChanged if the plan was not in the expected status.
func (q queries) TransitionPlan(ctx context.Context, id int64, from, to goals.PlanStatus) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE plans SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), formatTime(time.Now()), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("plan %d %s -> %s: %w", id, from, to, ErrStateChanged)
	}
	return nil
}

// SupersedePlan retires an active plan in favour of its successor.
func (q queries) SupersedePlan(ctx context.Context, oldID, newID int64) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE plans SET status = 'superseded', superseded_by_id = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
	`, newID, formatTime(time.Now()), oldID)
	if err != nil {
		return fmt.Errorf("supersede plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("plan %d active -> superseded: %w", oldID, ErrStateChanged)
	}
	return nil
}

// SetPlanGroup links a plan to a goal group.
func (q queries) SetPlanGroup(ctx context.Context, planID, groupID int64) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE plans SET group_id = ?, updated_at = ? WHERE id = ?",
		groupID, formatTime(time.Now()), planID,
	)
	if err != nil {
		return fmt.Errorf("set plan group: %w", err)
	}
	return expectOne(res, "plan", planID)
}

// CancelDraftPlans cancels the listed plans that are still drafts and
// returns how many changed. Plans in any other status are left alone.
func (q queries) CancelDraftPlans(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(time.Now()))
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := q.q.ExecContext(ctx,
		"UPDATE plans SET status = 'cancelled', updated_at = ? WHERE status = 'draft' AND id IN ("+placeholders(len(ids))+")",
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel draft plans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// SupersedeTasksFrom marks active tasks in milestones starting on or after
// from as superseded. Earlier weeks are never touched.
func (q queries) SupersedeTasksFrom(ctx context.Context, planID int64, from time.Time) (int, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE tasks SET status = 'superseded'
		WHERE status = 'active' AND milestone_id IN (
			SELECT id FROM weekly_milestones WHERE plan_id = ? AND start_date >= ?
		)
	`, planID, formatDay(from))
	if err != nil {
		return 0, fmt.Errorf("supersede tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// GetTask retrieves a single task.
func (q queries) GetTask(ctx context.Context, id int64) (*goals.Task, error) {
	tasks, err := q.queryTasks(ctx, `
		SELECT id, milestone_id, day_of_week, sequence_in_day, title, description,
		       estimated_minutes, task_type, xp_reward, is_optional, status
		FROM tasks WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return &tasks[0], nil
}

func (q queries) queryTasks(ctx context.Context, query string, args ...any) ([]goals.Task, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []goals.Task
	for rows.Next() {
		var t goals.Task
		var description sql.NullString
		var taskType, status string
		err := rows.Scan(&t.ID, &t.MilestoneID, &t.DayOfWeek, &t.SequenceInDay, &t.Title, &description,
			&t.EstimatedMinutes, &taskType, &t.XPReward, &t.IsOptional, &status)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Description = description.String
		t.TaskType = goals.TaskType(taskType)
		t.Status = goals.TaskStatus(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

func scanPlan(row scanner) (*goals.Plan, error) {
	var p goals.Plan
	var groupID, supersededBy sql.NullInt64
	var status, start, end string
	var overview, createdAt sql.NullString
	err := row.Scan(&p.ID, &p.TargetID, &groupID, &status, &p.Version, &supersededBy, &p.Title,
		&overview, &start, &end, &p.TotalWeeks, &createdAt)
	if err != nil {
		return nil, err
	}
	p.GroupID = idPtr(groupID)
	p.SupersededByID = idPtr(supersededBy)
	p.Status = goals.PlanStatus(status)
	p.Overview = overview.String
	p.StartDate = parseDay(start)
	p.EndDate = parseDay(end)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}
