package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gogetter/internal/goals"
)

const groupColumns = `id, go_getter_id, title, description, status, window_start, window_end,
	last_change_at, replan_status, constraints_json, created_at`

// CreateGoalGroup inserts a group with an idle re-plan token.
func (q queries) CreateGoalGroup(ctx context.Context, g *goals.GoalGroup) error {
	now := time.Now().UTC().Truncate(time.Second)
	if g.Status == "" {
		g.Status = goals.GroupActive
	}
	g.ReplanStatus = goals.ReplanIdle
	constraintsJSON, err := marshalJSON(g.Constraints)
	if err != nil {
		return err
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO goal_groups (go_getter_id, title, description, status, window_start, window_end,
		                         last_change_at, replan_status, constraints_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.GoGetterID, g.Title, g.Description, string(g.Status), formatDay(g.WindowStart),
		formatDay(g.WindowEnd), nullTime(g.LastChangeAt), string(g.ReplanStatus), constraintsJSON, formatTime(now))
	if err != nil {
		return fmt.Errorf("insert goal group: %w", err)
	}
	id, err := insertID(res)
	if err != nil {
		return err
	}
	g.ID = id
	g.CreatedAt = now
	return nil
}

// GetGoalGroup retrieves a group by ID.
func (q queries) GetGoalGroup(ctx context.Context, id int64) (*goals.GoalGroup, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM goal_groups WHERE id = ?", id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("goal group %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get goal group: %w", err)
	}
	return g, nil
}

// ActiveGroupForGoGetter returns the go getter's active group, or nil.
func (q queries) ActiveGroupForGoGetter(ctx context.Context, goGetterID int64) (*goals.GoalGroup, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+groupColumns+`
		FROM goal_groups WHERE go_getter_id = ? AND status = 'active'
		ORDER BY id LIMIT 1`, goGetterID)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active goal group: %w", err)
	}
	return g, nil
}

// CountActiveGroups counts a go getter's active groups.
func (q queries) CountActiveGroups(ctx context.Context, goGetterID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM goal_groups WHERE go_getter_id = ? AND status = 'active'", goGetterID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active groups: %w", err)
	}
	return n, nil
}

// CompareAndSwapReplan moves replan_status from one value to another in a
// single conditional update and reports whether this caller won.
func (q queries) CompareAndSwapReplan(ctx context.Context, groupID int64, from, to goals.ReplanStatus) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		"UPDATE goal_groups SET replan_status = ? WHERE id = ? AND replan_status = ?",
		string(to), groupID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("swap replan status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SetLastChange stamps the rate-limit anchor.
func (q queries) SetLastChange(ctx context.Context, groupID int64, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE goal_groups SET last_change_at = ? WHERE id = ?", formatTime(at), groupID)
	if err != nil {
		return fmt.Errorf("set last change: %w", err)
	}
	return expectOne(res, "goal group", groupID)
}

// TransitionGroup moves a group between statuses. A group that is no
// longer in from yields ErrStateChanged.
func (q queries) TransitionGroup(ctx context.Context, groupID int64, from, to goals.GroupStatus) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE goal_groups SET status = ? WHERE id = ? AND status = ?", string(to), groupID, string(from))
	if err != nil {
		return fmt.Errorf("transition goal group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("goal group %d %s -> %s: %w", groupID, from, to, ErrStateChanged)
	}
	return nil
}

// EndedActiveGroups lists active groups whose window closed before day.
func (q queries) EndedActiveGroups(ctx context.Context, day time.Time) ([]goals.GoalGroup, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+groupColumns+`
		FROM goal_groups WHERE status = 'active' AND window_end < ?
		ORDER BY id`, formatDay(day))
	if err != nil {
		return nil, fmt.Errorf("query ended groups: %w", err)
	}
	defer rows.Close()

	var out []goals.GoalGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal group: %w", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goal groups: %w", err)
	}
	return out, nil
}

// RecordChange appends to a group's change log.
func (q queries) RecordChange(ctx context.Context, c *goals.GoalGroupChange) error {
	now := time.Now().UTC().Truncate(time.Second)
	oldJSON, err := marshalJSON(c.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := marshalJSON(c.NewValue)
	if err != nil {
		return err
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO goal_group_changes (group_id, change_type, target_id, old_value_json, new_value_json,
		                                triggered_replan_at, replan_plan_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.GroupID, string(c.ChangeType), nullID(c.TargetID), oldJSON, newJSON,
		nullTime(c.TriggeredReplanAt), nullID(c.ReplanPlanID), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert group change: %w", err)
	}
	id, err := insertID(res)
	if err != nil {
		return err
	}
	c.ID = id
	c.CreatedAt = now
	return nil
}

// MarkChangeReplanned records when a change's re-plan finished and which plan it produced.
func (q queries) MarkChangeReplanned(ctx context.Context, changeID int64, at time.Time, planID *int64) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE goal_group_changes SET triggered_replan_at = ?, replan_plan_id = ? WHERE id = ?",
		formatTime(at), nullID(planID), changeID,
	)
	if err != nil {
		return fmt.Errorf("mark change replanned: %w", err)
	}
	return expectOne(res, "group change", changeID)
}

// ListChanges returns a group's change log, oldest first.
func (q queries) ListChanges(ctx context.Context, groupID int64) ([]goals.GoalGroupChange, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, group_id, change_type, target_id, old_value_json, new_value_json,
		       triggered_replan_at, replan_plan_id, created_at
		FROM goal_group_changes WHERE group_id = ? ORDER BY id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group changes: %w", err)
	}
	defer rows.Close()

	var out []goals.GoalGroupChange
	for rows.Next() {
		var c goals.GoalGroupChange
		var changeType string
		var targetID, planID sql.NullInt64
		var oldJSON, newJSON, triggeredAt, createdAt sql.NullString
		err := rows.Scan(&c.ID, &c.GroupID, &changeType, &targetID, &oldJSON, &newJSON,
			&triggeredAt, &planID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan group change: %w", err)
		}
		c.ChangeType = goals.ChangeType(changeType)
		c.TargetID = idPtr(targetID)
		c.ReplanPlanID = idPtr(planID)
		c.TriggeredReplanAt = parseTimePtr(triggeredAt)
		c.CreatedAt = parseTime(createdAt)
		if err := unmarshalJSON(oldJSON, &c.OldValue); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(newJSON, &c.NewValue); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group changes: %w", err)
	}
	return out, nil
}

func scanGroup(row scanner) (*goals.GoalGroup, error) {
	var g goals.GoalGroup
	var description, lastChange, constraintsJSON, createdAt sql.NullString
	var status, start, end, replan string
	err := row.Scan(&g.ID, &g.GoGetterID, &g.Title, &description, &status, &start, &end,
		&lastChange, &replan, &constraintsJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	g.Description = description.String
	g.Status = goals.GroupStatus(status)
	g.WindowStart = parseDay(start)
	g.WindowEnd = parseDay(end)
	g.LastChangeAt = parseTimePtr(lastChange)
	g.ReplanStatus = goals.ReplanStatus(replan)
	g.CreatedAt = parseTime(createdAt)
	if err := unmarshalJSON(constraintsJSON, &g.Constraints); err != nil {
		return nil, err
	}
	return &g, nil
}
