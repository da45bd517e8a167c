package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gogetter/internal/goals"
)

// AddCheckIn records progress against a task. Check-ins are never deleted,
// whatever later happens to the task.
func (q queries) AddCheckIn(ctx context.Context, c *goals.CheckIn) error {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := q.q.ExecContext(ctx,
		"INSERT INTO check_ins (task_id, go_getter_id, note, created_at) VALUES (?, ?, ?, ?)",
		c.TaskID, c.GoGetterID, c.Note, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert check-in: %w", err)
	}
	id, err := insertID(res)
	if err != nil {
		return err
	}
	c.ID = id
	c.CreatedAt = now
	return nil
}

// ListCheckIns returns a task's check-ins, oldest first.
func (q queries) ListCheckIns(ctx context.Context, taskID int64) ([]goals.CheckIn, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT id, task_id, go_getter_id, note, created_at FROM check_ins WHERE task_id = ? ORDER BY id",
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query check-ins: %w", err)
	}
	defer rows.Close()

	var out []goals.CheckIn
	for rows.Next() {
		var c goals.CheckIn
		var note, createdAt sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &c.GoGetterID, &note, &createdAt); err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		c.Note = note.String
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check-ins: %w", err)
	}
	return out, nil
}

// PlanIDForTask resolves the plan a task belongs to.
func (q queries) PlanIDForTask(ctx context.Context, taskID int64) (int64, error) {
	var planID int64
	err := q.q.QueryRowContext(ctx, `
		SELECT m.plan_id FROM tasks t JOIN weekly_milestones m ON m.id = t.milestone_id
		WHERE t.id = ?
	`, taskID).Scan(&planID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve task plan: %w", err)
	}
	return planID, nil
}

// CheckInCounts returns the number of check-ins per task of a plan. Tasks
// without check-ins are absent.
func (q queries) CheckInCounts(ctx context.Context, planID int64) (map[int64]int, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT c.task_id, COUNT(*) FROM check_ins c
		JOIN tasks t ON t.id = c.task_id
		JOIN weekly_milestones m ON m.id = t.milestone_id
		WHERE m.plan_id = ?
		GROUP BY c.task_id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("query check-in counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var taskID int64
		var n int
		if err := rows.Scan(&taskID, &n); err != nil {
			return nil, fmt.Errorf("scan check-in count: %w", err)
		}
		counts[taskID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check-in counts: %w", err)
	}
	return counts, nil
}
