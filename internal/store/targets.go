package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gogetter/internal/goals"
)

const targetColumns = `id, go_getter_id, subcategory_id, title, subject, description,
	priority, status, group_id, created_at`

// CreateTarget inserts a target. Callers are expected to have checked the
// one-active-target-per-subcategory rule in the same transaction.
func (q queries) CreateTarget(ctx context.Context, t *goals.Target) error {
	now := time.Now().UTC().Truncate(time.Second)
	if t.Status == "" {
		t.Status = goals.TargetActive
	}
	if t.Priority == 0 {
		t.Priority = goals.DefaultPriority
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO targets (go_getter_id, subcategory_id, title, subject, description,
		                     priority, status, group_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.GoGetterID, t.SubcategoryID, t.Title, t.Subject, t.Description,
		t.Priority, string(t.Status), nullID(t.GroupID), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	id, err := insertID(res)
	if err != nil {
		return err
	}
	t.ID = id
	t.CreatedAt = now
	return nil
}

// GetTarget retrieves a target by ID.
func (q queries) GetTarget(ctx context.Context, id int64) (*goals.Target, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+targetColumns+" FROM targets WHERE id = ?", id)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("target %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return t, nil
}

// ListTargets returns a go getter's targets ordered by ID.
func (q queries) ListTargets(ctx context.Context, goGetterID int64) ([]goals.Target, error) {
	return q.queryTargets(ctx,
		"SELECT "+targetColumns+" FROM targets WHERE go_getter_id = ? ORDER BY id", goGetterID)
}

// ListGroupTargets returns a group's targets, optionally filtered by status.
func (q queries) ListGroupTargets(ctx context.Context, groupID int64, status goals.TargetStatus) ([]goals.Target, error) {
	if status == "" {
		return q.queryTargets(ctx,
			"SELECT "+targetColumns+" FROM targets WHERE group_id = ? ORDER BY id", groupID)
	}
	return q.queryTargets(ctx,
		"SELECT "+targetColumns+" FROM targets WHERE group_id = ? AND status = ? ORDER BY id",
		groupID, string(status))
}

// ActiveTargetsForSubcategory returns active targets of a go getter in one subcategory.
func (q queries) ActiveTargetsForSubcategory(ctx context.Context, goGetterID, subcategoryID int64) ([]goals.Target, error) {
	return q.queryTargets(ctx, "SELECT "+targetColumns+` FROM targets
		WHERE go_getter_id = ? AND subcategory_id = ? AND status = 'active'
		ORDER BY id`, goGetterID, subcategoryID)
}

// SetTargetGroup links targets to a group.
func (q queries) SetTargetGroup(ctx context.Context, groupID int64, targetIDs ...int64) error {
	if len(targetIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(targetIDs)+1)
	args = append(args, groupID)
	for _, id := range targetIDs {
		args = append(args, id)
	}
	_, err := q.q.ExecContext(ctx,
		"UPDATE targets SET group_id = ? WHERE id IN ("+placeholders(len(targetIDs))+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("set target group: %w", err)
	}
	return nil
}

// SetTargetStatus moves a target to a new status.
func (q queries) SetTargetStatus(ctx context.Context, id int64, status goals.TargetStatus) error {
	res, err := q.q.ExecContext(ctx, "UPDATE targets SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("update target status: %w", err)
	}
	return expectOne(res, "target", id)
}

func (q queries) queryTargets(ctx context.Context, query string, args ...any) ([]goals.Target, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var out []goals.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return out, nil
}

func scanTarget(row scanner) (*goals.Target, error) {
	var t goals.Target
	var status string
	var groupID sql.NullInt64
	var createdAt sql.NullString
	err := row.Scan(&t.ID, &t.GoGetterID, &t.SubcategoryID, &t.Title, &t.Subject,
		&t.Description, &t.Priority, &status, &groupID, &createdAt)
	if err != nil {
		return nil, err
	}
	t.Status = goals.TargetStatus(status)
	t.GroupID = idPtr(groupID)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func expectOne(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
	}
	return nil
}
