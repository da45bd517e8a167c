package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gogetter/internal/goals"
)

const wizardColumns = `id, go_getter_id, state, title, description, window_start, window_end,
	target_specs_json, constraints_json, draft_plan_ids_json, generation_errors_json,
	feasibility_json, expires_at, goal_group_id, created_at, updated_at`

const nonTerminalWizard = "state NOT IN ('confirmed', 'cancelled', 'failed')"

// CreateWizard inserts a wizard record.
func (q queries) CreateWizard(ctx context.Context, w *goals.Wizard) error {
	now := time.Now().UTC().Truncate(time.Second)
	if w.State == "" {
		w.State = goals.WizardCollectingScope
	}
	w.CreatedAt = now
	w.UpdatedAt = now
	cols, err := wizardDocs(w)
	if err != nil {
		return err
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO wizards (go_getter_id, state, title, description, window_start, window_end,
		                     target_specs_json, constraints_json, draft_plan_ids_json,
		                     generation_errors_json, feasibility_json, expires_at, goal_group_id,
		                     created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.GoGetterID, string(w.State), w.Title, w.Description, nullDay(w.WindowStart), nullDay(w.WindowEnd),
		cols.specs, cols.constraints, cols.drafts, cols.errors, cols.feasibility,
		formatTime(w.ExpiresAt), nullID(w.GoalGroupID), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert wizard: %w", err)
	}
	id, err := insertID(res)
	if err != nil {
		return err
	}
	w.ID = id
	return nil
}

// GetWizard retrieves a wizard by ID.
func (q queries) GetWizard(ctx context.Context, id int64) (*goals.Wizard, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+wizardColumns+" FROM wizards WHERE id = ?", id)
	w, err := scanWizard(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("wizard %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get wizard: %w", err)
	}
	return w, nil
}

// ActiveWizardForGoGetter returns the go getter's non-terminal wizard, or nil.
func (q queries) ActiveWizardForGoGetter(ctx context.Context, goGetterID int64) (*goals.Wizard, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+wizardColumns+`
		FROM wizards WHERE go_getter_id = ? AND `+nonTerminalWizard+`
		ORDER BY id LIMIT 1`, goGetterID)
	w, err := scanWizard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active wizard: %w", err)
	}
	return w, nil
}

// CountActiveWizards counts a go getter's non-terminal wizards.
func (q queries) CountActiveWizards(ctx context.Context, goGetterID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM wizards WHERE go_getter_id = ? AND "+nonTerminalWizard, goGetterID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active wizards: %w", err)
	}
	return n, nil
}

// SaveWizard writes every mutable field of w, provided the stored state is
// still expect. A lost race yields ErrStateChanged.
func (q queries) SaveWizard(ctx context.Context, w *goals.Wizard, expect goals.WizardState) error {
	now := time.Now().UTC().Truncate(time.Second)
	cols, err := wizardDocs(w)
	if err != nil {
		return err
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE wizards
		SET state = ?, title = ?, description = ?, window_start = ?, window_end = ?,
		    target_specs_json = ?, constraints_json = ?, draft_plan_ids_json = ?,
		    generation_errors_json = ?, feasibility_json = ?, expires_at = ?, goal_group_id = ?,
		    updated_at = ?
		WHERE id = ? AND state = ?
	`, string(w.State), w.Title, w.Description, nullDay(w.WindowStart), nullDay(w.WindowEnd),
		cols.specs, cols.constraints, cols.drafts, cols.errors, cols.feasibility,
		formatTime(w.ExpiresAt), nullID(w.GoalGroupID), formatTime(now), w.ID, string(expect))
	if err != nil {
		return fmt.Errorf("update wizard: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("wizard %d no longer %s: %w", w.ID, expect, ErrStateChanged)
	}
	w.UpdatedAt = now
	return nil
}

// ListExpiredWizards returns non-terminal wizards whose TTL elapsed before now.
func (q queries) ListExpiredWizards(ctx context.Context, now time.Time) ([]goals.Wizard, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+wizardColumns+`
		FROM wizards WHERE `+nonTerminalWizard+` AND expires_at < ?
		ORDER BY id`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("query expired wizards: %w", err)
	}
	defer rows.Close()

	var out []goals.Wizard
	for rows.Next() {
		w, err := scanWizard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wizard: %w", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wizards: %w", err)
	}
	return out, nil
}

// CancelWizards moves the listed non-terminal wizards to cancelled and
// returns how many changed.
func (q queries) CancelWizards(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(time.Now()))
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := q.q.ExecContext(ctx,
		"UPDATE wizards SET state = 'cancelled', updated_at = ? WHERE "+nonTerminalWizard+
			" AND id IN ("+placeholders(len(ids))+")",
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel wizards: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

type wizardDocColumns struct {
	specs, constraints, drafts, errors, feasibility any
}

func wizardDocs(w *goals.Wizard) (wizardDocColumns, error) {
	var cols wizardDocColumns
	specs := w.TargetSpecs
	if specs == nil {
		specs = []goals.TargetSpec{}
	}
	constraints := w.Constraints
	if constraints == nil {
		constraints = goals.ConstraintMap{}
	}
	drafts := w.DraftPlanIDs
	if drafts == nil {
		drafts = []int64{}
	}
	var err error
	if cols.specs, err = marshalJSON(specs); err != nil {
		return cols, err
	}
	if cols.constraints, err = marshalJSON(constraints); err != nil {
		return cols, err
	}
	if cols.drafts, err = marshalJSON(drafts); err != nil {
		return cols, err
	}
	if len(w.GenerationErrors) > 0 {
		if cols.errors, err = marshalJSON(w.GenerationErrors); err != nil {
			return cols, err
		}
	}
	if w.Feasibility != nil {
		if cols.feasibility, err = marshalJSON(w.Feasibility); err != nil {
			return cols, err
		}
	}
	return cols, nil
}

func scanWizard(row scanner) (*goals.Wizard, error) {
	var w goals.Wizard
	var state string
	var title, description, start, end sql.NullString
	var specs, constraints, drafts, genErrors, feasibility sql.NullString
	var expiresAt, createdAt, updatedAt sql.NullString
	var groupID sql.NullInt64
	err := row.Scan(&w.ID, &w.GoGetterID, &state, &title, &description, &start, &end,
		&specs, &constraints, &drafts, &genErrors, &feasibility, &expiresAt, &groupID,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	w.State = goals.WizardState(state)
	w.Title = title.String
	w.Description = description.String
	w.WindowStart = parseDayPtr(start)
	w.WindowEnd = parseDayPtr(end)
	w.ExpiresAt = parseTime(expiresAt)
	w.GoalGroupID = idPtr(groupID)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)

	if err := unmarshalJSON(specs, &w.TargetSpecs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(constraints, &w.Constraints); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(drafts, &w.DraftPlanIDs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(genErrors, &w.GenerationErrors); err != nil {
		return nil, err
	}
	if feasibility.Valid && feasibility.String != "" {
		var res goals.FeasibilityResult
		if err := unmarshalJSON(feasibility, &res); err != nil {
			return nil, err
		}
		w.Feasibility = &res
	}
	return &w, nil
}
