package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gogetter/internal/goals"
)

// CreateBestPal inserts a sponsor.
func (q queries) CreateBestPal(ctx context.Context, name string) (*goals.BestPal, error) {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := q.q.ExecContext(ctx,
		"INSERT INTO best_pals (name, created_at) VALUES (?, ?)",
		name, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert best pal: %w", err)
	}
	id, err := insertID(res)
	if err != nil {
		return nil, err
	}
	return &goals.BestPal{ID: id, Name: name, CreatedAt: now}, nil
}

// GetBestPal retrieves a sponsor by ID.
func (q queries) GetBestPal(ctx context.Context, id int64) (*goals.BestPal, error) {
	var bp goals.BestPal
	var createdAt sql.NullString
	err := q.q.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM best_pals WHERE id = ?", id,
	).Scan(&bp.ID, &bp.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("best pal %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get best pal: %w", err)
	}
	bp.CreatedAt = parseTime(createdAt)
	return &bp, nil
}

// CreateGoGetter inserts a learner, optionally owned by a best pal.
func (q queries) CreateGoGetter(ctx context.Context, g *goals.GoGetter) error {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO go_getters (best_pal_id, name, grade, created_at)
		VALUES (?, ?, ?, ?)
	`, nullID(g.BestPalID), g.Name, g.Grade, formatTime(now))
	if err != nil {
		return fmt.Errorf("insert go getter: %w", err)
	}
	id, err := insertID(res)
	if err != nil {
		return err
	}
	g.ID = id
	g.CreatedAt = now
	return nil
}

// GetGoGetter retrieves a learner by ID.
func (q queries) GetGoGetter(ctx context.Context, id int64) (*goals.GoGetter, error) {
	row := q.q.QueryRowContext(ctx,
		"SELECT id, best_pal_id, name, grade, created_at FROM go_getters WHERE id = ?", id,
	)
	g, err := scanGoGetter(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("go getter %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get go getter: %w", err)
	}
	return g, nil
}

// ListGoGetters returns all learners ordered by ID.
func (q queries) ListGoGetters(ctx context.Context) ([]goals.GoGetter, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT id, best_pal_id, name, grade, created_at FROM go_getters ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("query go getters: %w", err)
	}
	defer rows.Close()

	var out []goals.GoGetter
	for rows.Next() {
		g, err := scanGoGetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan go getter: %w", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate go getters: %w", err)
	}
	return out, nil
}

func scanGoGetter(row scanner) (*goals.GoGetter, error) {
	var g goals.GoGetter
	var bestPalID sql.NullInt64
	var createdAt sql.NullString
	if err := row.Scan(&g.ID, &bestPalID, &g.Name, &g.Grade, &createdAt); err != nil {
		return nil, err
	}
	g.BestPalID = idPtr(bestPalID)
	g.CreatedAt = parseTime(createdAt)
	return &g, nil
}
