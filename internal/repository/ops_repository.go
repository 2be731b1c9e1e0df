package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/outreach-orchestrator/internal/trigger"
)

// OpsRepository backs the operational checks: the deadlines, deploys and
// direct_messages tables.
type OpsRepository struct {
	DB *sql.DB
}

func (r *OpsRepository) UpcomingDeadlines(ctx context.Context, now time.Time) ([]trigger.Deadline, error) {
	query := `
        SELECT id, title, COALESCE(title_es, ''), due_at, COALESCE(url, '')
        FROM deadlines
        WHERE due_at >= $1 AND done = FALSE
        ORDER BY due_at
    `
	rows, err := r.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query deadlines: %w", err)
	}
	defer rows.Close()

	deadlines := []trigger.Deadline{}
	for rows.Next() {
		var d trigger.Deadline
		if err := rows.Scan(&d.ID, &d.Title, &d.TitleES, &d.Due, &d.URL); err != nil {
			return nil, err
		}
		deadlines = append(deadlines, d)
	}
	return deadlines, rows.Err()
}

func (r *OpsRepository) LatestDeploy(ctx context.Context) (*trigger.DeployStatus, error) {
	query := `
        SELECT id, service, state, COALESCE(url, ''), created_at
        FROM deploys
        ORDER BY created_at DESC
        LIMIT 1
    `
	var d trigger.DeployStatus
	err := r.DB.QueryRowContext(ctx, query).Scan(&d.ID, &d.Service, &d.State, &d.URL, &d.At)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest deploy: %w", err)
	}
	return &d, nil
}

func (r *OpsRepository) PendingDMs(ctx context.Context) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM direct_messages WHERE replied_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending DMs: %w", err)
	}
	return count, nil
}

var (
	_ trigger.DeadlineSource = (*OpsRepository)(nil)
	_ trigger.DeploySource   = (*OpsRepository)(nil)
	_ trigger.BacklogSource  = (*OpsRepository)(nil)
	_ trigger.TeaserStore    = (*TeaserRepository)(nil)
	_ trigger.TargetLoader   = (*TargetRepository)(nil)
	_ trigger.TargetLoader   = (*CachedTargetSource)(nil)
)
