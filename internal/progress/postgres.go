package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
)

// PostgresStore keeps checkpoints in the campaign_progress table, one row per key.
//
//	CREATE TABLE campaign_progress (
//	    progress_key TEXT PRIMARY KEY,
//	    campaign_id  TEXT NOT NULL,
//	    snapshot     JSONB NOT NULL,
//	    saved_at     TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	DB  *sql.DB
	Key string
}

func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO campaign_progress (progress_key, campaign_id, snapshot, saved_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (progress_key)
        DO UPDATE SET campaign_id = EXCLUDED.campaign_id, snapshot = EXCLUDED.snapshot, saved_at = EXCLUDED.saved_at
    `
	if _, err := s.DB.ExecContext(ctx, query, s.Key, snap.CampaignID, string(data), snap.SavedAt); err != nil {
		return appErrors.NewPersistenceError("save", fmt.Errorf("upsert progress %s: %w", s.Key, err))
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*Snapshot, error) {
	var data string
	err := s.DB.QueryRowContext(ctx, `SELECT snapshot FROM campaign_progress WHERE progress_key=$1`, s.Key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewPersistenceError("load", fmt.Errorf("select progress %s: %w", s.Key, err))
	}
	return decode([]byte(data))
}
