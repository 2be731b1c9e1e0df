package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-orchestrator/internal/trigger"
)

// TeaserRepository is the calendar_teasers table.
type TeaserRepository struct {
	DB     *sql.DB
	Logger zerolog.Logger
}

func (r *TeaserRepository) TeaserExists(ctx context.Context, slug, locale string) (bool, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*)
        FROM calendar_teasers
        WHERE slug = $1 AND locale = $2`, slug, locale).Scan(&count)
	if err != nil {
		r.Logger.Warn().Err(err).Str("slug", slug).Str("locale", locale).Msg("teaser exists query failed")
		return false, err
	}
	return count > 0, nil
}

// InsertTeaser adds t. A row inserted concurrently for the same slug and locale
// is left as it is.
func (r *TeaserRepository) InsertTeaser(ctx context.Context, t trigger.Teaser) error {
	query := `
        INSERT INTO calendar_teasers (slug, locale, title, publish_on, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (slug, locale) DO NOTHING
    `
	if _, err := r.DB.ExecContext(ctx, query, t.Slug, t.Locale, t.Title, t.PublishOn); err != nil {
		return fmt.Errorf("insert teaser %s/%s: %w", t.Slug, t.Locale, err)
	}
	return nil
}

// ListTeasers lists the calendar entries publishing on or after from.
func (r *TeaserRepository) ListTeasers(ctx context.Context, from time.Time) ([]trigger.Teaser, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT slug, locale, title, publish_on
        FROM calendar_teasers
        WHERE publish_on >= $1
        ORDER BY publish_on, slug, locale`, from)
	if err != nil {
		return nil, fmt.Errorf("query teasers: %w", err)
	}
	defer rows.Close()

	teasers := []trigger.Teaser{}
	for rows.Next() {
		var t trigger.Teaser
		if err := rows.Scan(&t.Slug, &t.Locale, &t.Title, &t.PublishOn); err != nil {
			return nil, err
		}
		teasers = append(teasers, t)
	}
	return teasers, rows.Err()
}
